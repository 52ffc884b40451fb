package fix

import (
	"bytes"
	"fmt"
	"strconv"
)

var beginStringPrefix = []byte("8=" + BeginString)

// NextFrame extracts one complete message from the buffer, or returns
// nil when the buffered bytes do not yet hold one. A message's exact
// length is only known once the BodyLength field has been fully
// received, so the frame boundary is computed from the parsed BodyLength
// value rather than from any fixed-size initial read: the BodyLength
// digit count varies and must never be assumed to fit a fixed window.
func NextFrame(buf *Buffer) ([]byte, error) {
	data := buf.Peek(buf.Len())
	if len(data) == 0 {
		return nil, nil
	}

	if !bytes.HasPrefix(data, beginStringPrefix) {
		// Garbage before the next message start: discard up to the
		// next BeginString.
		if idx := bytes.Index(data[1:], beginStringPrefix); idx >= 0 {
			buf.Read(idx + 1)
			return nil, fmt.Errorf("discarded %d bytes before message start", idx+1)
		}
		// No full BeginString in sight. Trailing bytes that could be a
		// partially received one must stay buffered.
		keep := 0
		for k := len(beginStringPrefix) - 1; k > 0; k-- {
			if k <= len(data) && bytes.HasPrefix(beginStringPrefix, data[len(data)-k:]) {
				keep = k
				break
			}
		}
		n := len(data) - keep
		if n == 0 {
			return nil, nil
		}
		buf.Read(n)
		return nil, fmt.Errorf("discarded %d bytes with no message start", n)
	}

	// End of the BeginString field.
	i0 := bytes.IndexByte(data, SOH)
	if i0 < 0 {
		return nil, nil
	}
	rest := data[i0+1:]
	if len(rest) < 2 {
		return nil, nil
	}
	if rest[0] != '9' || rest[1] != '=' {
		buf.Read(i0 + 1)
		return nil, fmt.Errorf("BodyLength field missing after BeginString")
	}
	i1 := bytes.IndexByte(rest, SOH)
	if i1 < 0 {
		// BodyLength value not fully buffered yet.
		return nil, nil
	}
	bodyLen, err := strconv.Atoi(string(rest[2:i1]))
	if err != nil || bodyLen < 0 {
		buf.Read(i0 + 1 + i1 + 1)
		return nil, fmt.Errorf("malformed BodyLength %q", rest[2:i1])
	}

	total := i0 + 1 + i1 + 1 + bodyLen + checksumFieldLen
	if buf.Len() < total {
		return nil, nil
	}
	return buf.Read(total)
}
