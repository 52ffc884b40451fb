package fix

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SOH is the FIX field delimiter.
const SOH = byte(0x01)

// BeginString identifies the protocol revision spoken with the venue.
const BeginString = "FIX.4.4"

const checksumFieldLen = 7 // "10=" + 3 digits + SOH

// Field is one tag=value pair.
type Field struct {
	Tag   Tag
	Value string
}

// Message is an ordered list of fields. Order matters for header fields
// and for repeating groups, so fields are kept as a slice rather than a
// map.
type Message struct {
	fields []Field
}

// Append adds a field to the end of the message.
func (m *Message) Append(tag Tag, value string) {
	m.fields = append(m.fields, Field{Tag: tag, Value: value})
}

// Get returns the value of the first field with the given tag.
func (m *Message) Get(tag Tag) (string, bool) {
	for _, f := range m.fields {
		if f.Tag == tag {
			return f.Value, true
		}
	}
	return "", false
}

// String returns the first value for tag, or "" when absent.
func (m *Message) String(tag Tag) string {
	v, _ := m.Get(tag)
	return v
}

// Int parses the first value for tag as an integer.
func (m *Message) Int(tag Tag) (int, error) {
	v, ok := m.Get(tag)
	if !ok {
		return 0, fmt.Errorf("tag %d not present", tag)
	}
	return strconv.Atoi(v)
}

// Float parses the first value for tag as a float.
func (m *Message) Float(tag Tag) (float64, error) {
	v, ok := m.Get(tag)
	if !ok {
		return 0, fmt.Errorf("tag %d not present", tag)
	}
	return strconv.ParseFloat(v, 64)
}

// Decimal parses the first value for tag as a decimal price.
func (m *Message) Decimal(tag Tag) (decimal.Decimal, error) {
	v, ok := m.Get(tag)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("tag %d not present", tag)
	}
	return decimal.NewFromString(v)
}

// MsgType returns the value of tag 35.
func (m *Message) MsgType() string {
	return m.String(TagMsgType)
}

// Fields exposes the ordered field list.
func (m *Message) Fields() []Field {
	return m.fields
}

// Group is one instance of a repeating group.
type Group map[Tag]string

// Groups extracts repeating group instances. It locates countTag, then
// splits the following fields into instances whenever startTag reappears
// (or endTag is seen), accumulating at most count instances.
func (m *Message) Groups(countTag, startTag Tag, endTag ...Tag) []Group {
	var end Tag
	if len(endTag) > 0 {
		end = endTag[0]
	}

	count := -1
	var result []Group
	item := Group{}
	for _, f := range m.fields {
		if count < 0 {
			if f.Tag == countTag {
				n, err := strconv.Atoi(f.Value)
				if err != nil || n <= 0 {
					return nil
				}
				count = n
			}
			continue
		}
		if len(result) == count {
			break
		}
		if (f.Tag == startTag && len(item) > 0) || (end != 0 && f.Tag == end) {
			result = append(result, item)
			item = Group{}
		}
		item[f.Tag] = f.Value
	}
	if count > 0 && len(item) > 0 && len(result) < count {
		result = append(result, item)
	}
	return result
}

// Render returns the message with SOH replaced by '|' for logging.
func (m *Message) Render() string {
	var sb strings.Builder
	for _, f := range m.fields {
		fmt.Fprintf(&sb, "%d=%s|", f.Tag, f.Value)
	}
	return sb.String()
}

// Header carries the identity fields stamped onto every outgoing message
// of one session.
type Header struct {
	SenderCompID string
	TargetCompID string
	Sub          SubID
}

// UTCTimestamp renders t in the FIX sending-time format.
func UTCTimestamp(t time.Time) string {
	return t.UTC().Format("20060102-15:04:05")
}

// Encode assembles one outgoing message: fixed-order header fields, the
// body, a patched-in BodyLength and the trailing checksum. BodyLength
// counts the bytes from the field after BodyLength through the last body
// field, delimiters included. The checksum is the byte sum of everything
// before it, mod 256, rendered as exactly three digits.
func Encode(h Header, seq int, msgType string, body []Field, now time.Time) []byte {
	var inner bytes.Buffer
	writeField := func(tag Tag, value string) {
		inner.WriteString(strconv.Itoa(int(tag)))
		inner.WriteByte('=')
		inner.WriteString(value)
		inner.WriteByte(SOH)
	}

	writeField(TagMsgType, msgType)
	writeField(TagSenderCompID, h.SenderCompID)
	writeField(TagSenderSubID, string(h.Sub))
	writeField(TagTargetCompID, h.TargetCompID)
	writeField(TagTargetSubID, string(h.Sub))
	writeField(TagMsgSeqNum, strconv.Itoa(seq))
	writeField(TagSendingTime, UTCTimestamp(now))
	for _, f := range body {
		writeField(f.Tag, f.Value)
	}

	var out bytes.Buffer
	out.Grow(inner.Len() + 32)
	out.WriteString("8=")
	out.WriteString(BeginString)
	out.WriteByte(SOH)
	out.WriteString("9=")
	out.WriteString(strconv.Itoa(inner.Len()))
	out.WriteByte(SOH)
	out.Write(inner.Bytes())

	sum := 0
	for _, b := range out.Bytes() {
		sum += int(b)
	}
	fmt.Fprintf(&out, "10=%03d", sum%256)
	out.WriteByte(SOH)
	return out.Bytes()
}

// Decode parses one delimited frame into a Message. A malformed tag or
// checksum fails this message only; the caller drops it and keeps the
// session alive.
func Decode(frame []byte) (*Message, error) {
	msg := &Message{}
	parts := bytes.Split(frame, []byte{SOH})
	if len(parts) > 0 && len(parts[len(parts)-1]) == 0 {
		parts = parts[:len(parts)-1]
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty frame")
	}
	for _, part := range parts {
		eq := bytes.IndexByte(part, '=')
		if eq <= 0 {
			return nil, fmt.Errorf("malformed field %q", part)
		}
		tag, err := strconv.Atoi(string(part[:eq]))
		if err != nil {
			return nil, fmt.Errorf("malformed tag %q: %w", part[:eq], err)
		}
		msg.Append(Tag(tag), string(part[eq+1:]))
	}

	if err := verifyChecksum(frame, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func verifyChecksum(frame []byte, msg *Message) error {
	last := msg.fields[len(msg.fields)-1]
	if last.Tag != TagCheckSum {
		return fmt.Errorf("frame does not end in checksum field")
	}
	want, err := strconv.Atoi(last.Value)
	if err != nil {
		return fmt.Errorf("malformed checksum %q: %w", last.Value, err)
	}
	if len(frame) < checksumFieldLen {
		return fmt.Errorf("frame shorter than checksum field")
	}
	sum := 0
	for _, b := range frame[:len(frame)-checksumFieldLen] {
		sum += int(b)
	}
	if sum%256 != want {
		return fmt.Errorf("checksum mismatch: computed %03d, message carries %03d", sum%256, want)
	}
	return nil
}
