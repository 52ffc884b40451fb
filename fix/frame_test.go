package fix

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestNextFrameIncomplete(t *testing.T) {
	data := Encode(testHeader, 1, MsgTypeHeartbeat, nil, time.Now())
	buf := NewBuffer()
	buf.Write(data[:len(data)-1])

	frame, err := NextFrame(buf)
	if err != nil {
		t.Fatalf("unexpected error on partial frame: %v", err)
	}
	if frame != nil {
		t.Fatal("expected nil frame while the trailer is missing")
	}

	buf.Write(data[len(data)-1:])
	frame, err = NextFrame(buf)
	if err != nil {
		t.Fatalf("unexpected error on complete frame: %v", err)
	}
	if !bytes.Equal(frame, data) {
		t.Errorf("frame does not match encoded bytes")
	}
}

func TestNextFrameByteAtATime(t *testing.T) {
	data := Encode(testHeader, 2, MsgTypeTestRequest, []Field{{TagTestReqID, "42"}}, time.Now())
	buf := NewBuffer()

	for i, b := range data {
		buf.Write([]byte{b})
		frame, err := NextFrame(buf)
		if err != nil {
			t.Fatalf("error after byte %d: %v", i, err)
		}
		if i < len(data)-1 {
			if frame != nil {
				t.Fatalf("frame returned early after byte %d of %d", i+1, len(data))
			}
			continue
		}
		if frame == nil {
			t.Fatal("no frame after the final byte")
		}
		if !bytes.Equal(frame, data) {
			t.Error("frame does not match input")
		}
	}
	if buf.Len() != 0 {
		t.Errorf("buffer should be empty, has %d bytes", buf.Len())
	}
}

func TestNextFrameCoalescedMessages(t *testing.T) {
	first := Encode(testHeader, 1, MsgTypeHeartbeat, nil, time.Now())
	second := Encode(testHeader, 2, MsgTypeTestRequest, []Field{{TagTestReqID, "ping"}}, time.Now())

	buf := NewBuffer()
	buf.Write(first)
	buf.Write(second)

	frame, err := NextFrame(buf)
	if err != nil || !bytes.Equal(frame, first) {
		t.Fatalf("first frame wrong: err=%v", err)
	}
	frame, err = NextFrame(buf)
	if err != nil || !bytes.Equal(frame, second) {
		t.Fatalf("second frame wrong: err=%v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("buffer should be drained, has %d bytes", buf.Len())
	}
}

func TestNextFrameMultiDigitBodyLength(t *testing.T) {
	// A body past 100 bytes makes BodyLength three digits wide; the
	// frame boundary must follow the parsed value, not a fixed offset.
	body := []Field{
		{TagClOrdID, strings.Repeat("a", 64)},
		{TagText, strings.Repeat("b", 64)},
	}
	data := Encode(testHeader, 9, MsgTypeNewOrderSingle, body, time.Now())

	buf := NewBuffer()
	buf.Write(data)
	frame, err := NextFrame(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(frame, data) {
		t.Error("frame boundary wrong for multi-digit BodyLength")
	}
	if _, err := Decode(frame); err != nil {
		t.Errorf("framed message does not decode: %v", err)
	}
}

func TestNextFrameDiscardsGarbagePrefix(t *testing.T) {
	data := Encode(testHeader, 1, MsgTypeHeartbeat, nil, time.Now())
	buf := NewBuffer()
	buf.Write([]byte("NOISE"))
	buf.Write(data)

	if _, err := NextFrame(buf); err == nil {
		t.Fatal("expected a discard error for leading garbage")
	}
	frame, err := NextFrame(buf)
	if err != nil {
		t.Fatalf("unexpected error after resync: %v", err)
	}
	if !bytes.Equal(frame, data) {
		t.Error("frame after resync does not match")
	}
}

func TestNextFrameDiscardsPureGarbage(t *testing.T) {
	buf := NewBuffer()
	buf.Write([]byte("no fix content here"))

	if _, err := NextFrame(buf); err == nil {
		t.Fatal("expected a discard error")
	}
	if buf.Len() != 0 {
		t.Errorf("garbage should be fully discarded, %d bytes left", buf.Len())
	}
}
