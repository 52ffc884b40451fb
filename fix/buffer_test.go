package fix

import (
	"bytes"
	"testing"
)

func TestBufferReadConsumes(t *testing.T) {
	b := NewBuffer()
	b.Write([]byte("hello"))
	b.Write([]byte("world"))

	if b.Len() != 10 {
		t.Fatalf("expected 10 buffered bytes, got %d", b.Len())
	}

	out, err := b.Read(5)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !bytes.Equal(out, []byte("hello")) {
		t.Errorf("expected hello, got %q", out)
	}
	if b.Len() != 5 {
		t.Errorf("expected 5 bytes remaining, got %d", b.Len())
	}

	out, err = b.Read(5)
	if err != nil {
		t.Fatalf("second read failed: %v", err)
	}
	if !bytes.Equal(out, []byte("world")) {
		t.Errorf("expected world, got %q", out)
	}
	if b.Len() != 0 {
		t.Errorf("expected empty buffer, got %d bytes", b.Len())
	}
}

func TestBufferReadUnderflow(t *testing.T) {
	b := NewBuffer()
	b.Write([]byte("abc"))
	if _, err := b.Read(4); err == nil {
		t.Fatal("expected underflow error reading past buffered bytes")
	}
	// The failed read must not consume anything.
	if b.Len() != 3 {
		t.Errorf("expected 3 bytes after failed read, got %d", b.Len())
	}
}

func TestBufferPeekDoesNotConsume(t *testing.T) {
	b := NewBuffer()
	b.Write([]byte("abcdef"))

	if got := b.Peek(3); !bytes.Equal(got, []byte("abc")) {
		t.Errorf("expected abc, got %q", got)
	}
	if b.Len() != 6 {
		t.Errorf("peek consumed bytes: len %d", b.Len())
	}
	// Peeking past the end returns what is available.
	if got := b.Peek(100); !bytes.Equal(got, []byte("abcdef")) {
		t.Errorf("expected full contents, got %q", got)
	}
}
