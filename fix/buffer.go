package fix

import "fmt"

// Buffer is a FIFO byte accumulator sitting between a socket and the
// framing logic. Each session owns one; it carries no framing knowledge
// of its own.
type Buffer struct {
	data []byte
}

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Write appends data to the end of the buffer.
func (b *Buffer) Write(data []byte) {
	b.data = append(b.data, data...)
}

// Read returns and removes the first n bytes. Callers must check Len
// first; asking for more than is buffered is an error.
func (b *Buffer) Read(n int) ([]byte, error) {
	if n > len(b.data) {
		return nil, fmt.Errorf("buffer underflow: want %d bytes, have %d", n, len(b.data))
	}
	out := make([]byte, n)
	copy(out, b.data[:n])
	b.data = b.data[:copy(b.data, b.data[n:])]
	return out, nil
}

// Peek returns the first n bytes without consuming them. If fewer than n
// bytes are buffered it returns what is available.
func (b *Buffer) Peek(n int) []byte {
	if n > len(b.data) {
		n = len(b.data)
	}
	return b.data[:n]
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	return len(b.data)
}
