// Package limitbuf provides a buffer that keeps the first K bytes written to
// it and only counts the rest.
package limitbuf

import "io"

// Buffer accumulates up to a fixed number of bytes and then switches to
// counting-only mode. The zero value keeps nothing.
type Buffer struct {
	limit   int
	buf     []byte
	dropped int64
}

// New returns a Buffer that keeps at most limit bytes.
func New(limit int) *Buffer {
	if limit < 0 {
		limit = 0
	}
	return &Buffer{limit: limit}
}

// Write keeps as much of p as fits under the limit and counts the remainder.
// It never fails, so io.Copy into a Buffer drains the source completely.
func (b *Buffer) Write(p []byte) (int, error) {
	room := b.limit - len(b.buf)
	if room > len(p) {
		room = len(p)
	}
	if room > 0 {
		b.buf = append(b.buf, p[:room]...)
	}
	b.dropped += int64(len(p) - room)
	return len(p), nil
}

// ReadFrom drains r into the buffer.
func (b *Buffer) ReadFrom(r io.Reader) (int64, error) {
	chunk := make([]byte, 32*1024)
	var total int64
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			b.Write(chunk[:n])
			total += int64(n)
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

// Bytes returns the kept prefix. The slice aliases the buffer.
func (b *Buffer) Bytes() []byte {
	return b.buf
}

// Len returns the number of kept bytes.
func (b *Buffer) Len() int {
	return len(b.buf)
}

// Dropped returns the number of bytes counted but not kept.
func (b *Buffer) Dropped() int64 {
	return b.dropped
}

// Truncated reports whether any byte was dropped.
func (b *Buffer) Truncated() bool {
	return b.dropped > 0
}

// Total returns the number of bytes written, kept or not.
func (b *Buffer) Total() int64 {
	return int64(len(b.buf)) + b.dropped
}
