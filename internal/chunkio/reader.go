// Package chunkio provides a fixed-capacity refill buffer for reading a
// byte stream in bounded chunks.
package chunkio

import "io"

// Reader accumulates bytes from a source into a fixed-capacity buffer.
// The buffer is owned by the Reader; Fill lends a read-only view of it to
// the caller, which must not be retained across Reset.
type Reader struct {
	src   io.Reader
	buf   []byte
	n     int // bytes filled, n <= cap
	eof   bool
	total int64
}

// NewReader returns a Reader filling a buffer of the given capacity from src.
func NewReader(src io.Reader, capacity int) *Reader {
	return &Reader{src: src, buf: make([]byte, capacity)}
}

// Fill attempts to fill the remaining capacity of the buffer from the
// source and returns the span of valid bytes accumulated so far.
//
// The returned more flag reports that the source may still have bytes to
// deliver: true when the buffer was already full (no read is attempted)
// or when a read landed without filling the buffer, in which case the
// caller should yield and call Fill again. more is false once the buffer
// is full after a read, or once the source reports end of stream; either
// way the span is ready to be consumed.
func (r *Reader) Fill() (span []byte, more bool, err error) {
	if r.n == len(r.buf) {
		return r.buf, true, nil
	}
	if r.eof {
		return r.buf[:r.n], false, nil
	}
	n, err := r.src.Read(r.buf[r.n:])
	r.n += n
	r.total += int64(n)
	if err == io.EOF {
		r.eof = true
		err = nil
	}
	if err != nil {
		return nil, false, err
	}
	return r.buf[:r.n], r.n < len(r.buf) && !r.eof, nil
}

// Full reports whether the buffer holds a full chunk.
func (r *Reader) Full() bool { return r.n == len(r.buf) }

// Reset discards the accumulated bytes so the next Fill starts on an
// empty buffer. It must only be called once the current span has been
// fully consumed.
func (r *Reader) Reset() { r.n = 0 }

// BytesRead returns the total number of bytes read from the source.
func (r *Reader) BytesRead() int64 { return r.total }
