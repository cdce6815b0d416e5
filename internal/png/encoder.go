package png

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/zlib"
)

// Encoder writes a PNG stream incrementally: a header, then one row at a
// time, then a trailer. Every call flushes the sink before returning, so
// the output reflects progress even if the process is torn down mid-way.
//
// Rows are written with filter type None and compressed through a
// sync-flushed zlib stream; each row becomes its own IDAT chunk.
type Encoder struct {
	w     io.Writer
	flush func() error

	// err is the first error encountered; all attempted operations
	// after the first error become no-ops returning it.
	err error

	header *Header
	zw     *zlib.Writer
	idat   bytes.Buffer
	rows   int
	buf    [8]byte
}

// NewEncoder returns an Encoder writing to w. If w exposes a
// Flush() error method (e.g. *bufio.Writer), it is invoked after every
// header, row and trailer write.
func NewEncoder(w io.Writer) *Encoder {
	e := &Encoder{w: w}
	if f, ok := w.(interface{ Flush() error }); ok {
		e.flush = f.Flush
	} else {
		e.flush = func() error { return nil }
	}
	return e
}

// WriteHeader writes the signature, IHDR and any palette/transparency
// chunks, and prepares the compressed pixel stream. It must be called
// exactly once, before any rows.
func (e *Encoder) WriteHeader(h *Header) error {
	if e.err != nil {
		return e.err
	}
	if e.header != nil {
		return e.fail(errors.New("png: header already written"))
	}
	if h.Width < 1 || h.Height < 1 {
		return e.fail(fmt.Errorf("png: invalid output dimensions %dx%d", h.Width, h.Height))
	}
	if !validDepth(h.BitDepth, h.ColorType) || h.BitDepth < 8 {
		return e.fail(fmt.Errorf("png: cannot encode bit depth %d with color type %d", h.BitDepth, h.ColorType))
	}
	if h.ColorType == Paletted && h.Palette == nil {
		return e.fail(errors.New("png: paletted image without palette"))
	}
	e.write(pngSignature)
	e.writeChunk("IHDR", appendIHDR(nil, h))
	if h.Palette != nil {
		e.writeChunk("PLTE", h.Palette)
	}
	if h.Transparency != nil {
		e.writeChunk("tRNS", h.Transparency)
	}
	zw, err := zlib.NewWriterLevel(&e.idat, zlib.DefaultCompression)
	if err != nil {
		return e.fail(err)
	}
	e.zw = zw
	e.header = h
	e.sync()
	return e.err
}

// WriteRow appends one row of exactly RowBytes() bytes, emits the
// resulting IDAT chunk and flushes the sink.
func (e *Encoder) WriteRow(row []byte) error {
	if e.err != nil {
		return e.err
	}
	if e.header == nil {
		return e.fail(errors.New("png: WriteRow before WriteHeader"))
	}
	if len(row) != e.header.RowBytes() {
		return e.fail(fmt.Errorf("png: row is %d bytes, want %d", len(row), e.header.RowBytes()))
	}
	if e.rows >= e.header.Height {
		return e.fail(fmt.Errorf("png: too many rows, image is %d high", e.header.Height))
	}
	e.buf[0] = 0 // filter type None
	if _, err := e.zw.Write(e.buf[:1]); err != nil {
		return e.fail(err)
	}
	if _, err := e.zw.Write(row); err != nil {
		return e.fail(err)
	}
	if err := e.zw.Flush(); err != nil {
		return e.fail(err)
	}
	e.rows++
	e.emitIDAT()
	e.sync()
	return e.err
}

// Finalize closes the compressed stream, writes IEND and flushes the
// sink. Every row must have been written.
func (e *Encoder) Finalize() error {
	if e.err != nil {
		return e.err
	}
	if e.header == nil {
		return e.fail(errors.New("png: Finalize before WriteHeader"))
	}
	if e.rows != e.header.Height {
		return e.fail(fmt.Errorf("png: wrote %d of %d rows", e.rows, e.header.Height))
	}
	if err := e.zw.Close(); err != nil {
		return e.fail(err)
	}
	e.emitIDAT()
	e.writeChunk("IEND", nil)
	e.sync()
	return e.err
}

func (e *Encoder) fail(err error) error {
	if e.err == nil {
		e.err = err
	}
	return e.err
}

func (e *Encoder) write(p []byte) {
	if e.err != nil {
		return
	}
	if _, err := e.w.Write(p); err != nil {
		e.err = err
	}
}

// writeChunk frames a single chunk: length, type, payload, CRC over the
// type and payload.
func (e *Encoder) writeChunk(typ string, data []byte) {
	binary.BigEndian.PutUint32(e.buf[:4], uint32(len(data)))
	copy(e.buf[4:8], typ)
	e.write(e.buf[:8])
	e.write(data)
	crc := crc32.NewIEEE()
	crc.Write(e.buf[4:8])
	crc.Write(data)
	binary.BigEndian.PutUint32(e.buf[:4], crc.Sum32())
	e.write(e.buf[:4])
}

// emitIDAT frames whatever compressed bytes have accumulated as one IDAT
// chunk.
func (e *Encoder) emitIDAT() {
	if e.idat.Len() == 0 {
		return
	}
	e.writeChunk("IDAT", e.idat.Bytes())
	e.idat.Reset()
}

func (e *Encoder) sync() {
	if e.err != nil {
		return
	}
	if err := e.flush(); err != nil {
		e.err = err
	}
}
