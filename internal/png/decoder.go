// Package png implements a progressive, bounded-memory PNG codec.
//
// The Decoder accepts raw encoded bytes one chunk at a time and pushes
// header, row and end events to a Handler; the Encoder accepts a header
// and a sequence of rows and writes an incrementally-flushed PNG stream.
// Neither side ever materializes the full image.
package png

import (
	"encoding/binary"
	"errors"
	"hash"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/zlib"
)

// Handler receives decode events. The methods are invoked synchronously,
// in order, while the caller is blocked inside ProcessChunk: OnHeader
// exactly once, OnRow once per row in increasing index order, OnEnd
// exactly once after the last row. Returning a non-nil error aborts the
// decode and surfaces the error from ProcessChunk.
//
// The row slice is only valid until OnRow returns; the decoder reuses the
// underlying buffer for filtering the following rows.
type Handler interface {
	OnHeader(h *Header) error
	OnRow(row []byte, index int) error
	OnEnd() error
}

// Decoder is a push-based progressive PNG decoder. Feed it spans of
// encoded bytes with ProcessChunk; it buffers all partially-decoded
// structure internally across calls.
//
// The sequential decode logic runs on a dedicated goroutine, but the two
// sides strictly alternate: the goroutine only executes while the caller
// is blocked in ProcessChunk or Close, so the decode is logically
// single-threaded and handlers never run concurrently with the caller.
type Decoder struct {
	handler Handler

	feed    chan []byte
	stalled chan struct{}
	result  chan error
	started bool
	done    bool
	err     error

	// Fields below are only touched by the decode goroutine.
	pending    []byte
	eofSeen    bool
	crc        hash.Hash32
	tmp        [256]byte
	header     *Header
	headerSent bool
	rowsDone   bool
	cur, prev  []byte
	idatRemain uint32
	stashLen   uint32
	stashTyp   string
	stashed    bool
}

// NewDecoder returns a Decoder pushing events to h.
func NewDecoder(h Handler) *Decoder {
	return &Decoder{
		handler: h,
		feed:    make(chan []byte),
		stalled: make(chan struct{}),
		result:  make(chan error),
		crc:     crc32.NewIEEE(),
	}
}

// ProcessChunk decodes everything decodable from span, invoking handler
// callbacks as structure completes. It returns nil when the decoder needs
// more input, and the terminal result (nil for a completed stream) once
// the stream ends or fails. The span is fully consumed before return and
// may be reused by the caller afterwards.
func (d *Decoder) ProcessChunk(span []byte) error {
	if d.done {
		return d.err
	}
	if !d.started {
		d.started = true
		go func() { d.result <- d.decode() }()
		<-d.stalled // engine parks at its first read
	}
	d.feed <- span
	select {
	case <-d.stalled:
		return nil
	case err := <-d.result:
		d.done = true
		d.err = err
		return err
	}
}

// Done reports whether the stream has reached a terminal state, either
// completed or failed.
func (d *Decoder) Done() bool { return d.done }

// Close signals end of input and joins the decode goroutine. If the
// stream had not completed, the decode fails with ErrUnexpectedEOF (or a
// more specific truncation error) and Close returns it. Close after a
// terminal state returns the terminal result.
func (d *Decoder) Close() error {
	if d.done {
		return d.err
	}
	if !d.started {
		d.done = true
		d.err = ErrUnexpectedEOF
		return d.err
	}
	close(d.feed)
	d.err = <-d.result
	d.done = true
	return d.err
}

// sourceRead serves bytes from the current span, yielding control back to
// the feeder whenever the span is exhausted. This is the pipeline's
// single suspension point as seen from the decode side.
func (d *Decoder) sourceRead(p []byte) (int, error) {
	for len(d.pending) == 0 {
		if d.eofSeen {
			return 0, io.EOF
		}
		d.stalled <- struct{}{}
		b, ok := <-d.feed
		if !ok {
			d.eofSeen = true
			return 0, io.EOF
		}
		d.pending = b
	}
	n := copy(p, d.pending)
	d.pending = d.pending[n:]
	return n, nil
}

// readFull fills p from the source, mapping end-of-stream to
// ErrUnexpectedEOF: a short read here always means truncated input.
func (d *Decoder) readFull(p []byte) error {
	for len(p) > 0 {
		n, err := d.sourceRead(p)
		p = p[n:]
		if err != nil {
			if err == io.EOF {
				return ErrUnexpectedEOF
			}
			return err
		}
	}
	return nil
}

// readChunkHeader reads the next chunk's length and type, resetting the
// running CRC to cover the type and upcoming payload.
func (d *Decoder) readChunkHeader() (uint32, string, error) {
	if err := d.readFull(d.tmp[:8]); err != nil {
		return 0, "", err
	}
	length := binary.BigEndian.Uint32(d.tmp[:4])
	if length >= 1<<31 {
		return 0, "", FormatError("chunk length out of range")
	}
	d.crc.Reset()
	d.crc.Write(d.tmp[4:8])
	return length, string(d.tmp[4:8]), nil
}

// verifyChecksum reads and checks the 4-byte CRC trailing the current
// chunk's payload.
func (d *Decoder) verifyChecksum() error {
	if err := d.readFull(d.tmp[:4]); err != nil {
		return err
	}
	if binary.BigEndian.Uint32(d.tmp[:4]) != d.crc.Sum32() {
		return FormatError("invalid checksum")
	}
	return nil
}

// decode runs the full sequential decode: signature, chunk framing, pixel
// data, IEND. It returns nil only for a structurally complete stream.
func (d *Decoder) decode() error {
	if err := d.readFull(d.tmp[:8]); err != nil {
		return err
	}
	if string(d.tmp[:8]) != string(pngSignature) {
		return FormatError("not a PNG file")
	}
	for {
		var (
			length uint32
			typ    string
			err    error
		)
		if d.stashed {
			length, typ, d.stashed = d.stashLen, d.stashTyp, false
		} else {
			length, typ, err = d.readChunkHeader()
			if err != nil {
				return err
			}
		}
		if d.header == nil && typ != "IHDR" {
			return FormatError("missing IHDR chunk")
		}
		switch typ {
		case "IHDR":
			err = d.parseHeaderChunk(length)
		case "PLTE":
			err = d.parsePalette(length)
		case "tRNS":
			err = d.parseTransparency(length)
		case "IDAT":
			err = d.decodeImageData(length)
		case "IEND":
			if length != 0 {
				return FormatError("bad IEND length")
			}
			if err := d.verifyChecksum(); err != nil {
				return err
			}
			if !d.rowsDone {
				return FormatError("IEND before image data")
			}
			return d.handler.OnEnd()
		default:
			err = d.skipChunk(length)
		}
		if err != nil {
			return err
		}
	}
}

func (d *Decoder) parseHeaderChunk(length uint32) error {
	if d.header != nil {
		return FormatError("multiple IHDR chunks")
	}
	if length != 13 {
		return FormatError("bad IHDR length")
	}
	if err := d.readFull(d.tmp[:13]); err != nil {
		return err
	}
	d.crc.Write(d.tmp[:13])
	h, err := parseIHDR(d.tmp[:13])
	if err != nil {
		return err
	}
	if err := d.verifyChecksum(); err != nil {
		return err
	}
	if err := h.checkDecodable(); err != nil {
		return err
	}
	d.header = h
	return nil
}

func (d *Decoder) parsePalette(length uint32) error {
	if d.headerSent {
		return FormatError("PLTE after IDAT")
	}
	if length%3 != 0 || length > 3*256 {
		return FormatError("bad PLTE length")
	}
	p := make([]byte, length)
	if err := d.readFull(p); err != nil {
		return err
	}
	d.crc.Write(p)
	d.header.Palette = p
	return d.verifyChecksum()
}

func (d *Decoder) parseTransparency(length uint32) error {
	if d.headerSent {
		return FormatError("tRNS after IDAT")
	}
	if length > 256 {
		return FormatError("bad tRNS length")
	}
	p := make([]byte, length)
	if err := d.readFull(p); err != nil {
		return err
	}
	d.crc.Write(p)
	d.header.Transparency = p
	return d.verifyChecksum()
}

// skipChunk consumes and checksums an unrecognized (ancillary) chunk.
func (d *Decoder) skipChunk(length uint32) error {
	for length > 0 {
		n := len(d.tmp)
		if uint32(n) > length {
			n = int(length)
		}
		if err := d.readFull(d.tmp[:n]); err != nil {
			return err
		}
		d.crc.Write(d.tmp[:n])
		length -= uint32(n)
	}
	return d.verifyChecksum()
}

// idatReader serves the concatenated payloads of consecutive IDAT chunks
// as one stream, verifying each chunk's CRC as it is crossed. It reports
// io.EOF at the first non-IDAT chunk header, stashing it for the framing
// loop.
type idatReader struct {
	d *Decoder
}

func (r *idatReader) Read(p []byte) (int, error) {
	d := r.d
	for d.idatRemain == 0 {
		if err := d.verifyChecksum(); err != nil {
			return 0, err
		}
		length, typ, err := d.readChunkHeader()
		if err != nil {
			return 0, err
		}
		if typ != "IDAT" {
			d.stashLen, d.stashTyp, d.stashed = length, typ, true
			return 0, io.EOF
		}
		d.idatRemain = length
	}
	if uint32(len(p)) > d.idatRemain {
		p = p[:d.idatRemain]
	}
	n, err := d.sourceRead(p)
	d.crc.Write(p[:n])
	d.idatRemain -= uint32(n)
	if err == io.EOF {
		err = ErrUnexpectedEOF
	}
	return n, err
}

// decodeImageData inflates the IDAT stream, unfilters each row and pushes
// it to the handler. firstLen is the payload length of the IDAT chunk
// whose header has already been consumed.
func (d *Decoder) decodeImageData(firstLen uint32) error {
	if d.rowsDone {
		return FormatError("IDAT after image data")
	}
	if !d.headerSent {
		if d.header.ColorType == Paletted && d.header.Palette == nil {
			return FormatError("missing PLTE chunk")
		}
		if err := d.handler.OnHeader(d.header); err != nil {
			return err
		}
		d.headerSent = true
		d.cur = make([]byte, 1+d.header.RowBytes())
		d.prev = make([]byte, 1+d.header.RowBytes())
	}
	d.idatRemain = firstLen
	idr := &idatReader{d}
	zr, err := zlib.NewReader(idr)
	if err != nil {
		return pixelDataError(err)
	}
	bpp := d.header.BytesPerPixel()
	for y := 0; y < d.header.Height; y++ {
		if _, err := io.ReadFull(zr, d.cur); err != nil {
			return pixelDataError(err)
		}
		if err := unfilterRow(d.cur[0], d.cur[1:], d.prev[1:], bpp); err != nil {
			return err
		}
		if err := d.handler.OnRow(d.cur[1:], y); err != nil {
			return err
		}
		d.cur, d.prev = d.prev, d.cur
	}
	if n, err := zr.Read(d.tmp[:1]); n > 0 || err == nil {
		return FormatError("too much pixel data")
	} else if err != io.EOF {
		return pixelDataError(err)
	}
	if err := zr.Close(); err != nil {
		return pixelDataError(err)
	}
	// Drain any trailing IDAT framing so the loop resumes on chunk
	// boundaries; the stream position is already past the zlib data.
	if _, err := io.Copy(io.Discard, idr); err != nil {
		return err
	}
	d.rowsDone = true
	return nil
}

// pixelDataError classifies an error from the inflate layer: a clean EOF
// means the compressed stream ended before delivering every row, while a
// truncation error means the byte source itself ran out.
func pixelDataError(err error) error {
	if errors.Is(err, ErrUnexpectedEOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrUnexpectedEOF
	}
	if err == io.EOF {
		return FormatError("not enough pixel data")
	}
	return err
}

// unfilterRow reverses the per-row PNG filter in place. prev must be the
// unfiltered previous row, or all zeros for the first row.
func unfilterRow(ft byte, cur, prev []byte, bpp int) error {
	switch ft {
	case 0: // None
	case 1: // Sub
		for i := bpp; i < len(cur); i++ {
			cur[i] += cur[i-bpp]
		}
	case 2: // Up
		for i, p := range prev {
			cur[i] += p
		}
	case 3: // Average
		for i := 0; i < bpp; i++ {
			cur[i] += prev[i] / 2
		}
		for i := bpp; i < len(cur); i++ {
			cur[i] += uint8((int(cur[i-bpp]) + int(prev[i])) / 2)
		}
	case 4: // Paeth
		for i := 0; i < bpp; i++ {
			cur[i] += paeth(0, prev[i], 0)
		}
		for i := bpp; i < len(cur); i++ {
			cur[i] += paeth(cur[i-bpp], prev[i], prev[i-bpp])
		}
	default:
		return FormatError("bad filter type")
	}
	return nil
}

// paeth is the predictor from the PNG specification, section 9.4.
func paeth(a, b, c uint8) uint8 {
	pc := int(c)
	pa := int(b) - pc
	pb := int(a) - pc
	pc = abs(pa + pb)
	pa = abs(pa)
	pb = abs(pb)
	if pa <= pb && pa <= pc {
		return a
	} else if pb <= pc {
		return b
	}
	return c
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
