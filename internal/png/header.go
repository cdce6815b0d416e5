package png

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
)

// pngSignature is the 8-byte magic prefix of every PNG stream.
var pngSignature = []byte{137, 80, 78, 71, 13, 10, 26, 10}

// ColorType is the PNG color type field of the IHDR chunk.
type ColorType uint8

const (
	Grayscale      ColorType = 0
	Truecolor      ColorType = 2
	Paletted       ColorType = 3
	GrayscaleAlpha ColorType = 4
	TruecolorAlpha ColorType = 6
)

// Channels returns the number of samples per pixel for the color type.
func (c ColorType) Channels() int {
	switch c {
	case Grayscale, Paletted:
		return 1
	case GrayscaleAlpha:
		return 2
	case Truecolor:
		return 3
	case TruecolorAlpha:
		return 4
	}
	return 0
}

func (c ColorType) String() string {
	switch c {
	case Grayscale:
		return "grayscale"
	case Truecolor:
		return "truecolor"
	case Paletted:
		return "indexed"
	case GrayscaleAlpha:
		return "grayscale+alpha"
	case TruecolorAlpha:
		return "truecolor+alpha"
	}
	return fmt.Sprintf("ColorType(%d)", uint8(c))
}

// Header contains the image metadata captured from the pre-pixel-data
// portion of a PNG stream. It is immutable once parsed.
type Header struct {
	Width     int
	Height    int
	BitDepth  uint8
	ColorType ColorType

	// Compression, Filter and Interlace are the raw IHDR method fields.
	Compression uint8
	Filter      uint8
	Interlace   uint8

	// Palette is the raw PLTE payload, nil if absent.
	Palette []byte
	// Transparency is the raw tRNS payload, nil if absent.
	Transparency []byte
}

// Channels returns the number of samples per pixel.
func (h *Header) Channels() int { return h.ColorType.Channels() }

// BytesPerPixel returns the pixel stride in bytes. For sub-byte depths
// (which the decoder rejects) this rounds down to 0.
func (h *Header) BytesPerPixel() int {
	return h.Channels() * int(h.BitDepth) / 8
}

// RowBytes returns the serialized length of one row, excluding the
// per-row filter byte.
func (h *Header) RowBytes() int { return h.Width * h.BytesPerPixel() }

// validDepth reports whether the bit depth / color type combination is
// legal PNG.
func validDepth(depth uint8, ct ColorType) bool {
	switch ct {
	case Grayscale:
		return depth == 1 || depth == 2 || depth == 4 || depth == 8 || depth == 16
	case Paletted:
		return depth == 1 || depth == 2 || depth == 4 || depth == 8
	case Truecolor, GrayscaleAlpha, TruecolorAlpha:
		return depth == 8 || depth == 16
	}
	return false
}

// parseIHDR decodes and validates the 13-byte IHDR payload.
func parseIHDR(data []byte) (*Header, error) {
	if len(data) != 13 {
		return nil, FormatError("bad IHDR length")
	}
	w := binary.BigEndian.Uint32(data[0:4])
	ht := binary.BigEndian.Uint32(data[4:8])
	if w == 0 || ht == 0 || w >= 1<<31 || ht >= 1<<31 {
		return nil, FormatError("invalid image dimensions")
	}
	h := &Header{
		Width:       int(w),
		Height:      int(ht),
		BitDepth:    data[8],
		ColorType:   ColorType(data[9]),
		Compression: data[10],
		Filter:      data[11],
		Interlace:   data[12],
	}
	if !validDepth(h.BitDepth, h.ColorType) {
		return nil, FormatError("bad bit depth/color type combination")
	}
	if h.Compression != 0 {
		return nil, FormatError("unknown compression method")
	}
	if h.Filter != 0 {
		return nil, FormatError("unknown filter method")
	}
	if h.Interlace > 1 {
		return nil, FormatError("unknown interlace method")
	}
	return h, nil
}

// checkDecodable rejects legal PNG features the row-streaming decoder
// cannot express: interlaced passes deliver rows out of order, and
// sub-byte depths are not byte-addressable.
func (h *Header) checkDecodable() error {
	if h.Interlace == 1 {
		return UnsupportedError("Adam7 interlacing")
	}
	if h.BitDepth < 8 {
		return UnsupportedError(fmt.Sprintf("bit depth %d", h.BitDepth))
	}
	return nil
}

// appendIHDR serializes the IHDR payload for h.
func appendIHDR(dst []byte, h *Header) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(h.Width))
	dst = binary.BigEndian.AppendUint32(dst, uint32(h.Height))
	return append(dst, h.BitDepth, uint8(h.ColorType), h.Compression, h.Filter, h.Interlace)
}

// ParseHeader reads the signature and IHDR chunk from r and returns the
// image header without decoding any pixel data. The Palette and
// Transparency fields are left nil.
func ParseHeader(r io.Reader) (*Header, error) {
	var buf [8 + 8 + 13 + 4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, ErrUnexpectedEOF
		}
		return nil, err
	}
	if string(buf[:8]) != string(pngSignature) {
		return nil, FormatError("not a PNG file")
	}
	if binary.BigEndian.Uint32(buf[8:12]) != 13 || string(buf[12:16]) != "IHDR" {
		return nil, FormatError("missing IHDR chunk")
	}
	if crc32.ChecksumIEEE(buf[12:29]) != binary.BigEndian.Uint32(buf[29:33]) {
		return nil, FormatError("invalid checksum")
	}
	return parseIHDR(buf[16:29])
}
