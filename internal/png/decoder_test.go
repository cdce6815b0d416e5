package png_test

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	stdpng "image/png"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jmaccarl/pngshrink/internal/png"
)

// recorder captures decode events; rows are copied because the decoder
// reuses the row buffer.
type recorder struct {
	header *png.Header
	rows   [][]byte
	ended  bool
}

func (r *recorder) OnHeader(h *png.Header) error {
	r.header = h
	return nil
}

func (r *recorder) OnRow(row []byte, index int) error {
	r.rows = append(r.rows, append([]byte(nil), row...))
	return nil
}

func (r *recorder) OnEnd() error {
	r.ended = true
	return nil
}

func encodeGrayStd(t *testing.T, w, h int, pix func(x, y int) uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: pix(x, y)})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, stdpng.Encode(&buf, img))
	return buf.Bytes()
}

// decodeAll feeds the whole stream in spans of chunkSize bytes and
// requires a clean completion.
func decodeAll(t *testing.T, data []byte, chunkSize int) *recorder {
	t.Helper()
	rec := &recorder{}
	dec := png.NewDecoder(rec)
	for off := 0; off < len(data); off += chunkSize {
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}
		require.NoError(t, dec.ProcessChunk(data[off:end]))
		if dec.Done() {
			break
		}
	}
	require.NoError(t, dec.Close())
	require.True(t, rec.ended)
	return rec
}

func TestDecodeGray(t *testing.T) {
	data := encodeGrayStd(t, 5, 3, func(x, y int) uint8 { return uint8(x*40 + y*10) })
	rec := decodeAll(t, data, len(data))

	require.Equal(t, 5, rec.header.Width)
	require.Equal(t, 3, rec.header.Height)
	require.Equal(t, uint8(8), rec.header.BitDepth)
	require.Equal(t, png.Grayscale, rec.header.ColorType)
	require.Len(t, rec.rows, 3)
	for y, row := range rec.rows {
		for x := range row {
			require.Equal(t, uint8(x*40+y*10), row[x], "pixel (%d,%d)", x, y)
		}
	}
}

func TestDecodeByteAtATime(t *testing.T) {
	data := encodeGrayStd(t, 7, 4, func(x, y int) uint8 { return uint8(x ^ y) })
	whole := decodeAll(t, data, len(data))
	dribbled := decodeAll(t, data, 1)
	require.Equal(t, whole.rows, dribbled.rows)
}

func TestDecodeNRGBA(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			i := img.PixOffset(x, y)
			img.Pix[i+0] = uint8(x * 60)
			img.Pix[i+1] = uint8(y * 90)
			img.Pix[i+2] = uint8(x + y)
			img.Pix[i+3] = uint8(200 - x*10)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, stdpng.Encode(&buf, img))

	rec := decodeAll(t, buf.Bytes(), 64)
	require.Equal(t, png.TruecolorAlpha, rec.header.ColorType)
	require.Len(t, rec.rows, 2)
	for y, row := range rec.rows {
		require.Equal(t, img.Pix[y*img.Stride:y*img.Stride+4*4], row)
	}
}

func TestDecodeGray16(t *testing.T) {
	img := image.NewGray16(image.Rect(0, 0, 3, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			i := img.PixOffset(x, y)
			img.Pix[i+0] = uint8(x * 80)
			img.Pix[i+1] = uint8(y*100 + 1)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, stdpng.Encode(&buf, img))

	rec := decodeAll(t, buf.Bytes(), 16)
	require.Equal(t, uint8(16), rec.header.BitDepth)
	require.Equal(t, 2, rec.header.BytesPerPixel())
	require.Len(t, rec.rows, 2)
	for y, row := range rec.rows {
		require.Equal(t, img.Pix[y*img.Stride:y*img.Stride+3*2], row)
	}
}

func TestDecodeBadSignature(t *testing.T) {
	dec := png.NewDecoder(&recorder{})
	err := dec.ProcessChunk([]byte("GIF89a something else entirely"))
	var fe png.FormatError
	require.ErrorAs(t, err, &fe)
	require.True(t, dec.Done())
}

func TestDecodeTruncated(t *testing.T) {
	data := encodeGrayStd(t, 16, 16, func(x, y int) uint8 { return uint8(x * y) })
	dec := png.NewDecoder(&recorder{})
	require.NoError(t, dec.ProcessChunk(data[:len(data)-20]))
	err := dec.Close()
	require.ErrorIs(t, err, png.ErrUnexpectedEOF)
}

func TestDecodeEmptyInput(t *testing.T) {
	dec := png.NewDecoder(&recorder{})
	require.ErrorIs(t, dec.Close(), png.ErrUnexpectedEOF)
}

// rawChunk frames payload as a chunk of the given type.
func rawChunk(typ string, payload []byte) []byte {
	var out []byte
	out = binary.BigEndian.AppendUint32(out, uint32(len(payload)))
	out = append(out, typ...)
	out = append(out, payload...)
	crc := crc32.NewIEEE()
	crc.Write([]byte(typ))
	crc.Write(payload)
	return binary.BigEndian.AppendUint32(out, crc.Sum32())
}

func rawIHDR(w, h uint32, depth, colorType, interlace byte) []byte {
	var p []byte
	p = binary.BigEndian.AppendUint32(p, w)
	p = binary.BigEndian.AppendUint32(p, h)
	p = append(p, depth, colorType, 0, 0, interlace)
	return rawChunk("IHDR", p)
}

var signature = []byte{137, 80, 78, 71, 13, 10, 26, 10}

func TestDecodeRejectsInterlace(t *testing.T) {
	data := append(append([]byte(nil), signature...), rawIHDR(8, 8, 8, 0, 1)...)
	dec := png.NewDecoder(&recorder{})
	err := dec.ProcessChunk(data)
	var ue png.UnsupportedError
	require.ErrorAs(t, err, &ue)
}

func TestDecodeRejectsSubByteDepth(t *testing.T) {
	data := append(append([]byte(nil), signature...), rawIHDR(8, 8, 4, 0, 0)...)
	dec := png.NewDecoder(&recorder{})
	err := dec.ProcessChunk(data)
	var ue png.UnsupportedError
	require.ErrorAs(t, err, &ue)
}

func TestDecodeRejectsMissingIHDR(t *testing.T) {
	data := append(append([]byte(nil), signature...), rawChunk("IDAT", []byte{1, 2, 3})...)
	dec := png.NewDecoder(&recorder{})
	err := dec.ProcessChunk(data)
	var fe png.FormatError
	require.ErrorAs(t, err, &fe)
}

func TestDecodeRejectsBadChecksum(t *testing.T) {
	data := encodeGrayStd(t, 4, 4, func(x, y int) uint8 { return uint8(x) })
	data[29] ^= 0xff // corrupt the IHDR CRC
	dec := png.NewDecoder(&recorder{})
	err := dec.ProcessChunk(data)
	var fe png.FormatError
	require.ErrorAs(t, err, &fe)
}

func TestDecodeSkipsAncillaryChunks(t *testing.T) {
	data := encodeGrayStd(t, 4, 4, func(x, y int) uint8 { return uint8(4*y + x) })
	// Splice a tEXt chunk between IHDR and the first IDAT.
	var spliced []byte
	spliced = append(spliced, data[:33]...)
	spliced = append(spliced, rawChunk("tEXt", []byte("Comment\x00hello"))...)
	spliced = append(spliced, data[33:]...)

	rec := decodeAll(t, spliced, 10)
	require.Len(t, rec.rows, 4)
	require.Equal(t, []byte{12, 13, 14, 15}, rec.rows[3])
}

func TestParseHeader(t *testing.T) {
	data := encodeGrayStd(t, 9, 7, func(x, y int) uint8 { return 0 })
	h, err := png.ParseHeader(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 9, h.Width)
	require.Equal(t, 7, h.Height)
	require.Equal(t, png.Grayscale, h.ColorType)

	_, err = png.ParseHeader(bytes.NewReader(data[:20]))
	require.ErrorIs(t, err, png.ErrUnexpectedEOF)

	_, err = png.ParseHeader(bytes.NewReader(bytes.Repeat([]byte{0}, 40)))
	var fe png.FormatError
	require.ErrorAs(t, err, &fe)
}
