// Package pipeline runs the bounded-memory transcode: chunked reads from
// the source, progressive decode, row decimation, incremental encode.
package pipeline

import (
	"bufio"
	"errors"
	"io"

	"github.com/jmaccarl/pngshrink/internal/chunkio"
	"github.com/jmaccarl/pngshrink/internal/png"
)

// DefaultChunkSize is the read buffer capacity used when Options leaves
// ChunkSize unset.
const DefaultChunkSize = 1024

// Options controls a transcode operation.
type Options struct {
	// SampleRate is the integer stride at which rows and pixels are
	// retained. Must be at least 1 and no larger than either image
	// dimension.
	SampleRate int

	// ChunkSize is the capacity of the read buffer in bytes; 0 means
	// DefaultChunkSize. Output is byte-identical for any chunk size.
	ChunkSize int

	// Progress, if non-nil, is invoked after each decode cycle with the
	// total bytes read and rows written so far.
	Progress func(bytesRead int64, rowsOut int)
}

// Result holds the outcome of a completed transcode.
type Result struct {
	SrcWidth  int
	SrcHeight int
	DstWidth  int
	DstHeight int
	RowsIn    int   // rows decoded from the source
	RowsOut   int   // rows written to the sink
	BytesRead int64 // bytes consumed from the source
}

// runState is the driver's explicit scheduling state.
type runState int

const (
	stateNeedsData runState = iota
	stateDecoding
	stateDone
	stateFailed
)

// transcoder bridges decode events to the downsampler and the
// incremental encoder. It implements png.Handler; the decode engine
// calls it synchronously, one event at a time.
type transcoder struct {
	enc  *png.Encoder
	rate int

	header      *png.Header
	rc          RowContext
	outWidth    int
	outHeight   int
	outRowBytes int
	rowBuf      []byte

	rowsIn  int
	rowsOut int
}

func (t *transcoder) OnHeader(h *png.Header) error {
	if t.rate > h.Width || t.rate > h.Height {
		return failf(KindInvalidSampleRate,
			"sample rate %d exceeds image dimensions %dx%d", t.rate, h.Width, h.Height)
	}
	t.header = h
	t.outWidth = h.Width / t.rate
	t.outHeight = h.Height / t.rate
	t.rc = RowContext{
		RowBytes:      h.RowBytes(),
		BytesPerPixel: h.BytesPerPixel(),
		SampleRate:    t.rate,
	}
	t.outRowBytes = t.outWidth * t.rc.BytesPerPixel
	t.rowBuf = make([]byte, t.rc.RowBytes)

	out := *h
	out.Width = t.outWidth
	out.Height = t.outHeight
	if err := t.enc.WriteHeader(&out); err != nil {
		return &Error{kind: KindEncodeInit, cause: err}
	}
	return nil
}

func (t *transcoder) OnRow(row []byte, index int) error {
	t.rowsIn++
	if index%t.rate != 0 {
		return nil
	}
	// Floor geometry: with non-divisible heights the stride can land on
	// one more row than the output has; drop it.
	if t.rowsOut >= t.outHeight {
		return nil
	}
	// The decoder reuses row for unfiltering the rows that follow, so
	// the destructive compaction works on a scratch copy.
	copy(t.rowBuf, row)
	downsampleRow(t.rowBuf, t.rc)
	if err := t.enc.WriteRow(t.rowBuf[:t.outRowBytes]); err != nil {
		return &Error{kind: KindIOWrite, cause: err}
	}
	t.rowsOut++
	return nil
}

func (t *transcoder) OnEnd() error {
	if err := t.enc.Finalize(); err != nil {
		return &Error{kind: KindIOWrite, cause: err}
	}
	return nil
}

// Run executes one transcode: src is read in fixed-size chunks, decoded
// progressively, decimated by opts.SampleRate and re-encoded to dst.
// Peak memory is proportional to the chunk size plus a few rows,
// independent of image dimensions.
//
// On failure the returned error is a *Error; whatever was already
// flushed to dst is left in place, not rolled back.
func Run(src io.Reader, dst io.Writer, opts Options) (*Result, error) {
	if opts.SampleRate < 1 {
		return nil, failf(KindInvalidSampleRate, "sample rate %d is not positive", opts.SampleRate)
	}
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	bw := bufio.NewWriter(dst)
	t := &transcoder{enc: png.NewEncoder(bw), rate: opts.SampleRate}
	dec := png.NewDecoder(t)
	reader := chunkio.NewReader(src, chunkSize)

	state := stateNeedsData
	var ferr error
	for state == stateNeedsData || state == stateDecoding {
		span, more, err := reader.Fill()
		if err != nil {
			state, ferr = stateFailed, &Error{kind: KindIORead, cause: err}
			break
		}
		if more && !reader.Full() {
			// Suspension point: the buffer is not yet full and the
			// source may have more; resume filling.
			state = stateNeedsData
			continue
		}
		state = stateDecoding
		if len(span) == 0 {
			// Source exhausted with nothing decodable left.
			break
		}
		if err := dec.ProcessChunk(span); err != nil {
			state, ferr = stateFailed, classify(err)
			break
		}
		if opts.Progress != nil {
			opts.Progress(reader.BytesRead(), t.rowsOut)
		}
		if dec.Done() {
			state = stateDone
			break
		}
		reader.Reset()
		state = stateNeedsData
	}

	// Teardown: always join the decode goroutine. When the loop exits
	// on an exhausted source this also surfaces the truncation.
	if cerr := dec.Close(); ferr == nil {
		if cerr != nil {
			ferr = classify(cerr)
		} else if state != stateDone {
			ferr = &Error{kind: KindUnexpectedEOF, cause: png.ErrUnexpectedEOF}
		}
	}
	if ferr != nil {
		return nil, ferr
	}

	return &Result{
		SrcWidth:  t.header.Width,
		SrcHeight: t.header.Height,
		DstWidth:  t.outWidth,
		DstHeight: t.outHeight,
		RowsIn:    t.rowsIn,
		RowsOut:   t.rowsOut,
		BytesRead: reader.BytesRead(),
	}, nil
}

// classify maps an error surfaced by the decode side to its pipeline
// kind. Errors raised by the bridges are already classified and pass
// through unchanged.
func classify(err error) error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, png.ErrUnexpectedEOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &Error{kind: KindUnexpectedEOF, cause: err}
	}
	// Format errors, unsupported features and inflate failures all mean
	// the input could not be decoded.
	return &Error{kind: KindDecodeFormat, cause: err}
}
