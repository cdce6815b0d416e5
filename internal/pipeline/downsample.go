package pipeline

// RowContext carries the per-row geometry derived once from the image
// header; it is read-only for the lifetime of the stream.
type RowContext struct {
	RowBytes      int // serialized row length in bytes
	BytesPerPixel int // pixel stride: channels times bytes per sample
	SampleRate    int // retain every SampleRate'th pixel and row
}

// downsampleRow compacts every SampleRate'th pixel of row to the front of
// the buffer, in place, and returns the number of retained bytes. A pixel
// is retained only when all of its bytes fit inside RowBytes; an exact
// trailing fit is retained, a partial one is dropped.
//
// The transform is destructive: the tail of row is left stale and the
// buffer must not be reused for anything but immediate forwarding.
func downsampleRow(row []byte, rc RowContext) int {
	bpp := rc.BytesPerPixel
	stride := rc.SampleRate * bpp
	w := 0
	for i := 0; i+bpp <= rc.RowBytes; i += stride {
		copy(row[w:w+bpp], row[i:i+bpp])
		w += bpp
	}
	return w
}
