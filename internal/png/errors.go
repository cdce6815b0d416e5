package png

import "errors"

// FormatError reports that the input is not a valid PNG.
type FormatError string

func (e FormatError) Error() string { return "png: invalid format: " + string(e) }

// UnsupportedError reports that the input uses a valid PNG feature that
// this codec does not implement.
type UnsupportedError string

func (e UnsupportedError) Error() string { return "png: unsupported feature: " + string(e) }

// ErrUnexpectedEOF is returned when the byte source ends before the
// stream is structurally complete.
var ErrUnexpectedEOF = errors.New("png: unexpected end of stream")
