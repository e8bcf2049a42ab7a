package model

import "io"

// DecodeFunc turns the content of one image file into an ImageRecord.
// force permits decoding files that lack the standard format preamble.
// A failure is one of: an I/O error (unreadable file), a non-conformant
// format error, or a missing-attribute error from the decoder.
type DecodeFunc func(r io.ReadSeeker, force bool) (ImageRecord, error)
