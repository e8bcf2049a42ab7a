package dicom

import (
	"encoding/binary"
	"fmt"
	"io"
)

// tag identifies a data element as group<<16 | element.
type tag uint32

func (t tag) group() uint16   { return uint16(t >> 16) }
func (t tag) element() uint16 { return uint16(t) }

func (t tag) String() string {
	return fmt.Sprintf("(%04X,%04X)", t.group(), t.element())
}

// reader wraps an io.Reader with little endian primitives for DICOM streams.
type reader struct {
	r io.Reader
}

func (d *reader) uint16() (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func (d *reader) uint32() (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// tag reads the 4-byte tag of the next data element. A clean io.EOF here
// means the element stream ended at an element boundary.
func (d *reader) tag() (tag, error) {
	group, err := d.uint16()
	if err != nil {
		return 0, err
	}
	element, err := d.uint16()
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	if err != nil {
		return 0, err
	}
	return tag(uint32(group)<<16 | uint32(element)), nil
}

func (d *reader) bytes(n uint32) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(d.r, b); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return b, nil
}

func (d *reader) skip(n uint32) error {
	written, err := io.CopyN(io.Discard, d.r, int64(n))
	if err == io.EOF && written < int64(n) {
		return io.ErrUnexpectedEOF
	}
	return err
}
