// Package dicom reads select metadata from DICOM files.
//
// The reader only decodes the data element stream far enough to extract the
// identification and acquisition tags the series aggregation needs; pixel
// data is never loaded. Little endian transfer syntaxes are supported, with
// explicit and implicit VR encodings.
package dicom

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"databank/internal/model"
)

// ErrNotConformant reports a file that lacks the structural markers of a
// DICOM file, or uses an encoding this reader does not support.
var ErrNotConformant = errors.New("not a conformant DICOM file")

// MissingTagError reports a file that parses but lacks an attribute the
// caller requires.
type MissingTagError struct {
	Name string
}

func (e *MissingTagError) Error() string {
	return fmt.Sprintf("missing attribute %s", e.Name)
}

const (
	tagFileMetaGroupLength tag = 0x00020000
	tagTransferSyntaxUID   tag = 0x00020010

	tagImageType             tag = 0x00080008
	tagSOPClassUID           tag = 0x00080016
	tagSOPInstanceUID        tag = 0x00080018
	tagAcquisitionDate       tag = 0x00080022
	tagAcquisitionDateTime   tag = 0x0008002A
	tagAcquisitionTime       tag = 0x00080032
	tagManufacturer          tag = 0x00080070
	tagStationName           tag = 0x00081010
	tagSeriesDescription     tag = 0x0008103E
	tagManufacturerModelName tag = 0x00081090
	tagDeviceSerialNumber    tag = 0x00181000
	tagSoftwareVersions      tag = 0x00181020
	tagProtocolName          tag = 0x00181030
	tagSeriesInstanceUID     tag = 0x0020000E
	tagSeriesNumber          tag = 0x00200011

	tagItem          tag = 0xFFFEE000
	tagItemDelim     tag = 0xFFFEE00D
	tagSequenceDelim tag = 0xFFFEE0DD
)

const (
	implicitVRLittleEndian = "1.2.840.10008.1.2"
	explicitVRLittleEndian = "1.2.840.10008.1.2.1"
	deflatedLittleEndian   = "1.2.840.10008.1.2.1.99"
	explicitVRBigEndian    = "1.2.840.10008.1.2.2"
)

const undefinedLength = 0xFFFFFFFF

// maxValueLength caps the value size of collected text elements. The tags of
// interest hold short strings, so anything larger indicates a misparse.
const maxValueLength = 1 << 20

// wantedTags lists the data elements collected from the element stream.
var wantedTags = map[tag]bool{
	tagImageType:             true,
	tagSOPClassUID:           true,
	tagSOPInstanceUID:        true,
	tagAcquisitionDate:       true,
	tagAcquisitionDateTime:   true,
	tagAcquisitionTime:       true,
	tagManufacturer:          true,
	tagStationName:           true,
	tagSeriesDescription:     true,
	tagManufacturerModelName: true,
	tagDeviceSerialNumber:    true,
	tagSoftwareVersions:      true,
	tagProtocolName:          true,
	tagSeriesInstanceUID:     true,
	tagSeriesNumber:          true,
}

// ReadMetadata reads select metadata from a DICOM stream.
//
// The following attributes are always extracted, and a MissingTagError is
// returned if one of them is absent: SOPClassUID, SOPInstanceUID,
// SeriesInstanceUID, SeriesNumber, SeriesDescription (with ProtocolName as
// fallback) and ImageType.
//
// The following attributes are extracted when present: AcquisitionDateTime
// (split into date and time), AcquisitionDate, AcquisitionTime, StationName,
// Manufacturer, ManufacturerModelName, DeviceSerialNumber and
// SoftwareVersions.
//
// With force set, streams without the standard 128-byte preamble and DICM
// marker are decoded by sniffing the VR encoding from the first element.
func ReadMetadata(rs io.ReadSeeker, force bool) (model.ImageRecord, error) {
	explicit := true

	head := make([]byte, 132)
	_, err := io.ReadFull(rs, head)
	switch {
	case err == nil && string(head[128:132]) == "DICM":
		syntax, err := readFileMeta(&reader{r: rs})
		if err != nil {
			return nil, err
		}
		switch syntax {
		case implicitVRLittleEndian:
			explicit = false
		case explicitVRBigEndian, deflatedLittleEndian:
			return nil, fmt.Errorf("%w: unsupported transfer syntax %s", ErrNotConformant, syntax)
		default:
			// Explicit VR little endian; encapsulated syntaxes also encode
			// the data set this way.
			explicit = true
		}
	case !force:
		return nil, fmt.Errorf("%w: missing DICM marker", ErrNotConformant)
	default:
		if _, err := rs.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		explicit, err = sniffSyntax(rs)
		if err != nil {
			return nil, err
		}
		if _, err := rs.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
	}

	p := &parser{d: &reader{r: rs}, explicit: explicit}
	elems, err := p.collect()
	if err != nil {
		return nil, err
	}
	return buildRecord(elems)
}

// readFileMeta consumes the file meta group following the DICM marker and
// returns the transfer syntax of the data set. The meta group is always
// encoded as explicit VR little endian and prefixed with its own length.
func readFileMeta(d *reader) (string, error) {
	t, err := d.tag()
	if err != nil {
		return "", readErr(err)
	}
	if t != tagFileMetaGroupLength {
		return "", fmt.Errorf("%w: file meta group length missing", ErrNotConformant)
	}
	vr, err := d.bytes(2)
	if err != nil {
		return "", readErr(err)
	}
	if string(vr) != "UL" {
		return "", fmt.Errorf("%w: unexpected VR %q for file meta group length", ErrNotConformant, vr)
	}
	if _, err := d.uint16(); err != nil {
		return "", readErr(err)
	}
	metaLen, err := d.uint32()
	if err != nil {
		return "", readErr(err)
	}
	if metaLen > maxValueLength {
		return "", fmt.Errorf("%w: file meta group length %d out of range", ErrNotConformant, metaLen)
	}
	buf, err := d.bytes(metaLen)
	if err != nil {
		return "", readErr(err)
	}

	mp := &parser{d: &reader{r: bytes.NewReader(buf)}, explicit: true}
	for {
		t, err := mp.d.tag()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", readErr(err)
		}
		_, length, err := mp.headerAfter(t)
		if err != nil {
			return "", readErr(err)
		}
		if t == tagTransferSyntaxUID {
			b, err := mp.d.bytes(length)
			if err != nil {
				return "", readErr(err)
			}
			if vs := splitValues(b); len(vs) > 0 && vs[0] != "" {
				return vs[0], nil
			}
			break
		}
		if err := mp.d.skip(length); err != nil {
			return "", readErr(err)
		}
	}
	return "", fmt.Errorf("%w: transfer syntax UID missing from file meta", ErrNotConformant)
}

// sniffSyntax guesses the VR encoding of a stream without a preamble by
// checking whether the bytes after the first tag form a valid VR code.
func sniffSyntax(r io.Reader) (bool, error) {
	head := make([]byte, 6)
	if _, err := io.ReadFull(r, head); err != nil {
		return false, fmt.Errorf("%w: too short for a data element", ErrNotConformant)
	}
	return isVRCode(head[4]) && isVRCode(head[5]), nil
}

func isVRCode(c byte) bool {
	return c >= 'A' && c <= 'Z'
}

// parser decodes a data element stream in a fixed VR encoding, switching to
// the declared data set encoding when a meta group is embedded in the stream.
type parser struct {
	d        *reader
	explicit bool
}

// collect walks the element stream and gathers the values of the wanted
// tags. Reading stops past group 0020 since every tag of interest lives in
// groups 0008, 0018 and 0020.
func (p *parser) collect() (map[tag][]string, error) {
	out := make(map[tag][]string)
	for {
		t, err := p.d.tag()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, readErr(err)
		}
		if t == tagItem || t == tagItemDelim || t == tagSequenceDelim {
			// Stray delimiter at the top level; consume its length field.
			if err := p.d.skip(4); err != nil {
				return nil, readErr(err)
			}
			continue
		}
		if t.group() > 0x0020 {
			break
		}
		vr, length, err := p.headerAfter(t)
		if err != nil {
			return nil, err
		}
		if length == undefinedLength {
			if err := p.skipUndefinedValue(); err != nil {
				return nil, err
			}
			continue
		}
		if t == tagTransferSyntaxUID && length <= maxValueLength {
			// Meta group without a preamble: honor the declared data set
			// encoding for the elements that follow it.
			b, err := p.d.bytes(length)
			if err != nil {
				return nil, readErr(err)
			}
			if vs := splitValues(b); len(vs) > 0 && vs[0] != "" {
				p.explicit = vs[0] != implicitVRLittleEndian
			}
			continue
		}
		if wantedTags[t] && vr != "SQ" {
			if length > maxValueLength {
				return nil, fmt.Errorf("%w: element %s has length %d out of range", ErrNotConformant, t, length)
			}
			b, err := p.d.bytes(length)
			if err != nil {
				return nil, readErr(err)
			}
			out[t] = splitValues(b)
			continue
		}
		if err := p.d.skip(length); err != nil {
			return nil, readErr(err)
		}
	}
	return out, nil
}

// headerAfter reads the VR and value length of the element whose tag has
// already been consumed.
func (p *parser) headerAfter(t tag) (string, uint32, error) {
	if !p.explicit {
		length, err := p.d.uint32()
		if err != nil {
			return "", 0, readErr(err)
		}
		return "", length, nil
	}

	b, err := p.d.bytes(2)
	if err != nil {
		return "", 0, readErr(err)
	}
	vr := string(b)
	if !isVRCode(b[0]) || !isVRCode(b[1]) {
		return "", 0, fmt.Errorf("%w: invalid VR %q for element %s", ErrNotConformant, vr, t)
	}
	switch vr {
	case "OB", "OW", "OF", "OL", "OD", "SQ", "UC", "UR", "UT", "UN":
		if err := p.d.skip(2); err != nil {
			return "", 0, readErr(err)
		}
		length, err := p.d.uint32()
		if err != nil {
			return "", 0, readErr(err)
		}
		return vr, length, nil
	default:
		length, err := p.d.uint16()
		if err != nil {
			return "", 0, readErr(err)
		}
		return vr, uint32(length), nil
	}
}

// skipUndefinedValue consumes an undefined-length value (a sequence or
// encapsulated pixel data) up to its sequence delimitation item.
func (p *parser) skipUndefinedValue() error {
	for {
		t, err := p.d.tag()
		if err != nil {
			return readErr(err)
		}
		switch t {
		case tagSequenceDelim:
			if _, err := p.d.uint32(); err != nil {
				return readErr(err)
			}
			return nil
		case tagItem:
			length, err := p.d.uint32()
			if err != nil {
				return readErr(err)
			}
			if length != undefinedLength {
				if err := p.d.skip(length); err != nil {
					return readErr(err)
				}
				continue
			}
			if err := p.skipUndefinedItem(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: unexpected tag %s inside undefined-length value", ErrNotConformant, t)
		}
	}
}

// skipUndefinedItem consumes the elements of an undefined-length sequence
// item up to its item delimitation item.
func (p *parser) skipUndefinedItem() error {
	for {
		t, err := p.d.tag()
		if err != nil {
			return readErr(err)
		}
		if t == tagItemDelim {
			if _, err := p.d.uint32(); err != nil {
				return readErr(err)
			}
			return nil
		}
		_, length, err := p.headerAfter(t)
		if err != nil {
			return err
		}
		if length == undefinedLength {
			if err := p.skipUndefinedValue(); err != nil {
				return err
			}
			continue
		}
		if err := p.d.skip(length); err != nil {
			return readErr(err)
		}
	}
}

// buildRecord assembles an ImageRecord from the collected element values.
func buildRecord(elems map[tag][]string) (model.ImageRecord, error) {
	first := func(t tag) (string, bool) {
		vs := elems[t]
		if len(vs) == 0 || vs[0] == "" {
			return "", false
		}
		return vs[0], true
	}

	record := make(model.ImageRecord)

	sopClass, ok := first(tagSOPClassUID)
	if !ok {
		return nil, &MissingTagError{Name: model.FieldSOPClassUID}
	}
	record[model.FieldSOPClassUID] = sopClass

	sopInstance, ok := first(tagSOPInstanceUID)
	if !ok {
		return nil, &MissingTagError{Name: model.FieldSOPInstanceUID}
	}
	record[model.FieldSOPInstanceUID] = sopInstance

	seriesInstance, ok := first(tagSeriesInstanceUID)
	if !ok {
		return nil, &MissingTagError{Name: model.FieldSeriesInstanceUID}
	}
	record[model.FieldSeriesInstanceUID] = seriesInstance

	s, ok := first(tagSeriesNumber)
	if !ok {
		return nil, &MissingTagError{Name: model.FieldSeriesNumber}
	}
	seriesNumber, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid SeriesNumber %q", ErrNotConformant, s)
	}
	record[model.FieldSeriesNumber] = seriesNumber

	// Some scanners leave SeriesDescription empty and put the useful label
	// in ProtocolName instead.
	description, ok := first(tagSeriesDescription)
	if !ok {
		description, ok = first(tagProtocolName)
	}
	if !ok {
		return nil, &MissingTagError{Name: model.FieldSeriesDescription}
	}
	record[model.FieldSeriesDescription] = description

	var imageTypes []string
	for _, v := range elems[tagImageType] {
		if v != "" {
			imageTypes = append(imageTypes, v)
		}
	}
	if len(imageTypes) == 0 {
		return nil, &MissingTagError{Name: model.FieldImageType}
	}
	record[model.FieldImageType] = imageTypes

	if s, ok := first(tagAcquisitionDateTime); ok {
		if dt, err := parseDT(s); err != nil {
			log.Printf("%v", err)
		} else {
			midnight := time.Date(dt.Year(), dt.Month(), dt.Day(), 0, 0, 0, 0, dt.Location())
			record[model.FieldAcquisitionDate] = midnight
			record[model.FieldAcquisitionTime] = dt.Sub(midnight)
		}
	} else {
		if s, ok := first(tagAcquisitionDate); ok {
			if date, err := parseDA(s); err != nil {
				log.Printf("%v", err)
			} else {
				record[model.FieldAcquisitionDate] = date
			}
		}
		if s, ok := first(tagAcquisitionTime); ok {
			if clock, err := parseTM(s); err != nil {
				log.Printf("%v", err)
			} else {
				record[model.FieldAcquisitionTime] = clock
			}
		}
	}

	for t, name := range map[tag]string{
		tagStationName:           "StationName",
		tagManufacturer:          "Manufacturer",
		tagManufacturerModelName: "ManufacturerModelName",
		tagDeviceSerialNumber:    "DeviceSerialNumber",
	} {
		if s, ok := first(t); ok {
			record[name] = s
		}
	}

	// Multi-valued on some scanners; the last part is usually the most
	// informative, e.g. ["3.2.1", "3.2.1.1"] on Philips.
	for i := len(elems[tagSoftwareVersions]) - 1; i >= 0; i-- {
		if v := elems[tagSoftwareVersions][i]; v != "" {
			record["SoftwareVersions"] = v
			break
		}
	}

	return record, nil
}

// splitValues decodes an element value from ISO_IR 100 (ISO 8859-1) and
// splits it on the DICOM multi-value delimiter, trimming the space and NUL
// padding of each part.
func splitValues(b []byte) []string {
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	parts := strings.Split(string(runes), `\`)
	for i, s := range parts {
		parts[i] = strings.Trim(s, " \x00")
	}
	return parts
}

// readErr maps a truncated element stream to a non-conformance error while
// letting real I/O failures through unchanged.
func readErr(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: truncated element stream", ErrNotConformant)
	}
	return err
}
