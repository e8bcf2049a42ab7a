package model

import (
	"fmt"
	"time"
)

// Names of the fields the decoder is required to supply on every record, plus
// the optional acquisition fields. Any other field on a record is open-ended
// decoder output and is aggregated under its own name.
const (
	FieldSOPClassUID       = "SOPClassUID"
	FieldSOPInstanceUID    = "SOPInstanceUID"
	FieldSeriesInstanceUID = "SeriesInstanceUID"
	FieldSeriesNumber      = "SeriesNumber"
	FieldSeriesDescription = "SeriesDescription"
	FieldImageType         = "ImageType"
	FieldAcquisitionDate   = "AcquisitionDate"
	FieldAcquisitionTime   = "AcquisitionTime"
)

// ImageRecord holds the metadata decoded from a single image file. Values are
// typed by the decoder: string for text fields, int for SeriesNumber,
// []string for ImageType, time.Time for AcquisitionDate and time.Duration
// (offset from midnight) for AcquisitionTime.
type ImageRecord map[string]any

// StringField returns a required string field of the record.
func (r ImageRecord) StringField(name string) (string, error) {
	v, ok := r[name]
	if !ok {
		return "", fmt.Errorf("record is missing required field %s", name)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %s has type %T, want string", name, v)
	}
	return s, nil
}

// IntField returns a required integer field of the record.
func (r ImageRecord) IntField(name string) (int, error) {
	v, ok := r[name]
	if !ok {
		return 0, fmt.Errorf("record is missing required field %s", name)
	}
	n, ok := v.(int)
	if !ok {
		return 0, fmt.Errorf("field %s has type %T, want int", name, v)
	}
	return n, nil
}

// StringsField returns a required multi-valued string field of the record.
func (r ImageRecord) StringsField(name string) ([]string, error) {
	v, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("record is missing required field %s", name)
	}
	s, ok := v.([]string)
	if !ok {
		return nil, fmt.Errorf("field %s has type %T, want []string", name, v)
	}
	return s, nil
}

// AcquisitionTimestamp derives a single instant from the optional acquisition
// fields: date and time combine into a full instant, a date alone means
// midnight of that date. Without a date no timestamp exists and ok is false.
func (r ImageRecord) AcquisitionTimestamp() (time.Time, bool) {
	v, ok := r[FieldAcquisitionDate]
	if !ok {
		return time.Time{}, false
	}
	date, ok := v.(time.Time)
	if !ok {
		return time.Time{}, false
	}
	if v, ok := r[FieldAcquisitionTime]; ok {
		if clock, ok := v.(time.Duration); ok {
			return date.Add(clock), true
		}
	}
	return date, true
}

// FreqTable counts the occurrences of each observed value of one field.
// Values are stored in canonical string form so the table can be compared,
// sorted and serialized uniformly.
type FreqTable map[string]int

// Add counts one occurrence of value.
func (ft FreqTable) Add(value string) {
	ft[value]++
}

// Total returns the number of occurrences counted across all values.
func (ft FreqTable) Total() int {
	total := 0
	for _, n := range ft {
		total += n
	}
	return total
}

// Consistent reports whether at most one distinct value has been observed.
func (ft FreqTable) Consistent() bool {
	return len(ft) <= 1
}

// TimeRange tracks the smallest and largest acquisition timestamp seen for a
// series. It stays invalid until the first timestamped record arrives, so a
// series whose first images carry no AcquisitionDate simply has no range yet.
type TimeRange struct {
	Min   time.Time `json:"min,omitzero"`
	Max   time.Time `json:"max,omitzero"`
	Valid bool      `json:"valid"`
}

// Observe widens the range to include t.
func (tr *TimeRange) Observe(t time.Time) {
	if !tr.Valid {
		tr.Min, tr.Max, tr.Valid = t, t, true
		return
	}
	if t.Before(tr.Min) {
		tr.Min = t
	}
	if t.After(tr.Max) {
		tr.Max = t
	}
}

// SeriesAggregate accumulates the statistics of one series. It is created on
// the first record bearing a new SeriesInstanceUID and mutated in place by
// every subsequent record sharing that identifier.
type SeriesAggregate struct {
	SeriesInstanceUID string               `json:"series_instance_uid"`
	FieldStats        map[string]FreqTable `json:"field_stats"`
	TimeRange         TimeRange            `json:"time_range"`

	// Images maps SOPInstanceUID to the relative path of the image file.
	// Keys are expected, but not guaranteed, to be unique across a series;
	// on a repeated key the last processed file wins.
	Images map[string]string `json:"images"`
}

// NewSeriesAggregate creates an empty aggregate for the given series.
func NewSeriesAggregate(uid string) *SeriesAggregate {
	return &SeriesAggregate{
		SeriesInstanceUID: uid,
		FieldStats:        make(map[string]FreqTable),
		Images:            make(map[string]string),
	}
}

// Count records one occurrence of value for the named field, creating the
// field's frequency table on first observation.
func (s *SeriesAggregate) Count(field, value string) {
	ft, ok := s.FieldStats[field]
	if !ok {
		ft = make(FreqTable)
		s.FieldStats[field] = ft
	}
	ft.Add(value)
}

// ImageCount returns the number of distinct images folded into the series.
func (s *SeriesAggregate) ImageCount() int {
	return len(s.Images)
}

// Report wraps the result of one aggregation run for the CLI and the API.
type Report struct {
	RunID       string                      `json:"run_id"`
	Root        string                      `json:"root"`
	GeneratedAt time.Time                   `json:"generated_at"`
	Series      map[string]*SeriesAggregate `json:"series"`
}

// ImageCount returns the number of images across all series of the report.
func (r *Report) ImageCount() int {
	total := 0
	for _, s := range r.Series {
		total += s.ImageCount()
	}
	return total
}

// FormatValue renders a decoded field value in its canonical string form, the
// form used as frequency table key.
func FormatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}
