// Package seriesaggregator folds the records of a directory scan into
// per-series statistics.
//
// Imaging studies define a precise on-disk organization for image data, but
// in practice the convention is only loosely followed. Instead of trusting
// file placement, the aggregator reads every decodable file and groups the
// records by their content-derived SeriesInstanceUID, counting value
// frequencies per field so that a series whose metadata disagrees across
// files can be detected by the caller rather than silently collapsed.
package seriesaggregator

import (
	"fmt"
	"strconv"

	"databank/internal/model"
	"databank/internal/walker"
)

// Aggregator consumes a Walker's record sequence and builds one
// SeriesAggregate per distinct SeriesInstanceUID.
type Aggregator struct {
	walker *walker.Walker
}

// New creates an Aggregator reading records from w.
func New(w *walker.Walker) *Aggregator {
	return &Aggregator{walker: w}
}

// Aggregate scans root and folds every decoded record into the result
// mapping, keyed by SeriesInstanceUID. The walk always runs in force mode:
// aggregation favors maximal recall of nonstandard files over strict
// validation.
//
// A record missing one of the required fields means the decoder violated its
// contract; the run is aborted with no partial result.
func (a *Aggregator) Aggregate(root string) (map[string]*model.SeriesAggregate, error) {
	series := make(map[string]*model.SeriesAggregate)
	for record, relpath := range a.walker.Scan(root, true) {
		if err := fold(series, record, relpath); err != nil {
			return nil, fmt.Errorf("aggregating %s: %w", relpath, err)
		}
	}
	return series, nil
}

// fold merges one record into the series mapping, creating the aggregate on
// the first record of a new series.
func fold(series map[string]*model.SeriesAggregate, record model.ImageRecord, relpath string) error {
	seriesUID, err := record.StringField(model.FieldSeriesInstanceUID)
	if err != nil {
		return err
	}
	imageUID, err := record.StringField(model.FieldSOPInstanceUID)
	if err != nil {
		return err
	}
	seriesNumber, err := record.IntField(model.FieldSeriesNumber)
	if err != nil {
		return err
	}
	description, err := record.StringField(model.FieldSeriesDescription)
	if err != nil {
		return err
	}
	imageTypes, err := record.StringsField(model.FieldImageType)
	if err != nil {
		return err
	}

	agg, ok := series[seriesUID]
	if !ok {
		agg = model.NewSeriesAggregate(seriesUID)
		series[seriesUID] = agg
	}

	agg.Count(model.FieldSeriesNumber, strconv.Itoa(seriesNumber))
	agg.Count(model.FieldSeriesDescription, description)
	for _, t := range imageTypes {
		agg.Count(model.FieldImageType, t)
	}

	// A record without AcquisitionDate contributes nothing to the range; the
	// range of a series stays unset until its first timestamped record.
	if timestamp, ok := record.AcquisitionTimestamp(); ok {
		agg.TimeRange.Observe(timestamp)
	}

	// Duplicate SOPInstanceUIDs are not detected; the last processed file
	// wins.
	agg.Images[imageUID] = relpath

	// Whatever else the decoder exposes is aggregated under its own field
	// name, without a fixed schema.
	for name, value := range record {
		switch name {
		case model.FieldSeriesInstanceUID, model.FieldSOPInstanceUID,
			model.FieldSeriesNumber, model.FieldSeriesDescription,
			model.FieldImageType, model.FieldAcquisitionDate,
			model.FieldAcquisitionTime:
			continue
		}
		agg.Count(name, model.FormatValue(value))
	}
	return nil
}
