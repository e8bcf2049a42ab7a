package model

// ReportWriter defines the common interface for report output sinks,
// allowing different formats (text, JSON) to be used interchangeably.
type ReportWriter interface {
	// Write renders the report of a completed aggregation run.
	Write(rep *Report) error
}
