package query

import (
	"sort"

	"databank/internal/model"
)

// Querier defines the interface for inspecting a completed aggregation run.
type Querier interface {
	// ListSeries returns every aggregate of the run, ordered by series UID.
	ListSeries() []*model.SeriesAggregate

	// GetSeries returns the aggregate for one series UID.
	GetSeries(uid string) (*model.SeriesAggregate, bool)

	// Inconsistencies returns, per field, the distinct values observed for
	// fields whose frequency table disagrees across the files of the series.
	Inconsistencies(uid string) (map[string][]string, bool)
}

// reportQuerier implements the Querier interface over an in-memory report.
type reportQuerier struct {
	report *model.Report
}

// NewReportQuerier creates a querier over the report of one run.
func NewReportQuerier(rep *model.Report) Querier {
	return &reportQuerier{report: rep}
}

func (q *reportQuerier) ListSeries() []*model.SeriesAggregate {
	out := make([]*model.SeriesAggregate, 0, len(q.report.Series))
	for _, s := range q.report.Series {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SeriesInstanceUID < out[j].SeriesInstanceUID
	})
	return out
}

func (q *reportQuerier) GetSeries(uid string) (*model.SeriesAggregate, bool) {
	s, ok := q.report.Series[uid]
	return s, ok
}

func (q *reportQuerier) Inconsistencies(uid string) (map[string][]string, bool) {
	s, ok := q.report.Series[uid]
	if !ok {
		return nil, false
	}
	out := make(map[string][]string)
	for field, ft := range s.FieldStats {
		// ImageType counts each tag of the multi-valued attribute on its
		// own, so several observed values are expected there.
		if field == model.FieldImageType || ft.Consistent() {
			continue
		}
		values := make([]string, 0, len(ft))
		for v := range ft {
			values = append(values, v)
		}
		sort.Strings(values)
		out[field] = values
	}
	return out, true
}
