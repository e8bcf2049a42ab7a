package seriesaggregator

import (
	"bytes"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"

	"databank/internal/dicom"
	"databank/internal/model"
	"databank/internal/walker"
)

// fakeDecode parses the plain-text record format used by the test trees:
// one "Field=value" pair per line, or an "ERR <kind>" directive to fail.
func fakeDecode(r io.ReadSeeker, force bool) (model.ImageRecord, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	content := strings.TrimSpace(string(b))
	if content == "ERR nonconformant" {
		return nil, dicom.ErrNotConformant
	}

	record := make(model.ImageRecord)
	for _, line := range strings.Split(content, "\n") {
		name, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch name {
		case model.FieldSeriesNumber:
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, err
			}
			record[name] = n
		case model.FieldImageType:
			record[name] = strings.Split(value, ",")
		case model.FieldAcquisitionDate:
			date, err := time.Parse("20060102", value)
			if err != nil {
				return nil, err
			}
			record[name] = date
		default:
			record[name] = value
		}
	}
	return record, nil
}

func record(series, image string, number int, date string) string {
	lines := []string{
		"SeriesInstanceUID=" + series,
		"SOPInstanceUID=" + image,
		"SeriesNumber=" + strconv.Itoa(number),
		"SeriesDescription=T1 MPRAGE",
		"ImageType=ORIGINAL,PRIMARY",
	}
	if date != "" {
		lines = append(lines, "AcquisitionDate="+date)
	}
	return strings.Join(lines, "\n")
}

func TestAggregateScenario(t *testing.T) {
	var logs bytes.Buffer
	log.SetOutput(&logs)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	fsys := memfs.New()
	util.WriteFile(fsys, "s1/a.dcm", []byte(record("S1", "I1", 1, "20200101")), 0644)
	util.WriteFile(fsys, "s1/b.dcm", []byte(record("S1", "I2", 1, "20200103")), 0644)
	util.WriteFile(fsys, "s2/c.dcm", []byte("ERR nonconformant"), 0644)

	series, err := New(walker.NewWithDecoder(fsys, fakeDecode)).Aggregate(".")
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	if len(series) != 1 {
		t.Fatalf("expected 1 series, got %d", len(series))
	}
	agg, ok := series["S1"]
	if !ok {
		t.Fatalf("expected series S1, got %v", series)
	}

	if agg.ImageCount() != 2 {
		t.Errorf("ImageCount = %d, want 2", agg.ImageCount())
	}
	if agg.Images["I1"] != "s1/a.dcm" || agg.Images["I2"] != "s1/b.dcm" {
		t.Errorf("Images = %v", agg.Images)
	}
	if got := agg.FieldStats[model.FieldSeriesNumber]; len(got) != 1 || got["1"] != 2 {
		t.Errorf("SeriesNumber frequency = %v, want {1: 2}", got)
	}
	if got := agg.FieldStats[model.FieldSeriesNumber].Total(); got != 2 {
		t.Errorf("SeriesNumber frequency total = %d, want the number of files", got)
	}
	if got := agg.FieldStats[model.FieldImageType]; got["ORIGINAL"] != 2 || got["PRIMARY"] != 2 {
		t.Errorf("ImageType frequency = %v", got)
	}

	if !agg.TimeRange.Valid {
		t.Fatal("expected a valid time range")
	}
	if want := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC); !agg.TimeRange.Min.Equal(want) {
		t.Errorf("TimeRange.Min = %v, want %v", agg.TimeRange.Min, want)
	}
	if want := time.Date(2020, 1, 3, 0, 0, 0, 0, time.UTC); !agg.TimeRange.Max.Equal(want) {
		t.Errorf("TimeRange.Max = %v, want %v", agg.TimeRange.Max, want)
	}

	if !strings.Contains(logs.String(), "s2/c.dcm") {
		t.Errorf("missing error log for s2/c.dcm, got logs:\n%s", logs.String())
	}
}

func TestAggregateEmptyTree(t *testing.T) {
	log.SetOutput(io.Discard)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	series, err := New(walker.NewWithDecoder(memfs.New(), fakeDecode)).Aggregate(".")
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if len(series) != 0 {
		t.Errorf("expected an empty mapping, got %v", series)
	}
}

func TestAggregateContractViolation(t *testing.T) {
	log.SetOutput(io.Discard)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	fsys := memfs.New()
	// The decoder returns a record without SeriesNumber: a violation of its
	// contract that must abort the run with no partial result.
	util.WriteFile(fsys, "a.dcm", []byte("SeriesInstanceUID=S1\nSOPInstanceUID=I1\nSeriesDescription=x\nImageType=ORIGINAL"), 0644)

	series, err := New(walker.NewWithDecoder(fsys, fakeDecode)).Aggregate(".")
	if err == nil {
		t.Fatal("expected a contract error")
	}
	if series != nil {
		t.Errorf("expected no partial result, got %v", series)
	}
	if !strings.Contains(err.Error(), model.FieldSeriesNumber) {
		t.Errorf("error should name the missing field, got: %v", err)
	}
}

func TestFoldDuplicateImageUID(t *testing.T) {
	series := make(map[string]*model.SeriesAggregate)

	recA, _ := fakeDecode(strings.NewReader(record("S1", "I1", 1, "")), true)
	recB, _ := fakeDecode(strings.NewReader(record("S1", "I1", 1, "")), true)

	if err := fold(series, recA, "first/path.dcm"); err != nil {
		t.Fatal(err)
	}
	if err := fold(series, recB, "second/path.dcm"); err != nil {
		t.Fatal(err)
	}

	agg := series["S1"]
	if agg.ImageCount() != 1 {
		t.Fatalf("expected a single image entry, got %v", agg.Images)
	}
	// Last write wins on a repeated SOPInstanceUID.
	if agg.Images["I1"] != "second/path.dcm" {
		t.Errorf("Images[I1] = %s, want second/path.dcm", agg.Images["I1"])
	}
}

func TestFoldTimestampPolicy(t *testing.T) {
	series := make(map[string]*model.SeriesAggregate)

	// First record of the series has no AcquisitionDate: the range must
	// stay unset rather than being initialized to a bogus value.
	rec, _ := fakeDecode(strings.NewReader(record("S1", "I1", 1, "")), true)
	if err := fold(series, rec, "a.dcm"); err != nil {
		t.Fatal(err)
	}
	if series["S1"].TimeRange.Valid {
		t.Fatal("time range should be unset without any timestamped record")
	}

	rec, _ = fakeDecode(strings.NewReader(record("S1", "I2", 1, "20200105")), true)
	if err := fold(series, rec, "b.dcm"); err != nil {
		t.Fatal(err)
	}
	tr := series["S1"].TimeRange
	if !tr.Valid || !tr.Min.Equal(tr.Max) {
		t.Fatalf("expected a point range after the first timestamped record, got %+v", tr)
	}

	rec, _ = fakeDecode(strings.NewReader(record("S1", "I3", 1, "20200102")), true)
	if err := fold(series, rec, "c.dcm"); err != nil {
		t.Fatal(err)
	}
	tr = series["S1"].TimeRange
	if want := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC); !tr.Min.Equal(want) {
		t.Errorf("TimeRange.Min = %v, want %v", tr.Min, want)
	}
	if want := time.Date(2020, 1, 5, 0, 0, 0, 0, time.UTC); !tr.Max.Equal(want) {
		t.Errorf("TimeRange.Max = %v, want %v", tr.Max, want)
	}
	if tr.Max.Before(tr.Min) {
		t.Error("time range invariant violated: max before min")
	}
}

func TestFoldCountsExtraFields(t *testing.T) {
	series := make(map[string]*model.SeriesAggregate)

	content := record("S1", "I1", 1, "") + "\nStationName=MRC35119\nManufacturer=SIEMENS"
	rec, _ := fakeDecode(strings.NewReader(content), true)
	if err := fold(series, rec, "a.dcm"); err != nil {
		t.Fatal(err)
	}
	content = record("S1", "I2", 1, "") + "\nStationName=MRC35120\nManufacturer=SIEMENS"
	rec, _ = fakeDecode(strings.NewReader(content), true)
	if err := fold(series, rec, "b.dcm"); err != nil {
		t.Fatal(err)
	}

	agg := series["S1"]
	if got := agg.FieldStats["Manufacturer"]; len(got) != 1 || got["SIEMENS"] != 2 {
		t.Errorf("Manufacturer frequency = %v, want {SIEMENS: 2}", got)
	}
	if got := agg.FieldStats["StationName"]; len(got) != 2 || got["MRC35119"] != 1 || got["MRC35120"] != 1 {
		t.Errorf("StationName frequency = %v", got)
	}
	// The station name disagreement is visible to the caller instead of
	// being collapsed to a single value.
	if agg.FieldStats["StationName"].Consistent() {
		t.Error("StationName should be reported as inconsistent")
	}
}
