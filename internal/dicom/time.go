package dicom

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Parsers for the DICOM DA, TM and DT value representations.

var (
	regexDT = regexp.MustCompile(`^(\d{4,14})(\.\d{1,6})?([+-]\d{4})?$`)
	regexTM = regexp.MustCompile(`^(\d{2,6})(\.(\d{1,6}))?$`)
)

// parseDA converts a DICOM Date (DA) value to a UTC midnight instant.
// The dotted YYYY.MM.DD form predates DICOM (ACR-NEMA Standard 300) and is
// accepted for compatibility.
func parseDA(da string) (time.Time, error) {
	var year, month, day int
	switch {
	case len(da) == 8:
		var err error
		if year, month, day, err = dateFields(da[0:4], da[4:6], da[6:8]); err != nil {
			return time.Time{}, fmt.Errorf("incorrect DICOM DA %q", da)
		}
	case len(da) == 10 && da[4] == '.' && da[7] == '.':
		var err error
		if year, month, day, err = dateFields(da[0:4], da[5:7], da[8:10]); err != nil {
			return time.Time{}, fmt.Errorf("incorrect DICOM DA %q", da)
		}
	default:
		return time.Time{}, fmt.Errorf("incorrect DICOM DA %q", da)
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, fmt.Errorf("incorrect DICOM DA %q", da)
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), nil
}

func dateFields(y, m, d string) (int, int, int, error) {
	year, err := strconv.Atoi(y)
	if err != nil {
		return 0, 0, 0, err
	}
	month, err := strconv.Atoi(m)
	if err != nil {
		return 0, 0, 0, err
	}
	day, err := strconv.Atoi(d)
	if err != nil {
		return 0, 0, 0, err
	}
	return year, month, day, nil
}

// parseTM converts a DICOM Time (TM) value to an offset from midnight.
// Minutes, seconds and the fractional part are optional.
func parseTM(tm string) (time.Duration, error) {
	match := regexTM.FindStringSubmatch(tm)
	if match == nil || len(tm) > 16 {
		return 0, fmt.Errorf("incorrect DICOM TM %q", tm)
	}
	digits := match[1]
	if len(digits)%2 != 0 {
		return 0, fmt.Errorf("incorrect DICOM TM %q", tm)
	}
	hour, _ := strconv.Atoi(digits[0:2])
	minute, second := 0, 0
	if len(digits) >= 4 {
		minute, _ = strconv.Atoi(digits[2:4])
	}
	if len(digits) >= 6 {
		second, _ = strconv.Atoi(digits[4:6])
	}
	if hour > 23 || minute > 59 || second > 60 {
		return 0, fmt.Errorf("incorrect DICOM TM %q", tm)
	}
	clock := time.Duration(hour)*time.Hour +
		time.Duration(minute)*time.Minute +
		time.Duration(second)*time.Second
	return clock + fraction(match[3]), nil
}

// parseDT converts a DICOM DateTime (DT) value to an instant. Omitted
// components default to the earliest value they can hold; an explicit offset
// suffix yields a fixed-zone instant, otherwise the zone is UTC.
func parseDT(dt string) (time.Time, error) {
	match := regexDT.FindStringSubmatch(dt)
	if match == nil || len(dt) > 26 {
		return time.Time{}, fmt.Errorf("incorrect DICOM DT %q", dt)
	}
	digits := match[1]
	if len(digits)%2 != 0 {
		return time.Time{}, fmt.Errorf("incorrect DICOM DT %q", dt)
	}
	year, _ := strconv.Atoi(digits[0:4])
	month, day := 1, 1
	hour, minute, second := 0, 0, 0
	if len(digits) >= 6 {
		month, _ = strconv.Atoi(digits[4:6])
	}
	if len(digits) >= 8 {
		day, _ = strconv.Atoi(digits[6:8])
	}
	if len(digits) >= 10 {
		hour, _ = strconv.Atoi(digits[8:10])
	}
	if len(digits) >= 12 {
		minute, _ = strconv.Atoi(digits[10:12])
	}
	if len(digits) >= 14 {
		second, _ = strconv.Atoi(digits[12:14])
	}
	if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || minute > 59 || second > 60 {
		return time.Time{}, fmt.Errorf("incorrect DICOM DT %q", dt)
	}

	loc := time.UTC
	if tz := match[3]; tz != "" {
		offHour, _ := strconv.Atoi(tz[1:3])
		offMinute, _ := strconv.Atoi(tz[3:5])
		offset := (offHour*60 + offMinute) * 60
		if tz[0] == '-' {
			offset = -offset
		}
		loc = time.FixedZone(tz, offset)
	}

	t := time.Date(year, time.Month(month), day, hour, minute, second, 0, loc)
	return t.Add(fraction(strings.TrimPrefix(match[2], "."))), nil
}

// fraction converts the fractional-seconds digits of a TM or DT value to a
// duration. The digits are right-padded to microsecond precision.
func fraction(digits string) time.Duration {
	if digits == "" {
		return 0
	}
	micros, _ := strconv.Atoi(digits + strings.Repeat("0", 6-len(digits)))
	return time.Duration(micros) * time.Microsecond
}
