package domain

import (
	"fmt"
	"strconv"
	"time"
)

// FiscalYearStartMonth is the first month of a billing year.
const FiscalYearStartMonth = time.July

// IsValidPeriod reports whether period has the form YYYY-YYYY with consecutive years.
func IsValidPeriod(period string) bool {
	_, err := PeriodKey(period)
	return err == nil
}

// PeriodKey returns the start year of a fiscal period. Keys order periods chronologically.
func PeriodKey(period string) (int, error) {
	if len(period) != 9 || period[4] != '-' {
		return 0, ErrInvalidPeriodFormat
	}
	start, ok := parseYear(period[:4])
	if !ok {
		return 0, ErrInvalidPeriodFormat
	}
	end, ok := parseYear(period[5:])
	if !ok || end != start+1 {
		return 0, ErrInvalidPeriodFormat
	}
	return start, nil
}

func parseYear(s string) (int, bool) {
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	year, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return year, true
}

// FormatPeriod builds the period label starting in startYear.
func FormatPeriod(startYear int) string {
	return fmt.Sprintf("%04d-%04d", startYear, startYear+1)
}

// CurrentFiscalPeriod returns the period containing date. Years start in July.
func CurrentFiscalPeriod(date time.Time) string {
	if date.Month() >= FiscalYearStartMonth {
		return FormatPeriod(date.Year())
	}
	return FormatPeriod(date.Year() - 1)
}

// NextPeriod returns the period following period.
func NextPeriod(period string) (string, error) {
	key, err := PeriodKey(period)
	if err != nil {
		return "", err
	}
	return FormatPeriod(key + 1), nil
}

// PreviousPeriod returns the period preceding period.
func PreviousPeriod(period string) (string, error) {
	key, err := PeriodKey(period)
	if err != nil {
		return "", err
	}
	return FormatPeriod(key - 1), nil
}

// PeriodWindow is an inclusive range of fiscal periods. A nil End is unbounded.
type PeriodWindow struct {
	Start string
	End   *string
}

// Validate checks both bounds and their order.
func (w PeriodWindow) Validate() error {
	startKey, err := PeriodKey(w.Start)
	if err != nil {
		return err
	}
	if w.End == nil {
		return nil
	}
	endKey, err := PeriodKey(*w.End)
	if err != nil {
		return err
	}
	if endKey < startKey {
		return fmt.Errorf("%w: end period %s is before start period %s", ErrInvalidPeriodFormat, *w.End, w.Start)
	}
	return nil
}

// Covers reports whether the window includes the period with the given key.
// Malformed bounds never cover anything.
func (w PeriodWindow) Covers(periodKey int) bool {
	startKey, err := PeriodKey(w.Start)
	if err != nil || startKey > periodKey {
		return false
	}
	if w.End == nil {
		return true
	}
	endKey, err := PeriodKey(*w.End)
	if err != nil {
		return false
	}
	return periodKey <= endKey
}
