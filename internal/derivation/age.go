package derivation

import (
	"fmt"
	"strings"
	"time"

	"github.com/report-variables-server/internal/domain"
)

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"01/02/2006",
	"1/2/2006",
}

// ParseDate accepts ISO dates, RFC 3339 timestamps and US-style dates.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// ComputeAge returns the chronological age at `at` of someone born on `birth`,
// borrowing months and days the way ages are computed by hand on test
// protocols.
func ComputeAge(birth, at time.Time) (domain.Age, error) {
	birth = truncateDay(birth)
	at = truncateDay(at)
	if at.Before(birth) {
		return domain.Age{}, fmt.Errorf("reference date %s precedes birth date %s",
			at.Format("2006-01-02"), birth.Format("2006-01-02"))
	}

	years := at.Year() - birth.Year()
	months := int(at.Month()) - int(birth.Month())
	days := at.Day() - birth.Day()

	if days < 0 {
		months--
		// days in the month preceding `at`
		days += time.Date(at.Year(), at.Month(), 0, 0, 0, 0, 0, time.UTC).Day()
	}
	if months < 0 {
		years--
		months += 12
	}

	return domain.Age{Years: years, Months: months, Days: days}, nil
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
