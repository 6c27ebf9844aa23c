package derivation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/report-variables-server/internal/domain"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestParseDate(t *testing.T) {
	for _, in := range []string{"2015-03-14", "2015-03-14T10:00:00Z", "03/14/2015", "3/14/2015", " 2015-03-14 "} {
		got, err := ParseDate(in)
		require.NoError(t, err, in)
		assert.Equal(t, date(2015, time.March, 14), truncateDay(got), in)
	}

	_, err := ParseDate("next tuesday")
	assert.Error(t, err)
}

func TestComputeAge(t *testing.T) {
	tests := []struct {
		name     string
		birth    time.Time
		at       time.Time
		expected domain.Age
	}{
		{"Same day", date(2015, 3, 14), date(2015, 3, 14), domain.Age{}},
		{"Exact birthday", date(2015, 3, 14), date(2024, 3, 14), domain.Age{Years: 9}},
		{"Day before birthday", date(2015, 3, 14), date(2024, 3, 13), domain.Age{Years: 8, Months: 11, Days: 28}},
		{"Months and days", date(2015, 3, 14), date(2024, 6, 20), domain.Age{Years: 9, Months: 3, Days: 6}},
		{"Borrow across year end", date(2015, 12, 31), date(2024, 1, 1), domain.Age{Years: 8, Days: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputeAge(tt.birth, tt.at)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestComputeAge_ReferenceBeforeBirth(t *testing.T) {
	_, err := ComputeAge(date(2020, 1, 1), date(2019, 12, 31))
	assert.Error(t, err)
}
