// Package derivation computes the values of variables that are derived from
// other variables: percentile ranks, descriptive ratings and computed ages.
// Every function here is pure.
package derivation

import (
	"math"
	"strconv"
	"strings"

	"github.com/report-variables-server/internal/domain"
)

// Scale describes a normed score scale. Scores below Floor clamp to the 0th
// percentile and scores above Ceiling to the 100th. Percentiles of scores
// inside [BandLow, BandHigh] are shown as integers, outside with one decimal.
type Scale struct {
	Mean     float64
	SD       float64
	Floor    float64
	Ceiling  float64
	BandLow  float64
	BandHigh float64
}

var (
	StandardScale = Scale{Mean: 100, SD: 15, Floor: 52, Ceiling: 148, BandLow: 70, BandHigh: 130}
	ScaledScale   = Scale{Mean: 10, SD: 3, Floor: 1, Ceiling: 19, BandLow: 4, BandHigh: 16}
	TScoreScale   = Scale{Mean: 50, SD: 10, Floor: 20, Ceiling: 80, BandLow: 30, BandHigh: 70}
)

const (
	belowFloorDisplay   = "<0.1st"
	aboveCeilingDisplay = ">99.9th"
)

// ScaleFor returns the scale of a data type. Types that are not normed scores
// use the standard-score parameters.
func ScaleFor(dataType domain.DataType) Scale {
	switch dataType {
	case domain.DataTypeScaledScore:
		return ScaledScale
	case domain.DataTypeTScore:
		return TScoreScale
	default:
		return StandardScale
	}
}

// PercentileFromScore maps a score to its cumulative-normal percentile,
// 100 × (0.5 + 0.5·erf(z/√2)) with z = (score − mean)/sd, clamped at the
// scale's floor and ceiling.
func PercentileFromScore(score float64, dataType domain.DataType) float64 {
	s := ScaleFor(dataType)
	if score < s.Floor {
		return 0
	}
	if score > s.Ceiling {
		return 100
	}
	z := (score - s.Mean) / s.SD
	return 100 * (0.5 + 0.5*math.Erf(z/math.Sqrt2))
}

// FormatPercentile renders a percentile as an ordinal for display.
func FormatPercentile(percentile, score float64, dataType domain.DataType) string {
	if percentile < 0.1 {
		return belowFloorDisplay
	}
	if percentile > 99.9 {
		return aboveCeilingDisplay
	}

	s := ScaleFor(dataType)
	if score >= s.BandLow && score <= s.BandHigh {
		n := int(math.Round(percentile))
		if n >= 1 && n <= 99 {
			text := strconv.Itoa(n)
			return text + ordinalSuffix(text)
		}
	}

	text := strconv.FormatFloat(math.Round(percentile*10)/10, 'f', 1, 64)
	return text + ordinalSuffix(text)
}

// PercentileRank derives the displayed percentile rank for a score value.
// Empty values yield an empty string; non-numeric or negative values yield
// domain.InvalidScore.
func PercentileRank(value domain.Value, dataType domain.DataType) string {
	if value.IsEmpty() {
		return ""
	}
	score, ok := value.Float()
	if !ok || score < 0 || math.IsNaN(score) {
		return domain.InvalidScore
	}
	return FormatPercentile(PercentileFromScore(score, dataType), score, dataType)
}

// ordinalSuffix picks st/nd/rd/th from the last digit of a formatted number.
// Whole numbers ending in 11, 12 or 13 take "th".
func ordinalSuffix(number string) string {
	if !strings.Contains(number, ".") && len(number) >= 2 {
		switch number[len(number)-2:] {
		case "11", "12", "13":
			return "th"
		}
	}
	switch number[len(number)-1] {
	case '1':
		return "st"
	case '2':
		return "nd"
	case '3':
		return "rd"
	default:
		return "th"
	}
}

// Ordinal formats n as an ordinal ("1st", "22nd", "113th").
func Ordinal(n int) string {
	text := strconv.Itoa(n)
	return text + ordinalSuffix(text)
}
