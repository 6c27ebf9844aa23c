package derivation

import (
	"math"

	"github.com/report-variables-server/internal/domain"
)

// GetDescriptor returns the descriptor of the tightest rule for dataType whose
// cutoff is at or below the score. Rules are expected sorted descending, in
// which case this is the first match; unsorted input still yields the tightest
// band. Null, non-numeric and negative scores yield domain.InvalidScore; a
// score no rule covers yields "".
func GetDescriptor(value domain.Value, dataType domain.DataType, rules []domain.DescriptorRule) string {
	score, ok := value.Float()
	if value.IsEmpty() || !ok || score < 0 || math.IsNaN(score) {
		return domain.InvalidScore
	}
	return DescriptorForScore(score, dataType, rules)
}

// DescriptorForScore is GetDescriptor for an already-validated score.
func DescriptorForScore(score float64, dataType domain.DataType, rules []domain.DescriptorRule) string {
	best := -1
	for i, rule := range rules {
		if rule.DataType != dataType || rule.CutoffScore > score {
			continue
		}
		if best < 0 || rule.CutoffScore > rules[best].CutoffScore {
			best = i
		}
	}
	if best < 0 {
		return ""
	}
	return rules[best].Descriptor
}
