package grouping

import (
	"github.com/report-variables-server/internal/domain"
)

// Summary counts entered values in one subgroup. Generated children are not
// counted.
type Summary struct {
	Tag             string `json:"tag"`
	RequiredTotal   int    `json:"requiredTotal"`
	RequiredEntered int    `json:"requiredEntered"`
	OptionalTotal   int    `json:"optionalTotal"`
	OptionalEntered int    `json:"optionalEntered"`
}

// Complete reports whether every required variable has a value.
func (s Summary) Complete() bool {
	return s.RequiredEntered == s.RequiredTotal
}

// Completion summarizes every subgroup of set, in display order. Hidden
// variables are included: hiding a variable does not make it optional.
func Completion(set *domain.VariableSet, lookup Lookup) []Summary {
	var out []Summary
	for _, tag := range tagOrder(set) {
		s := Summary{Tag: tag}
		for _, m := range subgroupMembers(set, tag) {
			v, ok := lookup(set.MemberKey(m.id))
			entered := ok && Entered(v)
			if m.required {
				s.RequiredTotal++
				if entered {
					s.RequiredEntered++
				}
			} else {
				s.OptionalTotal++
				if entered {
					s.OptionalEntered++
				}
			}
		}
		out = append(out, s)
	}
	return out
}

// Entered reports whether a value has been entered for v. A composite is
// entered once every subvariable is.
func Entered(v *domain.Variable) bool {
	if v.Metadata.IsComposite() {
		entered, total := CompositeCompletion(v)
		return entered == total
	}
	return !v.Value.IsEmpty()
}

// CompositeCompletion counts the entered subvariables of a composite.
func CompositeCompletion(v *domain.Variable) (entered, total int) {
	for _, p := range v.Metadata.AssociatedSubvariableProperties {
		total++
		if p.ValueEntered {
			entered++
		}
	}
	return entered, total
}
