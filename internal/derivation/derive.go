package derivation

import (
	"fmt"

	"github.com/report-variables-server/internal/domain"
)

// Lookup resolves another variable by key. Age children use it to find their
// reference date.
type Lookup func(key string) (*domain.Variable, bool)

// Derive computes the value of child from its parent according to the
// child's DerivedKind. An empty parent clears the child. The error reports
// inputs that cannot be derived at all (unknown kind, unparseable dates); the
// caller leaves the child untouched in that case.
func Derive(parent, child *domain.Variable, rules []domain.DescriptorRule, lookup Lookup) (domain.Value, error) {
	kind := child.Metadata.DerivedKind
	if kind == domain.DerivedNone {
		return domain.Value{}, fmt.Errorf("variable %s is not derived", child.Key())
	}
	if parent.Value.IsEmpty() {
		return domain.NullValue(), nil
	}

	switch kind {
	case domain.DerivedPercentileRank:
		return domain.StringValue(PercentileRank(parent.Value, parent.DataType)), nil

	case domain.DerivedDescriptor:
		return domain.StringValue(GetDescriptor(parent.Value, parent.DataType, rules)), nil

	case domain.DerivedAge:
		return deriveAge(parent, child, lookup)

	default:
		return domain.Value{}, fmt.Errorf("unknown derived kind %q", kind)
	}
}

func deriveAge(parent, child *domain.Variable, lookup Lookup) (domain.Value, error) {
	refKey := child.Metadata.AgeReferenceKey
	if refKey == "" || lookup == nil {
		return domain.Value{}, fmt.Errorf("age variable %s has no reference date", child.Key())
	}
	ref, ok := lookup(refKey)
	if !ok || ref.Value.IsEmpty() {
		return domain.NullValue(), nil
	}

	birth, err := ParseDate(parent.Value.Text())
	if err != nil {
		return domain.Value{}, fmt.Errorf("parsing birth date: %w", err)
	}
	at, err := ParseDate(ref.Value.Text())
	if err != nil {
		return domain.Value{}, fmt.Errorf("parsing reference date: %w", err)
	}
	age, err := ComputeAge(birth, at)
	if err != nil {
		return domain.Value{}, err
	}
	return domain.AgeValue(age), nil
}
