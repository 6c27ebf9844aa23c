package derivation

import (
	"github.com/report-variables-server/internal/domain"
)

// GenerateChildren synthesizes the percentile-rank and descriptor children
// requested by a parent's metadata and registers them in the parent's child
// lists. Only normed scores produce children. The parent is modified in
// place; it is expected to be a freshly loaded variable not yet in a store.
func GenerateChildren(parent *domain.Variable, rules []domain.DescriptorRule) []*domain.Variable {
	if !parent.DataType.IsScore() {
		return nil
	}

	var children []*domain.Variable
	meta := parent.Metadata

	if meta.AutoCreatePercentileRank {
		child := newChild(parent, domain.DerivedPercentileRank, domain.DataTypePercentile,
			"Percentile Rank", "PR", meta.Visibility.PercentileRank, meta.AutoCalculatePercentileRank)
		children = append(children, child)
	}
	if meta.AutoCreateDescriptor {
		child := newChild(parent, domain.DerivedDescriptor, domain.DataTypeDescriptor,
			"Descriptor", "Desc", meta.Visibility.Descriptor, meta.AutoCalculateDescriptor)
		children = append(children, child)
	}

	for _, child := range children {
		if v, err := Derive(parent, child, rules, nil); err == nil {
			child.Value = v
		}
		parent.AddChild(child)
	}
	return children
}

// ChildKey returns the key a generated child of kind would have.
func ChildKey(parentKey string, kind domain.DerivedKind) string {
	return parentKey + kind.KeySuffix()
}

func newChild(parent *domain.Variable, kind domain.DerivedKind, dataType domain.DataType,
	nameSuffix, abbrevSuffix string, visibility domain.Visibility, autoCalculate bool) *domain.Variable {

	if visibility == "" {
		visibility = domain.Visible
	}

	abbrev := parent.AbbreviatedName
	if abbrev == "" {
		abbrev = parent.FullName
	}

	var label string
	if parent.Label != "" {
		label = parent.Label + " " + abbrevSuffix
	}

	return &domain.Variable{
		IDToken:         parent.IDToken.WithVariableID(parent.IDToken.VariableID + kind.KeySuffix()),
		FullName:        parent.FullName + " " + nameSuffix,
		AbbreviatedName: abbrev + " " + abbrevSuffix,
		Label:           label,
		DataType:        dataType,
		Value:           domain.NullValue(),
		SubgroupTag:     parent.SubgroupTag,
		OrderWithinSet:  parent.OrderWithinSet,
		Metadata: domain.Metadata{
			Visibility:        domain.VisibilitySettings{Self: visibility},
			AutoCalculate:     autoCalculate,
			DerivedKind:       kind,
			ParentVariableKey: parent.Key(),
		},
	}
}
