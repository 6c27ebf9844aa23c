package derivation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/report-variables-server/internal/domain"
)

func scoreVariable(id string, value domain.Value) *domain.Variable {
	meta := domain.DefaultMetadata()
	meta.AutoCreatePercentileRank = true
	meta.AutoCreateDescriptor = true
	return &domain.Variable{
		IDToken:         domain.NewToken(id, "wisc", "v5"),
		FullName:        "Full Scale IQ",
		AbbreviatedName: "FSIQ",
		DataType:        domain.DataTypeStandardScore,
		Value:           value,
		SubgroupTag:     "composites",
		OrderWithinSet:  3,
		Metadata:        meta,
	}
}

func TestGenerateChildren(t *testing.T) {
	parent := scoreVariable("fsiq", domain.NumberValue(100))
	parent.Metadata.Visibility.Descriptor = domain.Hidden
	parent.Metadata.AutoCalculateDescriptor = false

	children := GenerateChildren(parent, domain.DefaultDescriptorRules())
	require.Len(t, children, 2)

	pr, desc := children[0], children[1]

	assert.Equal(t, "wisc:v5:fsiq_percentile_rank", pr.Key())
	assert.Equal(t, ChildKey(parent.Key(), domain.DerivedPercentileRank), pr.Key())
	assert.Equal(t, "Full Scale IQ Percentile Rank", pr.FullName)
	assert.Equal(t, "FSIQ PR", pr.AbbreviatedName)
	assert.Equal(t, domain.DataTypePercentile, pr.DataType)
	assert.Equal(t, "composites", pr.SubgroupTag)
	assert.Equal(t, 3, pr.OrderWithinSet)
	assert.Equal(t, parent.Key(), pr.Metadata.ParentVariableKey)
	assert.Equal(t, domain.DerivedPercentileRank, pr.Metadata.DerivedKind)
	assert.True(t, pr.Metadata.AutoCalculate)
	assert.False(t, pr.IsHidden())
	assert.Equal(t, domain.StringValue("50th"), pr.Value)

	assert.Equal(t, "wisc:v5:fsiq_descriptor", desc.Key())
	assert.Equal(t, domain.DataTypeDescriptor, desc.DataType)
	assert.False(t, desc.Metadata.AutoCalculate)
	assert.True(t, desc.IsHidden())
	assert.Equal(t, domain.StringValue("Average"), desc.Value)

	assert.Equal(t, []string{pr.Key(), desc.Key()}, parent.Metadata.ChildVariableKeys)
	assert.Equal(t, []string{"fsiq_percentile_rank", "fsiq_descriptor"}, parent.Metadata.ChildVariableIDs)
}

func TestGenerateChildren_Idempotent(t *testing.T) {
	parent := scoreVariable("fsiq", domain.NullValue())

	GenerateChildren(parent, nil)
	GenerateChildren(parent, nil)

	assert.Len(t, parent.Metadata.ChildVariableKeys, 2)
}

func TestGenerateChildren_OnlyRequestedKinds(t *testing.T) {
	parent := scoreVariable("vci", domain.NullValue())
	parent.Metadata.AutoCreateDescriptor = false

	children := GenerateChildren(parent, nil)

	require.Len(t, children, 1)
	assert.Equal(t, domain.DerivedPercentileRank, children[0].Metadata.DerivedKind)
	assert.True(t, children[0].Value.IsEmpty())
}

func TestGenerateChildren_NonScoreTypes(t *testing.T) {
	parent := scoreVariable("dob", domain.StringValue("2015-03-14"))
	parent.DataType = domain.DataTypeDate

	assert.Empty(t, GenerateChildren(parent, nil))
	assert.Empty(t, parent.Metadata.ChildVariableKeys)
}
