package remote

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/report-variables-server/internal/domain"
)

func TestVariableRowRoundTrip(t *testing.T) {
	row := &VariableRow{
		VariableID:      "fsiq",
		EntityID:        "wisc",
		EntityVersionID: "v5",
		FullName:        "Full Scale IQ",
		AbbreviatedName: "FSIQ",
		Label:           "FSIQ",
		DataType:        "standard_score",
		Value:           []byte(`112`),
		SubgroupTag:     "composites",
		OrderWithinSet:  4,
		Metadata:        []byte(`{"autoCreatePercentileRank":true,"visibility":{"self":"hidden"}}`),
		Content:         []byte(`{"description":"{{fsiq}} is the overall score"}`),
	}

	v, err := VariableFromRow(row)
	require.NoError(t, err)

	assert.Equal(t, "wisc:v5:fsiq", v.Key())
	assert.Equal(t, domain.NumberValue(112), v.Value)
	assert.True(t, v.IsHidden())
	assert.True(t, v.Metadata.AutoCreatePercentileRank)
	assert.True(t, v.Metadata.AutoCalculate, "absent flags keep their defaults")
	assert.Equal(t, "{{wisc:v5:fsiq}} is the overall score", v.Content.Description)

	back, err := VariableToRow(v)
	require.NoError(t, err)

	assert.Equal(t, row.VariableID, back.VariableID)
	assert.Equal(t, row.EntityID, back.EntityID)
	assert.Equal(t, row.EntityVersionID, back.EntityVersionID)
	assert.Equal(t, row.FullName, back.FullName)
	assert.Equal(t, row.AbbreviatedName, back.AbbreviatedName)
	assert.Equal(t, row.Label, back.Label)
	assert.Equal(t, row.DataType, back.DataType)
	assert.Equal(t, row.SubgroupTag, back.SubgroupTag)
	assert.Equal(t, row.OrderWithinSet, back.OrderWithinSet)
	assert.JSONEq(t, string(row.Value), string(back.Value))
	assert.JSONEq(t, string(row.Content), string(back.Content))

	again, err := VariableFromRow(back)
	require.NoError(t, err)
	assert.Equal(t, v, again)
}

func TestVariableFromRow_NullColumns(t *testing.T) {
	v, err := VariableFromRow(&VariableRow{VariableID: "notes", DataType: "text", Value: []byte("null")})
	require.NoError(t, err)

	assert.True(t, v.Value.IsEmpty())
	assert.Nil(t, v.Content)
	assert.Equal(t, domain.DefaultMetadata(), v.Metadata)

	row, err := VariableToRow(v)
	require.NoError(t, err)
	assert.Nil(t, row.Value)
	assert.Nil(t, row.Content)
}

func TestVariableFromRow_BadJSON(t *testing.T) {
	_, err := VariableFromRow(&VariableRow{VariableID: "x", Metadata: []byte("{")})
	assert.Error(t, err)
}

func TestVariableToRow_References(t *testing.T) {
	v := &domain.Variable{
		IDToken:  domain.NewToken("age_at_testing", "wisc", "v5"),
		DataType: domain.DataTypeAge,
		Metadata: domain.DefaultMetadata(),
	}
	v.Metadata.DerivedKind = domain.DerivedAge
	v.Metadata.ParentVariableKey = "wisc:v5:dob"
	v.Metadata.AgeReferenceKey = "::date_of_testing"
	v.Metadata.ChildVariableKeys = []string{"wisc:v5:x"}
	v.Metadata.ChildVariableIDs = []string{"x"}

	row, err := VariableToRow(v)
	require.NoError(t, err)
	assert.Contains(t, string(row.Metadata), `"parentVariableKey":"dob"`)
	assert.Contains(t, string(row.Metadata), `"ageReferenceKey":"::date_of_testing"`)
	assert.NotContains(t, string(row.Metadata), "childVariable")

	back, err := VariableFromRow(row)
	require.NoError(t, err)
	assert.Equal(t, "wisc:v5:dob", back.Metadata.ParentVariableKey)
	assert.Equal(t, "::date_of_testing", back.Metadata.AgeReferenceKey)
	assert.Empty(t, back.Metadata.ChildVariableKeys)
}

func TestVariableToRow_ContentReferences(t *testing.T) {
	v := &domain.Variable{
		IDToken:  domain.NewToken("reading_summary", "wisc", "v5"),
		DataType: domain.DataTypeText,
		Metadata: domain.DefaultMetadata(),
		Content: &domain.Content{
			Description:    "See {{wiat:v4:reading}} and {{wisc:v5:fsiq}}",
			Interpretation: "{{::pronouns.Subject}} read at {{wisc:v5:fsiq}}.",
		},
	}

	row, err := VariableToRow(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"description": "See {{wiat:v4:reading}} and {{fsiq}}",
		"interpretation": "{{::pronouns.Subject}} read at {{fsiq}}."
	}`, string(row.Content))

	back, err := VariableFromRow(row)
	require.NoError(t, err)
	assert.Equal(t, v.Content, back.Content)
}

func TestVariableFromRow_CompositeKeyFromID(t *testing.T) {
	v, err := VariableFromRow(&VariableRow{
		VariableID: "first_name",
		DataType:   "text",
		Metadata:   []byte(`{"associatedCompositeVariableId":"full_name"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "::full_name", v.Metadata.AssociatedCompositeVariableKey)
}

func TestVariableSetRowRoundTrip(t *testing.T) {
	set := &domain.VariableSet{
		IDToken: domain.NewToken("core", "wisc", "v5"),
		Label:   "Core",
		VariableIDs: domain.VariableIDs{
			All:       []string{"fsiq", "vci"},
			Subgroups: map[string]domain.Subgroup{"composites": {Required: []string{"fsiq"}, Optional: []string{"vci"}}},
		},
		SubgroupOrder:          []string{"composites"},
		DescriptiveRatingSetID: "wechsler",
	}

	row, err := VariableSetToRow(set)
	require.NoError(t, err)
	assert.Equal(t, "core", row.SetID)

	back, err := VariableSetFromRow(row)
	require.NoError(t, err)
	assert.Equal(t, set, back)
}

func TestVariableSetFromRow_Invalid(t *testing.T) {
	_, err := VariableSetFromRow(&VariableSetRow{
		SetID:       "core",
		VariableIDs: []byte(`{"all":["a"],"subgroups":{"x":{"required":["b"]}}}`),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidSet)
}

func TestRatingSetFromRow_SortsRules(t *testing.T) {
	rs, err := RatingSetFromRow(&RatingSetRow{
		ID:    "custom",
		Name:  "Custom",
		Rules: []byte(`[{"cutoffScore":0,"descriptor":"Low","dataType":"standard_score"},{"cutoffScore":100,"descriptor":"High","dataType":"standard_score"}]`),
	})
	require.NoError(t, err)
	require.Len(t, rs.Rules, 2)
	assert.Equal(t, "High", rs.Rules[0].Descriptor)
}

func TestVariablePatch_Columns(t *testing.T) {
	label := "New"
	order := 7
	value := domain.StringValue("101")
	token := domain.NewToken("fsiq", "wisc", "v5")

	cols, err := VariablePatch{Label: &label, OrderWithinSet: &order, Value: &value}.Columns(token)
	require.NoError(t, err)

	assert.Len(t, cols, 3)
	assert.Equal(t, "New", cols[ColLabel])
	assert.Equal(t, 7, cols[ColOrderWithinSet])
	assert.Equal(t, []byte(`"101"`), cols[ColValue])

	empty, err := VariablePatch{}.Columns(token)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
