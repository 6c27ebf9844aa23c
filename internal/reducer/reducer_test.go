package reducer

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/report-variables-server/internal/derivation"
	"github.com/report-variables-server/internal/domain"
)

func newTestReducer(policy OrphanPolicy) (*Reducer, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return NewReducer(logger, policy), hook
}

func scoreVariable(id string) *domain.Variable {
	meta := domain.DefaultMetadata()
	meta.AutoCreatePercentileRank = true
	meta.AutoCreateDescriptor = true
	return &domain.Variable{
		IDToken:         domain.NewToken(id, "wisc", "v5"),
		FullName:        "Full Scale IQ",
		AbbreviatedName: "FSIQ",
		DataType:        domain.DataTypeStandardScore,
		Value:           domain.NullValue(),
		Metadata:        meta,
	}
}

// loadScore adds a score variable with its generated children.
func loadScore(t *testing.T, r *Reducer, s State, id, setKey string) (State, *domain.Variable) {
	t.Helper()
	parent := scoreVariable(id)
	children := derivation.GenerateChildren(parent, nil)
	batch := append([]*domain.Variable{parent}, children...)
	s = r.Reduce(s, AddVariables{Variables: batch, SetKey: setKey})
	require.True(t, s.Has(parent.Key()))
	return s, parent
}

func prKey(parent *domain.Variable) string {
	return derivation.ChildKey(parent.Key(), domain.DerivedPercentileRank)
}

func descKey(parent *domain.Variable) string {
	return derivation.ChildKey(parent.Key(), domain.DerivedDescriptor)
}

func TestReduce_AddVariable(t *testing.T) {
	r, _ := newTestReducer("")
	s := NewState(nil)

	v := scoreVariable("fsiq")
	v.Value = domain.NumberValue(100)
	s = r.Reduce(s, AddVariable{Variable: v, SetKey: "wisc:v5:core"})

	got, ok := s.Variable(v.Key())
	require.True(t, ok)
	assert.Equal(t, domain.NumberValue(100), got.Value)
	assert.NotSame(t, v, got, "the state owns its own copy")

	owner, ok := s.OwnerOf(v.Key())
	require.True(t, ok)
	assert.Equal(t, "wisc:v5:core", owner)
}

func TestReduce_AddVariable_FirstWriterWins(t *testing.T) {
	r, hook := newTestReducer("")
	s := NewState(nil)

	first := scoreVariable("fsiq")
	first.Value = domain.NumberValue(100)
	s = r.Reduce(s, AddVariable{Variable: first})

	second := scoreVariable("fsiq")
	second.Value = domain.NumberValue(70)
	next := r.Reduce(s, AddVariable{Variable: second})

	got, _ := next.Variable(first.Key())
	assert.Equal(t, domain.NumberValue(100), got.Value)
	assert.Equal(t, s.Version(), next.Version())
	assert.Equal(t, 1, next.Len())
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.DebugLevel, hook.LastEntry().Level)
}

func TestReduce_SetVariable_RecomputesChildren(t *testing.T) {
	r, _ := newTestReducer("")
	s, parent := loadScore(t, r, NewState(nil), "fsiq", "")

	s = r.Reduce(s, SetVariable{Key: parent.Key(), Value: domain.NumberValue(100)})

	pr, ok := s.Variable(prKey(parent))
	require.True(t, ok)
	assert.Equal(t, domain.StringValue("50th"), pr.Value)

	desc, ok := s.Variable(descKey(parent))
	require.True(t, ok)
	assert.Equal(t, domain.StringValue("Average"), desc.Value)

	s = r.Reduce(s, SetVariable{Key: parent.Key(), Value: domain.StringValue("130")})
	pr, _ = s.Variable(prKey(parent))
	desc, _ = s.Variable(descKey(parent))
	assert.Equal(t, domain.StringValue("98th"), pr.Value)
	assert.Equal(t, domain.StringValue("Extremely High"), desc.Value)

	s = r.Reduce(s, SetVariable{Key: parent.Key(), Value: domain.NullValue()})
	pr, _ = s.Variable(prKey(parent))
	assert.True(t, pr.Value.IsEmpty())
}

func TestReduce_SetVariable_MatchesClosedForm(t *testing.T) {
	r, _ := newTestReducer("")

	for _, score := range []float64{55, 70, 85, 99, 100, 101, 117, 130, 146} {
		s, parent := loadScore(t, r, NewState(nil), "fsiq", "")
		s = r.Reduce(s, SetVariable{Key: parent.Key(), Value: domain.NumberValue(score)})

		pr, _ := s.Variable(prKey(parent))
		expected := derivation.FormatPercentile(
			derivation.PercentileFromScore(score, domain.DataTypeStandardScore), score, domain.DataTypeStandardScore)
		assert.Equal(t, domain.StringValue(expected), pr.Value, "score %v", score)
	}
}

func TestReduce_SetVariable_AutoCalculateDisabled(t *testing.T) {
	r, _ := newTestReducer("")
	parent := scoreVariable("fsiq")
	parent.Metadata.AutoCalculatePercentileRank = false
	parent.Metadata.AutoCalculateDescriptor = false
	children := derivation.GenerateChildren(parent, nil)
	s := r.Reduce(NewState(nil), AddVariables{Variables: append([]*domain.Variable{parent}, children...)})

	s = r.Reduce(s, SetVariable{Key: prKey(parent), Value: domain.StringValue("manual")})
	before, _ := s.Variable(descKey(parent))

	s = r.Reduce(s, SetVariable{Key: parent.Key(), Value: domain.NumberValue(120)})

	pr, _ := s.Variable(prKey(parent))
	desc, _ := s.Variable(descKey(parent))
	assert.Equal(t, domain.StringValue("manual"), pr.Value)
	assert.Same(t, before, desc, "untouched children keep their pointer")
}

func TestReduce_SetVariable_UnknownKey(t *testing.T) {
	r, hook := newTestReducer("")
	s, _ := loadScore(t, r, NewState(nil), "fsiq", "")

	next := r.Reduce(s, SetVariable{Key: "wisc:v5:missing", Value: domain.NumberValue(1)})

	assert.Equal(t, s.Version(), next.Version())
	assert.Equal(t, s.Keys(), next.Keys())
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestReduce_SetVariable_CopyOnWrite(t *testing.T) {
	r, _ := newTestReducer("")
	s, parent := loadScore(t, r, NewState(nil), "fsiq", "")
	other := scoreVariable("vci")
	s = r.Reduce(s, AddVariable{Variable: other})

	otherBefore, _ := s.Variable(other.Key())
	parentBefore, _ := s.Variable(parent.Key())

	next := r.Reduce(s, SetVariable{Key: parent.Key(), Value: domain.NumberValue(90)})

	otherAfter, _ := next.Variable(other.Key())
	parentAfter, _ := next.Variable(parent.Key())
	assert.Same(t, otherBefore, otherAfter)
	assert.NotSame(t, parentBefore, parentAfter)

	assert.True(t, parentBefore.Value.IsEmpty(), "published states are never modified")
	assert.Equal(t, domain.NumberValue(90), parentAfter.Value)
}

func TestReduce_SetVariable_CompositeCompletion(t *testing.T) {
	r, _ := newTestReducer("")

	composite := &domain.Variable{
		IDToken:  domain.NewToken("full_name", "", ""),
		DataType: domain.DataTypeText,
		Metadata: domain.Metadata{
			AssociatedSubvariableProperties: []domain.SubvariableProperty{
				{ID: "first_name", FullName: "First Name"},
				{ID: "::last_name", FullName: "Last Name"},
			},
		},
	}
	first := &domain.Variable{
		IDToken:  domain.NewToken("first_name", "", ""),
		DataType: domain.DataTypeText,
		Metadata: domain.Metadata{
			AssociatedCompositeVariableID:  "full_name",
			AssociatedCompositeVariableKey: composite.Key(),
		},
	}
	last := first.Clone()
	last.IDToken = domain.NewToken("last_name", "", "")

	s := r.Reduce(NewState(nil), AddVariables{Variables: []*domain.Variable{composite, first, last}})

	s = r.Reduce(s, SetVariable{Key: first.Key(), Value: domain.StringValue("Ada")})
	got, _ := s.Variable(composite.Key())
	assert.True(t, got.Metadata.AssociatedSubvariableProperties[0].ValueEntered)
	assert.False(t, got.Metadata.AssociatedSubvariableProperties[1].ValueEntered)

	s = r.Reduce(s, SetVariable{Key: last.Key(), Value: domain.StringValue("Lovelace")})
	got, _ = s.Variable(composite.Key())
	assert.True(t, got.Metadata.AssociatedSubvariableProperties[1].ValueEntered)

	s = r.Reduce(s, SetVariable{Key: first.Key(), Value: domain.StringValue("   ")})
	got, _ = s.Variable(composite.Key())
	assert.False(t, got.Metadata.AssociatedSubvariableProperties[0].ValueEntered)
	assert.True(t, got.Metadata.AssociatedSubvariableProperties[1].ValueEntered)
}

func TestReduce_SetVariable_Grandchildren(t *testing.T) {
	r, _ := newTestReducer("")
	parent := scoreVariable("fsiq")
	children := derivation.GenerateChildren(parent, nil)
	pr := children[0]

	grandchild := &domain.Variable{
		IDToken:  pr.IDToken.WithVariableID(pr.IDToken.VariableID + "_descriptor"),
		DataType: domain.DataTypeDescriptor,
		Metadata: domain.Metadata{
			AutoCalculate:     true,
			DerivedKind:       domain.DerivedDescriptor,
			ParentVariableKey: pr.Key(),
		},
	}
	pr.AddChild(grandchild)
	pr.DataType = domain.DataTypeStandardScore

	s := r.Reduce(NewState(nil), AddVariables{Variables: []*domain.Variable{parent, pr, grandchild}})
	s = r.Reduce(s, SetVariable{Key: parent.Key(), Value: domain.NumberValue(100)})

	got, _ := s.Variable(grandchild.Key())
	assert.Equal(t, domain.StringValue(domain.InvalidScore), got.Value, "the grandchild follows its parent's derived text")
}

func TestReduce_SetVariable_ChildCycleTerminates(t *testing.T) {
	r, _ := newTestReducer("")
	a := scoreVariable("a")
	b := scoreVariable("b")
	b.Metadata.DerivedKind = domain.DerivedPercentileRank
	b.Metadata.ParentVariableKey = a.Key()
	a.Metadata.DerivedKind = domain.DerivedPercentileRank
	a.Metadata.ParentVariableKey = b.Key()
	a.AddChild(b)
	b.AddChild(a)

	s := r.Reduce(NewState(nil), AddVariables{Variables: []*domain.Variable{a, b}})
	s = r.Reduce(s, SetVariable{Key: a.Key(), Value: domain.NumberValue(100)})

	got, _ := s.Variable(b.Key())
	assert.Equal(t, domain.StringValue("50th"), got.Value)
}

func TestReduce_SetVariable_AgeFollowsReferenceDate(t *testing.T) {
	r, _ := newTestReducer("")
	dob := &domain.Variable{IDToken: domain.NewToken("dob", "", ""), DataType: domain.DataTypeDate}
	testDate := &domain.Variable{IDToken: domain.NewToken("date_of_testing", "", ""), DataType: domain.DataTypeDate}
	age := &domain.Variable{
		IDToken:  domain.NewToken("age_at_testing", "", ""),
		DataType: domain.DataTypeAge,
		Metadata: domain.Metadata{
			AutoCalculate:     true,
			DerivedKind:       domain.DerivedAge,
			ParentVariableKey: dob.Key(),
			AgeReferenceKey:   testDate.Key(),
		},
	}
	dob.AddChild(age)

	s := r.Reduce(NewState(nil), AddVariables{Variables: []*domain.Variable{dob, testDate, age}})
	s = r.Reduce(s, SetVariable{Key: dob.Key(), Value: domain.StringValue("2015-03-14")})

	got, _ := s.Variable(age.Key())
	assert.True(t, got.Value.IsEmpty(), "no reference date yet")

	s = r.Reduce(s, SetVariable{Key: testDate.Key(), Value: domain.StringValue("2024-06-20")})
	got, _ = s.Variable(age.Key())
	assert.Equal(t, "9 years, 3 months", got.Value.Text())
}

func TestReduce_RemoveVariable(t *testing.T) {
	t.Run("Orphans children by default", func(t *testing.T) {
		r, _ := newTestReducer("")
		s, parent := loadScore(t, r, NewState(nil), "fsiq", "")

		s = r.Reduce(s, RemoveVariable{Key: parent.Key()})

		assert.False(t, s.Has(parent.Key()))
		assert.True(t, s.Has(prKey(parent)))
		assert.True(t, s.Has(descKey(parent)))
	})

	t.Run("Cascade removes children", func(t *testing.T) {
		r, _ := newTestReducer(CascadeChildren)
		s, parent := loadScore(t, r, NewState(nil), "fsiq", "")

		s = r.Reduce(s, RemoveVariable{Key: parent.Key()})

		assert.Equal(t, 0, s.Len())
	})

	t.Run("Removing a child unregisters it from the parent", func(t *testing.T) {
		r, _ := newTestReducer("")
		s, parent := loadScore(t, r, NewState(nil), "fsiq", "")

		s = r.Reduce(s, RemoveVariable{Key: prKey(parent)})

		got, _ := s.Variable(parent.Key())
		assert.Equal(t, []string{descKey(parent)}, got.Metadata.ChildVariableKeys)
		assert.Equal(t, []string{"fsiq_descriptor"}, got.Metadata.ChildVariableIDs)
	})

	t.Run("Unknown key is a no-op", func(t *testing.T) {
		r, hook := newTestReducer("")
		s, _ := loadScore(t, r, NewState(nil), "fsiq", "")

		next := r.Reduce(s, RemoveVariable{Key: "nope"})

		assert.Equal(t, s.Keys(), next.Keys())
		assert.Equal(t, s.Variables(), next.Variables())
		assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	})
}

func TestReduce_VariableSets(t *testing.T) {
	r, _ := newTestReducer("")

	set := &domain.VariableSet{
		IDToken: domain.NewToken("core", "wisc", "v5"),
		Label:   "WISC-V Core",
		VariableIDs: domain.VariableIDs{
			All: []string{"fsiq", "vci"},
			Subgroups: map[string]domain.Subgroup{
				"composites": {Required: []string{"fsiq"}, Optional: []string{"vci"}},
			},
		},
	}

	s := r.Reduce(NewState(nil), AddVariableSet{Set: set})
	s, fsiq := loadScore(t, r, s, "fsiq", set.Key())
	s = r.Reduce(s, AddVariable{Variable: scoreVariable("unrelated")})
	require.Equal(t, 4, s.Len())
	assert.Len(t, s.SetVariables(set.Key()), 3)

	t.Run("First writer wins", func(t *testing.T) {
		dup := set.Clone()
		dup.Label = "Other"
		next := r.Reduce(s, AddVariableSet{Set: dup})
		got, _ := next.VariableSet(set.Key())
		assert.Equal(t, "WISC-V Core", got.Label)
	})

	t.Run("Invalid sets are rejected", func(t *testing.T) {
		bad := &domain.VariableSet{
			IDToken: domain.NewToken("bad", "", ""),
			VariableIDs: domain.VariableIDs{
				Subgroups: map[string]domain.Subgroup{"x": {Required: []string{"ghost"}}},
			},
		}
		next := r.Reduce(s, AddVariableSet{Set: bad})
		_, ok := next.VariableSet(bad.Key())
		assert.False(t, ok)
	})

	t.Run("Removal removes owned variables", func(t *testing.T) {
		next := r.Reduce(s, RemoveVariableSet{Key: set.Key()})
		_, ok := next.VariableSet(set.Key())
		assert.False(t, ok)
		assert.False(t, next.Has(fsiq.Key()))
		assert.False(t, next.Has(prKey(fsiq)))
		assert.Equal(t, 1, next.Len())
		assert.True(t, s.Has(fsiq.Key()), "previous state is unchanged")
	})
}

func TestReduce_MarkVariablesHidden(t *testing.T) {
	r, _ := newTestReducer("")
	s, parent := loadScore(t, r, NewState(nil), "fsiq", "")
	s = r.Reduce(s, SetVariable{Key: parent.Key(), Value: domain.NumberValue(100)})
	before := s.Variables()

	s = r.Reduce(s, MarkVariablesHidden{Keys: []string{parent.Key(), descKey(parent), "missing"}, Hidden: true})

	for i, v := range s.Variables() {
		old := before[i]
		assert.Equal(t, old.Value, v.Value, v.Key())
		if v.Key() == prKey(parent) {
			assert.False(t, v.IsHidden())
			assert.Same(t, old, v)
			continue
		}
		assert.True(t, v.IsHidden(), v.Key())

		expected := old.Clone()
		expected.Metadata.Visibility.Self = domain.Hidden
		assert.Equal(t, expected, v, "only visibility changes")
	}

	s = r.Reduce(s, MarkVariablesHidden{Keys: []string{parent.Key()}, Hidden: false})
	got, _ := s.Variable(parent.Key())
	assert.False(t, got.IsHidden())
}

func TestReduce_UpdateVariableField(t *testing.T) {
	r, _ := newTestReducer("")
	s, parent := loadScore(t, r, NewState(nil), "fsiq", "")

	for _, f := range AllVariableFields {
		s = r.Reduce(s, UpdateVariableField{Key: parent.Key(), Field: f, Text: "new " + string(f)})
		got, _ := s.Variable(parent.Key())
		assert.Equal(t, "new "+string(f), f.Get(got))
	}

	version := s.Version()
	s = r.Reduce(s, UpdateVariableField{Key: parent.Key(), Field: VariableField("value"), Text: "x"})
	assert.Equal(t, version, s.Version())
}

func TestParseVariableField(t *testing.T) {
	f, err := ParseVariableField("abbreviatedName")
	require.NoError(t, err)
	assert.Equal(t, FieldAbbreviatedName, f)

	_, err = ParseVariableField("metadata.visibility")
	assert.Error(t, err)
}

func TestReduce_DescriptorRuleResolution(t *testing.T) {
	r, _ := newTestReducer("")

	variableRules := domain.NewDescriptiveRatingSet("per-variable", "Per variable", []domain.DescriptorRule{
		{CutoffScore: 0, Descriptor: "Variable rule", DataType: domain.DataTypeStandardScore},
	})
	setRules := domain.NewDescriptiveRatingSet("per-set", "Per set", []domain.DescriptorRule{
		{CutoffScore: 0, Descriptor: "Set rule", DataType: domain.DataTypeStandardScore},
	})

	newState := func(setOverride string) (State, *domain.Variable) {
		set := &domain.VariableSet{
			IDToken:                domain.NewToken("core", "wisc", "v5"),
			VariableIDs:            domain.VariableIDs{All: []string{"fsiq"}},
			DescriptiveRatingSetID: setOverride,
		}
		s := NewState(nil)
		s = r.Reduce(s, RegisterRatingSet{Set: variableRules})
		s = r.Reduce(s, RegisterRatingSet{Set: setRules})
		s = r.Reduce(s, AddVariableSet{Set: set})

		parent := scoreVariable("fsiq")
		parent.Metadata.DescriptiveRatingSetID = "per-variable"
		children := derivation.GenerateChildren(parent, nil)
		s = r.Reduce(s, AddVariables{Variables: append([]*domain.Variable{parent}, children...), SetKey: set.Key()})
		s = r.Reduce(s, SetVariable{Key: parent.Key(), Value: domain.NumberValue(100)})
		return s, parent
	}

	s, parent := newState("per-set")
	desc, _ := s.Variable(descKey(parent))
	assert.Equal(t, "Set rule", desc.Value.Text())

	s, parent = newState("")
	desc, _ = s.Variable(descKey(parent))
	assert.Equal(t, "Variable rule", desc.Value.Text())

	s, parent = newState("unregistered")
	desc, _ = s.Variable(descKey(parent))
	assert.Equal(t, "Variable rule", desc.Value.Text())
}

func TestParseOrphanPolicy(t *testing.T) {
	p, err := ParseOrphanPolicy("")
	require.NoError(t, err)
	assert.Equal(t, OrphanChildren, p)

	p, err = ParseOrphanPolicy("cascade")
	require.NoError(t, err)
	assert.Equal(t, CascadeChildren, p)

	_, err = ParseOrphanPolicy("delete")
	assert.Error(t, err)
}
