package reducer

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/report-variables-server/internal/derivation"
	"github.com/report-variables-server/internal/domain"
)

// OrphanPolicy decides what happens to generated children when their parent
// is removed.
type OrphanPolicy string

const (
	// OrphanChildren leaves children in place with a dangling parent key.
	OrphanChildren OrphanPolicy = "orphan"
	// CascadeChildren removes children, and their children, with the parent.
	CascadeChildren OrphanPolicy = "cascade"
)

// ParseOrphanPolicy accepts "orphan", "cascade" or "" (orphan).
func ParseOrphanPolicy(s string) (OrphanPolicy, error) {
	switch OrphanPolicy(s) {
	case "", OrphanChildren:
		return OrphanChildren, nil
	case CascadeChildren:
		return CascadeChildren, nil
	default:
		return "", fmt.Errorf("unknown orphan policy %q", s)
	}
}

// Reducer applies actions to states.
type Reducer struct {
	logger *logrus.Logger
	policy OrphanPolicy
}

// NewReducer creates a reducer.
func NewReducer(logger *logrus.Logger, policy OrphanPolicy) *Reducer {
	if policy == "" {
		policy = OrphanChildren
	}
	return &Reducer{logger: logger, policy: policy}
}

// Policy returns the configured orphan policy.
func (r *Reducer) Policy() OrphanPolicy {
	return r.policy
}

// Reduce returns the state that results from applying action to state. Actions
// that do not apply (unknown keys, duplicates) return state unchanged.
func (r *Reducer) Reduce(state State, action Action) State {
	m := newMutation(state)

	switch a := action.(type) {
	case AddVariable:
		r.addVariable(m, a.Variable, a.SetKey)
	case AddVariables:
		for _, v := range a.Variables {
			r.addVariable(m, v, a.SetKey)
		}
	case SetVariable:
		r.setVariable(m, a.Key, a.Value)
	case RemoveVariable:
		r.removeVariable(m, a.Key)
	case AddVariableSet:
		r.addVariableSet(m, a.Set)
	case RemoveVariableSet:
		r.removeVariableSet(m, a.Key)
	case MarkVariablesHidden:
		r.markHidden(m, a.Keys, a.Hidden)
	case UpdateVariableField:
		r.updateField(m, a.Key, a.Field, a.Text)
	case RegisterRatingSet:
		if a.Set != nil {
			m.putRatingSet(a.Set)
		}
	default:
		r.logger.WithField("action", fmt.Sprintf("%T", action)).Error("Unknown reducer action")
	}

	next := m.result()
	outcome := "applied"
	if !m.changed() {
		outcome = "noop"
	}
	actionsTotal.WithLabelValues(actionName(action), outcome).Inc()
	variablesGauge.Set(float64(next.Len()))
	return next
}

func actionName(a Action) string {
	if a == nil {
		return "nil"
	}
	return a.Name()
}

func (r *Reducer) addVariable(m *mutation, v *domain.Variable, setKey string) {
	if v == nil {
		return
	}
	key := v.Key()
	if _, exists := m.variable(key); exists {
		r.logger.WithField("key", key).Debug("Variable already present, keeping existing value")
		return
	}
	m.insertVariable(v.Clone())
	if setKey != "" {
		m.setOwner(key, setKey)
	}
}

func (r *Reducer) setVariable(m *mutation, key string, value domain.Value) {
	v, ok := m.editable(key)
	if !ok {
		r.logger.WithField("key", key).Error("Cannot set value of unknown variable")
		return
	}
	v.Value = value

	if compositeKey := v.Metadata.AssociatedCompositeVariableKey; compositeKey != "" {
		r.markSubvariableEntered(m, compositeKey, v, !value.IsEmpty())
	}

	visited := map[string]bool{key: true}
	r.recomputeChildren(m, v, visited)
	r.recomputeAgesReferencing(m, key, visited)
}

// markSubvariableEntered updates the composite's completion entry for sub,
// matched by subvariable key or by variable id.
func (r *Reducer) markSubvariableEntered(m *mutation, compositeKey string, sub *domain.Variable, entered bool) {
	composite, ok := m.variable(compositeKey)
	if !ok {
		r.logger.WithFields(logrus.Fields{
			"key":       sub.Key(),
			"composite": compositeKey,
		}).Warn("Associated composite variable not found")
		return
	}

	idx := -1
	for i, prop := range composite.Metadata.AssociatedSubvariableProperties {
		if prop.ID == sub.Key() || prop.ID == sub.IDToken.VariableID {
			idx = i
			break
		}
	}
	if idx < 0 || composite.Metadata.AssociatedSubvariableProperties[idx].ValueEntered == entered {
		return
	}

	composite, _ = m.editable(compositeKey)
	composite.Metadata.AssociatedSubvariableProperties[idx].ValueEntered = entered
}

func (r *Reducer) recomputeChildren(m *mutation, parent *domain.Variable, visited map[string]bool) {
	if len(parent.Metadata.ChildVariableKeys) == 0 {
		return
	}
	rules := m.next.RulesFor(parent)

	for _, childKey := range parent.Metadata.ChildVariableKeys {
		if visited[childKey] {
			continue
		}
		visited[childKey] = true

		child, ok := m.variable(childKey)
		if !ok {
			r.logger.WithFields(logrus.Fields{
				"parent": parent.Key(),
				"child":  childKey,
			}).Debug("Child variable not loaded")
			continue
		}
		if !child.Metadata.AutoCalculate {
			continue
		}
		r.derive(m, parent, child, rules, visited)
	}
}

// recomputeAgesReferencing refreshes age children whose reference date is
// the variable at key.
func (r *Reducer) recomputeAgesReferencing(m *mutation, key string, visited map[string]bool) {
	for _, k := range m.next.order {
		child := m.next.variables[k]
		if child.Metadata.DerivedKind != domain.DerivedAge || child.Metadata.AgeReferenceKey != key {
			continue
		}
		if visited[k] || !child.Metadata.AutoCalculate {
			continue
		}
		parent, ok := m.variable(child.Metadata.ParentVariableKey)
		if !ok {
			continue
		}
		visited[k] = true
		r.derive(m, parent, child, nil, visited)
	}
}

func (r *Reducer) derive(m *mutation, parent, child *domain.Variable, rules []domain.DescriptorRule, visited map[string]bool) {
	value, err := derivation.Derive(parent, child, rules, m.variable)
	if err != nil {
		r.logger.WithFields(logrus.Fields{
			"parent": parent.Key(),
			"child":  child.Key(),
		}).WithError(err).Warn("Failed to derive child value")
		return
	}

	if !child.Value.Equal(value) {
		child, _ = m.editable(child.Key())
		child.Value = value
	}
	r.recomputeChildren(m, child, visited)
}

func (r *Reducer) removeVariable(m *mutation, key string) {
	v, ok := m.variable(key)
	if !ok {
		r.logger.WithField("key", key).Error("Cannot remove unknown variable")
		return
	}
	m.deleteVariable(key)

	if parentKey := v.Metadata.ParentVariableKey; parentKey != "" && m.next.Has(parentKey) {
		parent, _ := m.editable(parentKey)
		parent.Metadata.ChildVariableKeys = removeString(parent.Metadata.ChildVariableKeys, key)
		parent.Metadata.ChildVariableIDs = removeString(parent.Metadata.ChildVariableIDs, v.IDToken.VariableID)
	}

	if r.policy != CascadeChildren {
		if len(v.Metadata.ChildVariableKeys) > 0 {
			r.logger.WithFields(logrus.Fields{
				"key":      key,
				"children": v.Metadata.ChildVariableKeys,
			}).Debug("Removed variable leaves orphaned children")
		}
		return
	}
	for _, childKey := range v.Metadata.ChildVariableKeys {
		if m.next.Has(childKey) {
			r.removeVariable(m, childKey)
		}
	}
}

func (r *Reducer) addVariableSet(m *mutation, set *domain.VariableSet) {
	if set == nil {
		return
	}
	key := set.Key()
	if _, exists := m.next.sets[key]; exists {
		r.logger.WithField("set", key).Debug("Variable set already present")
		return
	}
	if err := set.Validate(); err != nil {
		r.logger.WithField("set", key).WithError(err).Error("Rejected invalid variable set")
		return
	}
	m.insertSet(set.Clone())
}

func (r *Reducer) removeVariableSet(m *mutation, key string) {
	if _, ok := m.next.sets[key]; !ok {
		r.logger.WithField("set", key).Error("Cannot remove unknown variable set")
		return
	}
	m.deleteSet(key)

	for _, k := range append([]string(nil), m.next.order...) {
		if m.next.owners[k] == key {
			m.deleteVariable(k)
		}
	}
}

func (r *Reducer) markHidden(m *mutation, keys []string, hidden bool) {
	want := domain.Visible
	if hidden {
		want = domain.Hidden
	}
	for _, key := range keys {
		v, ok := m.variable(key)
		if !ok {
			r.logger.WithField("key", key).Warn("Cannot change visibility of unknown variable")
			continue
		}
		if v.IsHidden() == hidden {
			continue
		}
		v, _ = m.editable(key)
		v.Metadata.Visibility.Self = want
	}
}

func (r *Reducer) updateField(m *mutation, key string, field VariableField, text string) {
	v, ok := m.variable(key)
	if !ok {
		r.logger.WithField("key", key).Error("Cannot update field of unknown variable")
		return
	}
	if _, err := ParseVariableField(string(field)); err != nil {
		r.logger.WithField("key", key).WithError(err).Error("Cannot update variable field")
		return
	}
	if field.Get(v) == text {
		return
	}
	v, _ = m.editable(key)
	field.set(v, text)
}
