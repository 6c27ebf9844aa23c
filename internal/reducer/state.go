// Package reducer holds the in-memory variable graph of a report and the
// state machine that mutates it. Every transition produces a new State; the
// maps inside a State are never written after it has been returned.
package reducer

import (
	"github.com/report-variables-server/internal/domain"
)

// State is an immutable snapshot of the variables, variable sets and rating
// sets of one report context. Variables and sets keep insertion order.
type State struct {
	variables map[string]*domain.Variable
	order     []string

	sets     map[string]*domain.VariableSet
	setOrder []string

	// owners maps a variable key to the key of the set it was loaded with.
	owners map[string]string

	ratingSets   map[string]*domain.DescriptiveRatingSet
	defaultRules []domain.DescriptorRule

	// version increases with every transition that changes the state.
	version uint64
}

// NewState returns an empty state using defaultRules when no rating set
// applies. A nil table selects domain.DefaultDescriptorRules.
func NewState(defaultRules []domain.DescriptorRule) State {
	if defaultRules == nil {
		defaultRules = domain.DefaultDescriptorRules()
	}
	return State{
		variables:    map[string]*domain.Variable{},
		sets:         map[string]*domain.VariableSet{},
		owners:       map[string]string{},
		ratingSets:   map[string]*domain.DescriptiveRatingSet{},
		defaultRules: defaultRules,
	}
}

// Variable returns the variable stored under key. The returned pointer is
// shared with the state and must not be modified.
func (s State) Variable(key string) (*domain.Variable, bool) {
	v, ok := s.variables[key]
	return v, ok
}

// Has reports whether key is present.
func (s State) Has(key string) bool {
	_, ok := s.variables[key]
	return ok
}

// Len is the number of variables.
func (s State) Len() int { return len(s.order) }

// Keys returns variable keys in insertion order.
func (s State) Keys() []string {
	return append([]string(nil), s.order...)
}

// Variables returns variables in insertion order.
func (s State) Variables() []*domain.Variable {
	out := make([]*domain.Variable, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.variables[k])
	}
	return out
}

// VariableSet returns the set stored under key.
func (s State) VariableSet(key string) (*domain.VariableSet, bool) {
	set, ok := s.sets[key]
	return set, ok
}

// VariableSets returns sets in insertion order.
func (s State) VariableSets() []*domain.VariableSet {
	out := make([]*domain.VariableSet, 0, len(s.setOrder))
	for _, k := range s.setOrder {
		out = append(out, s.sets[k])
	}
	return out
}

// OwnerOf returns the key of the set a variable was loaded with.
func (s State) OwnerOf(variableKey string) (string, bool) {
	k, ok := s.owners[variableKey]
	return k, ok
}

// SetVariables returns the variables owned by a set, in insertion order.
func (s State) SetVariables(setKey string) []*domain.Variable {
	var out []*domain.Variable
	for _, k := range s.order {
		if s.owners[k] == setKey {
			out = append(out, s.variables[k])
		}
	}
	return out
}

// RatingSet returns a registered rating set.
func (s State) RatingSet(id string) (*domain.DescriptiveRatingSet, bool) {
	rs, ok := s.ratingSets[id]
	return rs, ok
}

// Version increases with every transition that changes the state.
func (s State) Version() uint64 { return s.version }

// DefaultRules is the global descriptor table.
func (s State) DefaultRules() []domain.DescriptorRule {
	return s.defaultRules
}

// RulesFor resolves the descriptor rules that apply to the children of
// parent: the owning set's override, then the parent's own assignment, then
// the global default table. Unregistered rating set ids fall through.
func (s State) RulesFor(parent *domain.Variable) []domain.DescriptorRule {
	return s.RulesIn(s.owners[parent.Key()], parent)
}

// RulesIn is RulesFor for a parent that is, or will be, owned by setKey.
func (s State) RulesIn(setKey string, parent *domain.Variable) []domain.DescriptorRule {
	if set, ok := s.sets[setKey]; ok && set.DescriptiveRatingSetID != "" {
		if rs, ok := s.ratingSets[set.DescriptiveRatingSetID]; ok {
			return rs.Rules
		}
	}
	if id := parent.Metadata.DescriptiveRatingSetID; id != "" {
		if rs, ok := s.ratingSets[id]; ok {
			return rs.Rules
		}
	}
	return s.defaultRules
}

// mutation accumulates copy-on-write changes to a State. Maps are copied on
// first write; variables are cloned once per transition.
type mutation struct {
	base State
	next State

	varsCopied   bool
	setsCopied   bool
	ownersCopied bool
	ratesCopied  bool
	cloned       map[string]bool
}

func newMutation(s State) *mutation {
	return &mutation{base: s, next: s, cloned: map[string]bool{}}
}

func (m *mutation) variable(key string) (*domain.Variable, bool) {
	return m.next.Variable(key)
}

// editable returns a private copy of the variable at key, stored in the
// pending state.
func (m *mutation) editable(key string) (*domain.Variable, bool) {
	v, ok := m.next.variables[key]
	if !ok {
		return nil, false
	}
	if m.cloned[key] {
		return v, true
	}
	m.copyVariables()
	c := v.Clone()
	m.next.variables[key] = c
	m.cloned[key] = true
	return c, true
}

func (m *mutation) insertVariable(v *domain.Variable) {
	m.copyVariables()
	key := v.Key()
	m.next.variables[key] = v
	m.next.order = append(m.next.order, key)
	m.cloned[key] = true
}

func (m *mutation) deleteVariable(key string) {
	m.copyVariables()
	delete(m.next.variables, key)
	m.next.order = removeString(m.next.order, key)
	if _, ok := m.next.owners[key]; ok {
		m.copyOwners()
		delete(m.next.owners, key)
	}
}

func (m *mutation) setOwner(variableKey, setKey string) {
	m.copyOwners()
	m.next.owners[variableKey] = setKey
}

func (m *mutation) insertSet(set *domain.VariableSet) {
	m.copySets()
	key := set.Key()
	m.next.sets[key] = set
	m.next.setOrder = append(m.next.setOrder, key)
}

func (m *mutation) deleteSet(key string) {
	m.copySets()
	delete(m.next.sets, key)
	m.next.setOrder = removeString(m.next.setOrder, key)
}

func (m *mutation) putRatingSet(rs *domain.DescriptiveRatingSet) {
	if !m.ratesCopied {
		m.next.ratingSets = copyMap(m.next.ratingSets)
		m.ratesCopied = true
	}
	m.next.ratingSets[rs.ID] = rs
}

func (m *mutation) changed() bool {
	return m.varsCopied || m.setsCopied || m.ownersCopied || m.ratesCopied
}

func (m *mutation) result() State {
	if !m.changed() {
		return m.base
	}
	m.next.version = m.base.version + 1
	return m.next
}

func (m *mutation) copyVariables() {
	if m.varsCopied {
		return
	}
	m.next.variables = copyMap(m.next.variables)
	m.next.order = append([]string(nil), m.next.order...)
	m.varsCopied = true
}

func (m *mutation) copySets() {
	if m.setsCopied {
		return
	}
	m.next.sets = copyMap(m.next.sets)
	m.next.setOrder = append([]string(nil), m.next.setOrder...)
	m.setsCopied = true
}

func (m *mutation) copyOwners() {
	if m.ownersCopied {
		return
	}
	m.next.owners = copyMap(m.next.owners)
	m.ownersCopied = true
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, item := range list {
		if item != s {
			out = append(out, item)
		}
	}
	return out
}
