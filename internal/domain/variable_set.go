package domain

import (
	"fmt"
	"sort"
)

// Subgroup lists the variable ids of one subgroup, split into those that must
// be completed and those shown only when visible.
type Subgroup struct {
	Required []string `json:"required"`
	Optional []string `json:"optional"`
}

// VariableIDs is the membership of a variable set.
type VariableIDs struct {
	All       []string            `json:"all"`
	Subgroups map[string]Subgroup `json:"subgroups"`
}

// VariableSet is a named, ordered collection of variable references.
// Ids in VariableIDs are variable ids (not keys); they are resolved against the
// set's entity scope with MemberKey.
type VariableSet struct {
	IDToken                VariableIDToken `json:"idToken"`
	Label                  string          `json:"label"`
	VariableIDs            VariableIDs     `json:"variableIds"`
	SubgroupOrder          []string        `json:"subgroupOrder,omitempty"`
	DescriptiveRatingSetID string          `json:"descriptiveRatingSetId,omitempty"`
}

// Key is the projected key of the set's token.
func (s *VariableSet) Key() string {
	return s.IDToken.Key()
}

// MemberKey projects a member variable id into a variable key within the
// set's entity scope.
func (s *VariableSet) MemberKey(variableID string) string {
	return s.IDToken.WithVariableID(variableID).Key()
}

// MemberKeys returns the keys of every variable in the set, in order.
func (s *VariableSet) MemberKeys() []string {
	keys := make([]string, 0, len(s.VariableIDs.All))
	for _, id := range s.VariableIDs.All {
		keys = append(keys, s.MemberKey(id))
	}
	return keys
}

// Contains reports whether the set lists variableID.
func (s *VariableSet) Contains(variableID string) bool {
	for _, id := range s.VariableIDs.All {
		if id == variableID {
			return true
		}
	}
	return false
}

// Validate checks that every id named by a subgroup also appears in All and
// that no id is listed twice, either in All or across subgroups.
func (s *VariableSet) Validate() error {
	if s.IDToken.IsZero() {
		return fmt.Errorf("%w: missing id", ErrInvalidSet)
	}
	all := make(map[string]struct{}, len(s.VariableIDs.All))
	for _, id := range s.VariableIDs.All {
		if _, dup := all[id]; dup {
			return fmt.Errorf("%w: %q is listed twice", ErrInvalidSet, id)
		}
		all[id] = struct{}{}
	}

	tags := make([]string, 0, len(s.VariableIDs.Subgroups))
	for tag := range s.VariableIDs.Subgroups {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	owner := make(map[string]string)
	for _, tag := range tags {
		sg := s.VariableIDs.Subgroups[tag]
		for _, list := range [][]string{sg.Required, sg.Optional} {
			for _, id := range list {
				if _, ok := all[id]; !ok {
					return fmt.Errorf("%w: subgroup %q references %q which is not in the set", ErrInvalidSet, tag, id)
				}
				if prev, dup := owner[id]; dup {
					return fmt.Errorf("%w: %q is listed in subgroup %q and %q", ErrInvalidSet, id, prev, tag)
				}
				owner[id] = tag
			}
		}
	}
	return nil
}

// Clone returns a deep copy of the set.
func (s *VariableSet) Clone() *VariableSet {
	out := *s
	out.VariableIDs.All = append([]string(nil), s.VariableIDs.All...)
	out.SubgroupOrder = append([]string(nil), s.SubgroupOrder...)
	if s.VariableIDs.Subgroups != nil {
		out.VariableIDs.Subgroups = make(map[string]Subgroup, len(s.VariableIDs.Subgroups))
		for tag, sg := range s.VariableIDs.Subgroups {
			out.VariableIDs.Subgroups[tag] = Subgroup{
				Required: append([]string(nil), sg.Required...),
				Optional: append([]string(nil), sg.Optional...),
			}
		}
	}
	return &out
}
