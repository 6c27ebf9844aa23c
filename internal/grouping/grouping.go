// Package grouping arranges the variables of a set for display and reports
// how much of each subgroup has been filled in.
package grouping

import (
	"sort"

	"github.com/report-variables-server/internal/domain"
)

// Lookup resolves a variable key.
type Lookup func(key string) (*domain.Variable, bool)

// Ungrouped tags set members that appear in no subgroup.
const Ungrouped = ""

// Entry is one displayed variable.
type Entry struct {
	Variable *domain.Variable `json:"variable"`
	Required bool             `json:"required"`
	// Derived entries are generated children shown beneath their parent.
	Derived bool `json:"derived,omitempty"`
}

// Group is a subgroup of a set in display order.
type Group struct {
	Tag     string  `json:"tag"`
	Entries []Entry `json:"entries"`
}

// Options control which variables Order emits.
type Options struct {
	// IncludeHidden keeps variables whose own visibility is hidden.
	IncludeHidden bool
	// IncludeChildren places generated children right after their parent.
	IncludeChildren bool
}

type member struct {
	id       string
	required bool
}

// Order lays out the variables of set. Subgroups follow set.SubgroupOrder,
// then the remaining tags alphabetically, then ungrouped members. Within a
// subgroup required variables come first, then each part is sorted by
// OrderWithinSet. Members that are not loaded are skipped. Groups left empty
// after filtering are omitted.
func Order(set *domain.VariableSet, lookup Lookup, opts Options) []Group {
	var groups []Group
	for _, tag := range tagOrder(set) {
		members := subgroupMembers(set, tag)
		g := Group{Tag: tag}
		for _, required := range []bool{true, false} {
			var part []*domain.Variable
			for _, m := range members {
				if m.required != required {
					continue
				}
				v, ok := lookup(set.MemberKey(m.id))
				if !ok || (!opts.IncludeHidden && v.IsHidden()) {
					continue
				}
				part = append(part, v)
			}
			sort.SliceStable(part, func(i, j int) bool {
				return part[i].OrderWithinSet < part[j].OrderWithinSet
			})
			for _, v := range part {
				g.Entries = append(g.Entries, Entry{Variable: v, Required: required})
				if opts.IncludeChildren {
					g.Entries = append(g.Entries, children(v, lookup, required, opts)...)
				}
			}
		}
		if len(g.Entries) > 0 {
			groups = append(groups, g)
		}
	}
	return groups
}

func children(parent *domain.Variable, lookup Lookup, required bool, opts Options) []Entry {
	var out []Entry
	for _, key := range parent.Metadata.ChildVariableKeys {
		child, ok := lookup(key)
		if !ok || (!opts.IncludeHidden && child.IsHidden()) {
			continue
		}
		out = append(out, Entry{Variable: child, Required: required, Derived: true})
	}
	return out
}

// tagOrder returns every subgroup tag once: declared order first, then the
// rest sorted, then Ungrouped if any member has no subgroup.
func tagOrder(set *domain.VariableSet) []string {
	seen := map[string]bool{}
	var tags []string
	for _, tag := range set.SubgroupOrder {
		if _, ok := set.VariableIDs.Subgroups[tag]; ok && !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}

	var rest []string
	for tag := range set.VariableIDs.Subgroups {
		if !seen[tag] {
			rest = append(rest, tag)
		}
	}
	sort.Strings(rest)
	tags = append(tags, rest...)

	if len(ungroupedIDs(set)) > 0 {
		tags = append(tags, Ungrouped)
	}
	return tags
}

func subgroupMembers(set *domain.VariableSet, tag string) []member {
	var out []member
	if tag == Ungrouped {
		for _, id := range ungroupedIDs(set) {
			out = append(out, member{id: id, required: true})
		}
		return out
	}
	sg := set.VariableIDs.Subgroups[tag]
	for _, id := range sg.Required {
		out = append(out, member{id: id, required: true})
	}
	for _, id := range sg.Optional {
		out = append(out, member{id: id, required: false})
	}
	return out
}

func ungroupedIDs(set *domain.VariableSet) []string {
	grouped := map[string]bool{}
	for _, sg := range set.VariableIDs.Subgroups {
		for _, id := range sg.Required {
			grouped[id] = true
		}
		for _, id := range sg.Optional {
			grouped[id] = true
		}
	}
	var out []string
	for _, id := range set.VariableIDs.All {
		if !grouped[id] {
			out = append(out, id)
		}
	}
	return out
}
