package domain

import (
	"sort"
)

// DescriptorRule labels every score of DataType at or above CutoffScore,
// unless a tighter rule applies.
type DescriptorRule struct {
	CutoffScore float64  `json:"cutoffScore"`
	Descriptor  string   `json:"descriptor"`
	DataType    DataType `json:"dataType"`
}

// DescriptiveRatingSet is a named table of descriptor rules.
type DescriptiveRatingSet struct {
	ID    string           `json:"id"`
	Name  string           `json:"name"`
	Rules []DescriptorRule `json:"rules"`
}

// NewDescriptiveRatingSet builds a rating set with its rules sorted so that
// the first match is the tightest applicable band.
func NewDescriptiveRatingSet(id, name string, rules []DescriptorRule) *DescriptiveRatingSet {
	sorted := append([]DescriptorRule(nil), rules...)
	SortRules(sorted)
	return &DescriptiveRatingSet{ID: id, Name: name, Rules: sorted}
}

// SortRules orders rules descending by cutoff. Equal cutoffs keep their
// relative order.
func SortRules(rules []DescriptorRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].CutoffScore > rules[j].CutoffScore
	})
}

// DefaultDescriptorRules is the global table used when neither the variable
// set nor the variable assigns a rating set.
func DefaultDescriptorRules() []DescriptorRule {
	rules := []DescriptorRule{
		{CutoffScore: 130, Descriptor: "Extremely High", DataType: DataTypeStandardScore},
		{CutoffScore: 120, Descriptor: "Very High", DataType: DataTypeStandardScore},
		{CutoffScore: 110, Descriptor: "High Average", DataType: DataTypeStandardScore},
		{CutoffScore: 90, Descriptor: "Average", DataType: DataTypeStandardScore},
		{CutoffScore: 80, Descriptor: "Low Average", DataType: DataTypeStandardScore},
		{CutoffScore: 70, Descriptor: "Very Low", DataType: DataTypeStandardScore},
		{CutoffScore: 0, Descriptor: "Extremely Low", DataType: DataTypeStandardScore},

		{CutoffScore: 16, Descriptor: "Well Above Average", DataType: DataTypeScaledScore},
		{CutoffScore: 13, Descriptor: "Above Average", DataType: DataTypeScaledScore},
		{CutoffScore: 8, Descriptor: "Average", DataType: DataTypeScaledScore},
		{CutoffScore: 6, Descriptor: "Below Average", DataType: DataTypeScaledScore},
		{CutoffScore: 0, Descriptor: "Well Below Average", DataType: DataTypeScaledScore},

		{CutoffScore: 70, Descriptor: "Clinically Significant", DataType: DataTypeTScore},
		{CutoffScore: 60, Descriptor: "At-Risk", DataType: DataTypeTScore},
		{CutoffScore: 0, Descriptor: "Average", DataType: DataTypeTScore},
	}
	SortRules(rules)
	return rules
}
