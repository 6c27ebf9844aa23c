package reducer

import (
	"github.com/report-variables-server/internal/domain"
)

// Action is a state transition request. The set of actions is closed.
type Action interface {
	// Name labels the action in logs and metrics.
	Name() string
}

// AddVariable inserts a variable unless its key is already present.
type AddVariable struct {
	Variable *domain.Variable
	SetKey   string
}

// AddVariables inserts a batch with the same first-writer-wins rule.
type AddVariables struct {
	Variables []*domain.Variable
	SetKey    string
}

// SetVariable replaces a variable's value and propagates it.
type SetVariable struct {
	Key   string
	Value domain.Value
}

// RemoveVariable deletes a variable. Its children are kept or removed
// according to the reducer's OrphanPolicy.
type RemoveVariable struct {
	Key string
}

// AddVariableSet registers a set definition; the first registration wins.
type AddVariableSet struct {
	Set *domain.VariableSet
}

// RemoveVariableSet deletes a set and every variable loaded with it.
type RemoveVariableSet struct {
	Key string
}

// MarkVariablesHidden toggles the visibility of each listed variable.
type MarkVariablesHidden struct {
	Keys   []string
	Hidden bool
}

// UpdateVariableField edits one of the addressable text fields.
type UpdateVariableField struct {
	Key   string
	Field VariableField
	Text  string
}

// RegisterRatingSet makes a descriptor table available to derivation,
// replacing any set with the same id.
type RegisterRatingSet struct {
	Set *domain.DescriptiveRatingSet
}

func (AddVariable) Name() string         { return "add_variable" }
func (AddVariables) Name() string        { return "add_variables" }
func (SetVariable) Name() string         { return "set_variable" }
func (RemoveVariable) Name() string      { return "remove_variable" }
func (AddVariableSet) Name() string      { return "add_variable_set" }
func (RemoveVariableSet) Name() string   { return "remove_variable_set" }
func (MarkVariablesHidden) Name() string { return "mark_variables_hidden" }
func (UpdateVariableField) Name() string { return "update_variable_field" }
func (RegisterRatingSet) Name() string   { return "register_rating_set" }
