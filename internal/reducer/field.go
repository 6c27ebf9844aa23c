package reducer

import (
	"fmt"

	"github.com/report-variables-server/internal/domain"
)

// VariableField names a text field that can be edited in place.
type VariableField string

const (
	FieldLabel           VariableField = "label"
	FieldFullName        VariableField = "fullName"
	FieldAbbreviatedName VariableField = "abbreviatedName"
	FieldDescription     VariableField = "description"
	FieldInterpretation  VariableField = "interpretation"
	FieldPlaceholder     VariableField = "placeholder"
)

// AllVariableFields lists every addressable field.
var AllVariableFields = []VariableField{
	FieldLabel,
	FieldFullName,
	FieldAbbreviatedName,
	FieldDescription,
	FieldInterpretation,
	FieldPlaceholder,
}

// ParseVariableField validates a field name received from a client.
func ParseVariableField(s string) (VariableField, error) {
	for _, f := range AllVariableFields {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown variable field %q", s)
}

// Get reads the field from v.
func (f VariableField) Get(v *domain.Variable) string {
	switch f {
	case FieldLabel:
		return v.Label
	case FieldFullName:
		return v.FullName
	case FieldAbbreviatedName:
		return v.AbbreviatedName
	case FieldDescription:
		if v.Content != nil {
			return v.Content.Description
		}
	case FieldInterpretation:
		if v.Content != nil {
			return v.Content.Interpretation
		}
	case FieldPlaceholder:
		return v.Metadata.Placeholder
	}
	return ""
}

// set writes the field on v, which must be a private copy.
func (f VariableField) set(v *domain.Variable, text string) {
	switch f {
	case FieldLabel:
		v.Label = text
	case FieldFullName:
		v.FullName = text
	case FieldAbbreviatedName:
		v.AbbreviatedName = text
	case FieldDescription:
		if v.Content == nil {
			v.Content = &domain.Content{}
		}
		v.Content.Description = text
	case FieldInterpretation:
		if v.Content == nil {
			v.Content = &domain.Content{}
		}
		v.Content.Interpretation = text
	case FieldPlaceholder:
		v.Metadata.Placeholder = text
	}
}
