// Package domain contains the core entities of the report variables subsystem:
// identity tokens, variables and their metadata, variable sets and the
// descriptive rating rules used to label scores.
package domain

// DataType identifies how a variable's value is interpreted and which
// derivations apply to it.
type DataType string

const (
	DataTypeStandardScore DataType = "standard_score"
	DataTypeScaledScore   DataType = "scaled_score"
	DataTypeTScore        DataType = "t_score"
	DataTypePercentile    DataType = "percentile"
	DataTypeDescriptor    DataType = "descriptor"
	DataTypeQualitative   DataType = "qualitative"
	DataTypeDate          DataType = "date"
	DataTypeAge           DataType = "age"
	DataTypeText          DataType = "text"
	DataTypeNumber        DataType = "number"
	DataTypeBoolean       DataType = "boolean"
	DataTypePronoun       DataType = "pronoun"
)

// AllDataTypes lists every supported data type in display order.
var AllDataTypes = []DataType{
	DataTypeStandardScore,
	DataTypeScaledScore,
	DataTypeTScore,
	DataTypePercentile,
	DataTypeDescriptor,
	DataTypeQualitative,
	DataTypeDate,
	DataTypeAge,
	DataTypeText,
	DataTypeNumber,
	DataTypeBoolean,
	DataTypePronoun,
}

// IsValid reports whether d is a known data type.
func (d DataType) IsValid() bool {
	for _, known := range AllDataTypes {
		if d == known {
			return true
		}
	}
	return false
}

// IsScore reports whether values of this type are normed scores that can
// produce percentile ranks and descriptors.
func (d DataType) IsScore() bool {
	switch d {
	case DataTypeStandardScore, DataTypeScaledScore, DataTypeTScore:
		return true
	default:
		return false
	}
}

// String returns the persisted representation of the data type.
func (d DataType) String() string {
	return string(d)
}

// Visibility controls whether a variable is shown in tables and forms.
type Visibility string

const (
	Visible Visibility = "visible"
	Hidden  Visibility = "hidden"
)

// IsHidden reports whether v hides the variable. The zero value is visible.
func (v Visibility) IsHidden() bool {
	return v == Hidden
}

// DerivedKind identifies how a generated child variable is computed from its
// parent.
type DerivedKind string

const (
	DerivedNone           DerivedKind = ""
	DerivedPercentileRank DerivedKind = "percentile_rank"
	DerivedDescriptor     DerivedKind = "descriptor"
	DerivedAge            DerivedKind = "age"
)

// KeySuffix returns the suffix appended to a parent key to build the key of a
// child of this kind.
func (k DerivedKind) KeySuffix() string {
	if k == DerivedNone {
		return ""
	}
	return "_" + string(k)
}

// InvalidScore is displayed in place of a derived value when the source score
// cannot be interpreted.
const InvalidScore = "Invalid score!"
