package domain

// VisibilitySettings holds independent visibility for a variable and for the
// percentile-rank and descriptor children generated from it.
type VisibilitySettings struct {
	Self           Visibility `json:"self,omitempty"`
	PercentileRank Visibility `json:"percentileRank,omitempty"`
	Descriptor     Visibility `json:"descriptor,omitempty"`
}

// SubvariableProperty tracks whether a value has been entered for one
// subvariable of a composite (e.g. the first name of a full name).
type SubvariableProperty struct {
	ID           string `json:"id"`
	FullName     string `json:"fullName"`
	ValueEntered bool   `json:"bValueEntered"`
}

// Metadata is the per-variable configuration persisted as a JSON blob.
type Metadata struct {
	Visibility VisibilitySettings `json:"visibility"`

	// Parent flags: whether children are generated at load time and whether
	// they follow the parent's value afterwards.
	AutoCreatePercentileRank    bool `json:"autoCreatePercentileRank"`
	AutoCreateDescriptor        bool `json:"autoCreateDescriptor"`
	AutoCalculatePercentileRank bool `json:"autoCalculatePercentileRank"`
	AutoCalculateDescriptor     bool `json:"autoCalculateDescriptor"`

	// Child flag: false freezes the child's value.
	AutoCalculate bool `json:"autoCalculate"`

	DerivedKind       DerivedKind `json:"derivedKind,omitempty"`
	ParentVariableKey string      `json:"parentVariableKey,omitempty"`
	ChildVariableIDs  []string    `json:"childVariableIds,omitempty"`
	ChildVariableKeys []string    `json:"childVariableKeys,omitempty"`

	AssociatedCompositeVariableID   string                `json:"associatedCompositeVariableId,omitempty"`
	AssociatedCompositeVariableKey  string                `json:"associatedCompositeVariableKey,omitempty"`
	AssociatedSubvariableProperties []SubvariableProperty `json:"associatedSubvariableProperties,omitempty"`

	DescriptiveRatingSetID string `json:"descriptiveRatingSetId,omitempty"`
	AgeReferenceKey        string `json:"ageReferenceKey,omitempty"`
	Placeholder            string `json:"placeholder,omitempty"`
}

// DefaultMetadata is the starting point for decoding persisted metadata, so
// that flags absent from older rows keep their defaults.
func DefaultMetadata() Metadata {
	return Metadata{
		Visibility: VisibilitySettings{
			Self:           Visible,
			PercentileRank: Visible,
			Descriptor:     Visible,
		},
		AutoCalculatePercentileRank: true,
		AutoCalculateDescriptor:     true,
		AutoCalculate:               true,
	}
}

// Clone returns a deep copy of the metadata.
func (m Metadata) Clone() Metadata {
	out := m
	out.ChildVariableIDs = append([]string(nil), m.ChildVariableIDs...)
	out.ChildVariableKeys = append([]string(nil), m.ChildVariableKeys...)
	out.AssociatedSubvariableProperties = append([]SubvariableProperty(nil), m.AssociatedSubvariableProperties...)
	return out
}

// IsComposite reports whether the variable tracks subvariable completion.
func (m Metadata) IsComposite() bool {
	return len(m.AssociatedSubvariableProperties) > 0
}

// Content is the optional rich-text description and interpretation attached
// to a variable.
type Content struct {
	Description    string `json:"description,omitempty"`
	Interpretation string `json:"interpretation,omitempty"`
}

// Variable is a single named, typed data point in a report.
type Variable struct {
	IDToken         VariableIDToken `json:"idToken"`
	FullName        string          `json:"fullName"`
	AbbreviatedName string          `json:"abbreviatedName"`
	Label           string          `json:"label"`
	DataType        DataType        `json:"dataType"`
	Value           Value           `json:"value"`
	SubgroupTag     string          `json:"subgroupTag,omitempty"`
	OrderWithinSet  int             `json:"orderWithinSet"`
	Metadata        Metadata        `json:"metadata"`
	Content         *Content        `json:"content,omitempty"`
}

// Key is the projected key of the variable's token.
func (v *Variable) Key() string {
	return v.IDToken.Key()
}

// DisplayName prefers the label, then the abbreviated name, then the full name.
func (v *Variable) DisplayName() string {
	switch {
	case v.Label != "":
		return v.Label
	case v.AbbreviatedName != "":
		return v.AbbreviatedName
	default:
		return v.FullName
	}
}

// IsHidden reports whether the variable itself is hidden.
func (v *Variable) IsHidden() bool {
	return v.Metadata.Visibility.Self.IsHidden()
}

// IsDerived reports whether the variable was generated from a parent.
func (v *Variable) IsDerived() bool {
	return v.Metadata.DerivedKind != DerivedNone
}

// Clone returns a deep copy of the variable. The reducer clones before every
// mutation so that previously published states are never modified.
func (v *Variable) Clone() *Variable {
	out := *v
	out.Metadata = v.Metadata.Clone()
	if v.Content != nil {
		c := *v.Content
		out.Content = &c
	}
	return &out
}

// HasChild reports whether key is registered as one of the variable's children.
func (v *Variable) HasChild(key string) bool {
	for _, k := range v.Metadata.ChildVariableKeys {
		if k == key {
			return true
		}
	}
	return false
}

// AddChild registers a child id and key, ignoring duplicates.
func (v *Variable) AddChild(child *Variable) {
	if v.HasChild(child.Key()) {
		return
	}
	v.Metadata.ChildVariableKeys = append(v.Metadata.ChildVariableKeys, child.Key())
	v.Metadata.ChildVariableIDs = append(v.Metadata.ChildVariableIDs, child.IDToken.VariableID)
}
