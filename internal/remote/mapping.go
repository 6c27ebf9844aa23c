package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/report-variables-server/internal/domain"
	"github.com/report-variables-server/internal/template"
)

// VariableFromRow decodes a persisted row. Metadata starts from
// domain.DefaultMetadata so flags missing from older rows keep their
// defaults. Variable references stored as bare ids are qualified with the
// row's entity prefix.
func VariableFromRow(row *VariableRow) (*domain.Variable, error) {
	token := domain.NewToken(row.VariableID, row.EntityID, row.EntityVersionID)
	v := &domain.Variable{
		IDToken:         token,
		FullName:        row.FullName,
		AbbreviatedName: row.AbbreviatedName,
		Label:           row.Label,
		DataType:        domain.DataType(row.DataType),
		Value:           domain.NullValue(),
		SubgroupTag:     row.SubgroupTag,
		OrderWithinSet:  row.OrderWithinSet,
		Metadata:        domain.DefaultMetadata(),
	}

	if !isNullJSON(row.Value) {
		if err := json.Unmarshal(row.Value, &v.Value); err != nil {
			return nil, fmt.Errorf("decoding value of %s: %w", token.Key(), err)
		}
	}
	if !isNullJSON(row.Metadata) {
		if err := json.Unmarshal(row.Metadata, &v.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata of %s: %w", token.Key(), err)
		}
	}
	if !isNullJSON(row.Content) {
		var c domain.Content
		if err := json.Unmarshal(row.Content, &c); err != nil {
			return nil, fmt.Errorf("decoding content of %s: %w", token.Key(), err)
		}
		prefix := token.EntityPrefix()
		c.Description = template.PrefixIDs(c.Description, prefix)
		c.Interpretation = template.PrefixIDs(c.Interpretation, prefix)
		v.Content = &c
	}

	qualifyReferences(&v.Metadata, token)
	return v, nil
}

// VariableToRow encodes a variable for persistence. Child lists are dropped
// since they are rebuilt on load, and embedded ids are stored unprefixed.
func VariableToRow(v *domain.Variable) (*VariableRow, error) {
	value, err := encodeValue(v.Value)
	if err != nil {
		return nil, fmt.Errorf("encoding value of %s: %w", v.Key(), err)
	}
	meta, err := encodeMetadata(v.Metadata, v.IDToken)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata of %s: %w", v.Key(), err)
	}
	content, err := encodeContent(v.Content, v.IDToken)
	if err != nil {
		return nil, fmt.Errorf("encoding content of %s: %w", v.Key(), err)
	}

	return &VariableRow{
		VariableID:      v.IDToken.VariableID,
		EntityID:        v.IDToken.EntityID,
		EntityVersionID: v.IDToken.EntityVersionID,
		FullName:        v.FullName,
		AbbreviatedName: v.AbbreviatedName,
		Label:           v.Label,
		DataType:        string(v.DataType),
		Value:           value,
		SubgroupTag:     v.SubgroupTag,
		OrderWithinSet:  v.OrderWithinSet,
		Metadata:        meta,
		Content:         content,
	}, nil
}

// VariableSetFromRow decodes a persisted set and validates it.
func VariableSetFromRow(row *VariableSetRow) (*domain.VariableSet, error) {
	set := &domain.VariableSet{
		IDToken:                domain.NewToken(row.SetID, row.EntityID, row.EntityVersionID),
		Label:                  row.Label,
		DescriptiveRatingSetID: row.DescriptiveRatingSetID,
	}
	if !isNullJSON(row.VariableIDs) {
		if err := json.Unmarshal(row.VariableIDs, &set.VariableIDs); err != nil {
			return nil, fmt.Errorf("decoding variable ids of set %s: %w", set.Key(), err)
		}
	}
	if !isNullJSON(row.SubgroupOrder) {
		if err := json.Unmarshal(row.SubgroupOrder, &set.SubgroupOrder); err != nil {
			return nil, fmt.Errorf("decoding subgroup order of set %s: %w", set.Key(), err)
		}
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}

// VariableSetToRow encodes a set for persistence.
func VariableSetToRow(set *domain.VariableSet) (*VariableSetRow, error) {
	ids, err := json.Marshal(set.VariableIDs)
	if err != nil {
		return nil, fmt.Errorf("encoding variable ids of set %s: %w", set.Key(), err)
	}
	order, err := json.Marshal(set.SubgroupOrder)
	if err != nil {
		return nil, fmt.Errorf("encoding subgroup order of set %s: %w", set.Key(), err)
	}
	return &VariableSetRow{
		SetID:                  set.IDToken.VariableID,
		EntityID:               set.IDToken.EntityID,
		EntityVersionID:        set.IDToken.EntityVersionID,
		Label:                  set.Label,
		VariableIDs:            ids,
		SubgroupOrder:          order,
		DescriptiveRatingSetID: set.DescriptiveRatingSetID,
	}, nil
}

// RatingSetFromRow decodes a rating set, sorting its rules.
func RatingSetFromRow(row *RatingSetRow) (*domain.DescriptiveRatingSet, error) {
	var rules []domain.DescriptorRule
	if !isNullJSON(row.Rules) {
		if err := json.Unmarshal(row.Rules, &rules); err != nil {
			return nil, fmt.Errorf("decoding rules of rating set %s: %w", row.ID, err)
		}
	}
	return domain.NewDescriptiveRatingSet(row.ID, row.Name, rules), nil
}

// RatingSetToRow encodes a rating set.
func RatingSetToRow(rs *domain.DescriptiveRatingSet) (*RatingSetRow, error) {
	rules, err := json.Marshal(rs.Rules)
	if err != nil {
		return nil, fmt.Errorf("encoding rules of rating set %s: %w", rs.ID, err)
	}
	return &RatingSetRow{ID: rs.ID, Name: rs.Name, Rules: rules}, nil
}

// VariablePatch is a partial update of a persisted variable. Nil fields are
// left unchanged.
type VariablePatch struct {
	FullName        *string
	AbbreviatedName *string
	Label           *string
	DataType        *domain.DataType
	Value           *domain.Value
	SubgroupTag     *string
	OrderWithinSet  *int
	Metadata        *domain.Metadata
	Content         *domain.Content
}

// Columns converts the patch of the variable identified by token to column
// updates.
func (p VariablePatch) Columns(token domain.VariableIDToken) (Columns, error) {
	cols := Columns{}
	if p.FullName != nil {
		cols[ColFullName] = *p.FullName
	}
	if p.AbbreviatedName != nil {
		cols[ColAbbreviatedName] = *p.AbbreviatedName
	}
	if p.Label != nil {
		cols[ColLabel] = *p.Label
	}
	if p.DataType != nil {
		cols[ColDataType] = string(*p.DataType)
	}
	if p.Value != nil {
		b, err := encodeValue(*p.Value)
		if err != nil {
			return nil, err
		}
		cols[ColValue] = b
	}
	if p.SubgroupTag != nil {
		cols[ColSubgroupTag] = *p.SubgroupTag
	}
	if p.OrderWithinSet != nil {
		cols[ColOrderWithinSet] = *p.OrderWithinSet
	}
	if p.Metadata != nil {
		b, err := encodeMetadata(*p.Metadata, token)
		if err != nil {
			return nil, err
		}
		cols[ColMetadata] = b
	}
	if p.Content != nil {
		b, err := encodeContent(p.Content, token)
		if err != nil {
			return nil, err
		}
		cols[ColContent] = b
	}
	return cols, nil
}

// VariableSetPatch is a partial update of a persisted set.
type VariableSetPatch struct {
	Label                  *string
	VariableIDs            *domain.VariableIDs
	SubgroupOrder          []string
	DescriptiveRatingSetID *string
}

// Columns converts the patch to column updates.
func (p VariableSetPatch) Columns() (Columns, error) {
	cols := Columns{}
	if p.Label != nil {
		cols[ColLabel] = *p.Label
	}
	if p.VariableIDs != nil {
		b, err := json.Marshal(p.VariableIDs)
		if err != nil {
			return nil, err
		}
		cols[ColVariableIDs] = b
	}
	if p.SubgroupOrder != nil {
		b, err := json.Marshal(p.SubgroupOrder)
		if err != nil {
			return nil, err
		}
		cols[ColSubgroupOrder] = b
	}
	if p.DescriptiveRatingSetID != nil {
		cols[ColDescriptiveRatingSetID] = *p.DescriptiveRatingSetID
	}
	return cols, nil
}

func encodeValue(v domain.Value) ([]byte, error) {
	if v.IsEmpty() && v.Kind != domain.ValueString {
		return nil, nil
	}
	return json.Marshal(v)
}

func encodeMetadata(m domain.Metadata, token domain.VariableIDToken) ([]byte, error) {
	m = m.Clone()
	m.ChildVariableIDs = nil
	m.ChildVariableKeys = nil
	m.ParentVariableKey = localKey(m.ParentVariableKey, token)
	m.AssociatedCompositeVariableKey = localKey(m.AssociatedCompositeVariableKey, token)
	m.AgeReferenceKey = localKey(m.AgeReferenceKey, token)
	return json.Marshal(m)
}

func encodeContent(c *domain.Content, token domain.VariableIDToken) ([]byte, error) {
	if c == nil {
		return nil, nil
	}
	prefix := token.EntityPrefix()
	stripped := domain.Content{
		Description:    template.StripIDs(c.Description, prefix),
		Interpretation: template.StripIDs(c.Interpretation, prefix),
	}
	return json.Marshal(stripped)
}

// qualifyReferences turns stored bare ids into keys in the token's entity.
func qualifyReferences(m *domain.Metadata, token domain.VariableIDToken) {
	m.ParentVariableKey = qualifyKey(m.ParentVariableKey, token)
	m.AssociatedCompositeVariableKey = qualifyKey(m.AssociatedCompositeVariableKey, token)
	m.AgeReferenceKey = qualifyKey(m.AgeReferenceKey, token)
	if m.AssociatedCompositeVariableKey == "" && m.AssociatedCompositeVariableID != "" {
		m.AssociatedCompositeVariableKey = token.WithVariableID(m.AssociatedCompositeVariableID).Key()
	}
}

func qualifyKey(ref string, token domain.VariableIDToken) string {
	if ref == "" || strings.Contains(ref, ":") {
		return ref
	}
	return token.WithVariableID(ref).Key()
}

// localKey shortens references into the token's own entity to bare ids.
// References into other entities keep their full key.
func localKey(key string, token domain.VariableIDToken) string {
	return strings.TrimPrefix(key, token.EntityPrefix())
}

func isNullJSON(b []byte) bool {
	b = bytes.TrimSpace(b)
	return len(b) == 0 || bytes.Equal(b, []byte("null"))
}
