package domain

import (
	"fmt"
	"strings"
)

// keySeparator joins the three token fields in a projected key. Variable ids
// themselves never contain it.
const keySeparator = ":"

// VariableIDToken is the composite identity of a variable within a report:
// the stable content id plus the clinical entity (test) and entity version
// it belongs to. Tokens are values; use Clone to derive a modified copy.
type VariableIDToken struct {
	VariableID      string `json:"variableId"`
	EntityID        string `json:"entityId,omitempty"`
	EntityVersionID string `json:"entityVersionId,omitempty"`
}

// TokenOverrides selects the fields replaced by Clone. Nil fields keep the
// original value.
type TokenOverrides struct {
	VariableID      *string
	EntityID        *string
	EntityVersionID *string
}

// NewToken builds a token for a variable scoped to an entity version.
func NewToken(variableID, entityID, entityVersionID string) VariableIDToken {
	return VariableIDToken{
		VariableID:      variableID,
		EntityID:        entityID,
		EntityVersionID: entityVersionID,
	}
}

// Key projects the token to the string used as the map key of the variable
// store. Equal fields always project to equal keys.
func (t VariableIDToken) Key() string {
	return t.EntityID + keySeparator + t.EntityVersionID + keySeparator + t.VariableID
}

// String implements fmt.Stringer.
func (t VariableIDToken) String() string {
	return t.Key()
}

// EntityPrefix is the part of the key that precedes the variable id.
func (t VariableIDToken) EntityPrefix() string {
	return t.EntityID + keySeparator + t.EntityVersionID + keySeparator
}

// Clone returns a copy of the token with the given overrides applied.
func (t VariableIDToken) Clone(o TokenOverrides) VariableIDToken {
	out := t
	if o.VariableID != nil {
		out.VariableID = *o.VariableID
	}
	if o.EntityID != nil {
		out.EntityID = *o.EntityID
	}
	if o.EntityVersionID != nil {
		out.EntityVersionID = *o.EntityVersionID
	}
	return out
}

// WithVariableID is shorthand for cloning with a new variable id.
func (t VariableIDToken) WithVariableID(id string) VariableIDToken {
	return t.Clone(TokenOverrides{VariableID: &id})
}

// IsZero reports whether the token has no variable id.
func (t VariableIDToken) IsZero() bool {
	return t.VariableID == ""
}

// ParseKey is the inverse of Key.
func ParseKey(key string) (VariableIDToken, error) {
	parts := strings.SplitN(key, keySeparator, 3)
	if len(parts) != 3 || parts[2] == "" {
		return VariableIDToken{}, fmt.Errorf("%w: %q", ErrInvalidToken, key)
	}
	return VariableIDToken{
		EntityID:        parts[0],
		EntityVersionID: parts[1],
		VariableID:      parts[2],
	}, nil
}
