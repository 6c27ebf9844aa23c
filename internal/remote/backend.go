// Package remote is the boundary between the in-memory variable graph and
// the backing store. It converts between domain values and persisted rows
// and never derives values itself.
package remote

import (
	"context"
	"time"

	"github.com/report-variables-server/internal/domain"
)

// Column names of the variables and variable_sets tables that may be
// updated individually.
const (
	ColFullName               = "full_name"
	ColAbbreviatedName        = "abbreviated_name"
	ColLabel                  = "label"
	ColDataType               = "data_type"
	ColValue                  = "value"
	ColSubgroupTag            = "subgroup_tag"
	ColOrderWithinSet         = "order_within_set"
	ColMetadata               = "metadata"
	ColContent                = "content"
	ColVariableIDs            = "variable_ids"
	ColSubgroupOrder          = "subgroup_order"
	ColDescriptiveRatingSetID = "descriptive_rating_set_id"
)

// Columns is a partial row update keyed by column name.
type Columns map[string]any

// VariableRow is the persisted shape of a variable. JSON columns hold raw
// encoded bytes; a nil Value or Content is SQL NULL.
type VariableRow struct {
	VariableID      string
	EntityID        string
	EntityVersionID string
	FullName        string
	AbbreviatedName string
	Label           string
	DataType        string
	Value           []byte
	SubgroupTag     string
	OrderWithinSet  int
	Metadata        []byte
	Content         []byte
	UpdatedAt       time.Time
}

// VariableSetRow is the persisted shape of a variable set.
type VariableSetRow struct {
	SetID                  string
	EntityID               string
	EntityVersionID        string
	Label                  string
	VariableIDs            []byte
	SubgroupOrder          []byte
	DescriptiveRatingSetID string
	UpdatedAt              time.Time
}

// RatingSetRow is the persisted shape of a descriptive rating set.
type RatingSetRow struct {
	ID        string
	Name      string
	Rules     []byte
	UpdatedAt time.Time
}

// VariableFilter selects variables of one entity version. An empty
// VariableIDs selects all of them.
type VariableFilter struct {
	EntityID        string
	EntityVersionID string
	VariableIDs     []string
}

// Backend is row-level CRUD over the three tables. Lookups of missing rows
// return domain.ErrNotFound; inserts of existing rows return
// domain.ErrAlreadyExists.
type Backend interface {
	GetVariable(ctx context.Context, token domain.VariableIDToken) (*VariableRow, error)
	ListVariables(ctx context.Context, filter VariableFilter) ([]*VariableRow, error)
	InsertVariable(ctx context.Context, row *VariableRow) error
	UpdateVariable(ctx context.Context, token domain.VariableIDToken, cols Columns) error
	UpsertVariable(ctx context.Context, row *VariableRow) error

	GetVariableSet(ctx context.Context, token domain.VariableIDToken) (*VariableSetRow, error)
	ListVariableSets(ctx context.Context, entityID, entityVersionID string) ([]*VariableSetRow, error)
	InsertVariableSet(ctx context.Context, row *VariableSetRow) error
	UpdateVariableSet(ctx context.Context, token domain.VariableIDToken, cols Columns) error
	UpsertVariableSet(ctx context.Context, row *VariableSetRow) error

	ListRatingSets(ctx context.Context) ([]*RatingSetRow, error)
	UpsertRatingSet(ctx context.Context, row *RatingSetRow) error

	Ping(ctx context.Context) error
}

// SetCache caches decoded variable-set definitions by key.
type SetCache interface {
	GetVariableSet(ctx context.Context, key string) (*domain.VariableSet, bool, error)
	SetVariableSet(ctx context.Context, set *domain.VariableSet) error
	DeleteVariableSet(ctx context.Context, key string) error
}

// RatingSetCache keeps decoded rating sets in process.
type RatingSetCache interface {
	Get(id string) (*domain.DescriptiveRatingSet, bool)
	Add(set *domain.DescriptiveRatingSet)
	Purge()
}
