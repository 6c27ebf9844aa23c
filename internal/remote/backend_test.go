package remote

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/report-variables-server/internal/domain"
)

// memBackend is an in-memory Backend for tests.
type memBackend struct {
	mu         sync.Mutex
	variables  map[string]*VariableRow
	sets       map[string]*VariableSetRow
	ratingSets map[string]*RatingSetRow
	err        error
	calls      int
}

func newMemBackend() *memBackend {
	return &memBackend{
		variables:  map[string]*VariableRow{},
		sets:       map[string]*VariableSetRow{},
		ratingSets: map[string]*RatingSetRow{},
	}
}

var errBackendDown = errors.New("connection refused")

func (b *memBackend) begin() error {
	b.mu.Lock()
	b.calls++
	return b.err
}

func rowKey(entityID, versionID, id string) string {
	return domain.NewToken(id, entityID, versionID).Key()
}

func (b *memBackend) GetVariable(ctx context.Context, token domain.VariableIDToken) (*VariableRow, error) {
	defer b.mu.Unlock()
	if err := b.begin(); err != nil {
		return nil, err
	}
	row, ok := b.variables[token.Key()]
	if !ok {
		return nil, fmt.Errorf("variable %s: %w", token.Key(), domain.ErrNotFound)
	}
	c := *row
	return &c, nil
}

func (b *memBackend) ListVariables(ctx context.Context, filter VariableFilter) ([]*VariableRow, error) {
	defer b.mu.Unlock()
	if err := b.begin(); err != nil {
		return nil, err
	}
	want := map[string]bool{}
	for _, id := range filter.VariableIDs {
		want[id] = true
	}
	var out []*VariableRow
	for _, row := range b.variables {
		if row.EntityID != filter.EntityID || row.EntityVersionID != filter.EntityVersionID {
			continue
		}
		if len(want) > 0 && !want[row.VariableID] {
			continue
		}
		c := *row
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VariableID < out[j].VariableID })
	return out, nil
}

func (b *memBackend) InsertVariable(ctx context.Context, row *VariableRow) error {
	defer b.mu.Unlock()
	if err := b.begin(); err != nil {
		return err
	}
	key := rowKey(row.EntityID, row.EntityVersionID, row.VariableID)
	if _, ok := b.variables[key]; ok {
		return domain.ErrAlreadyExists
	}
	c := *row
	b.variables[key] = &c
	return nil
}

func (b *memBackend) UpdateVariable(ctx context.Context, token domain.VariableIDToken, cols Columns) error {
	defer b.mu.Unlock()
	if err := b.begin(); err != nil {
		return err
	}
	row, ok := b.variables[token.Key()]
	if !ok {
		return domain.ErrNotFound
	}
	for col, val := range cols {
		switch col {
		case ColFullName:
			row.FullName = val.(string)
		case ColLabel:
			row.Label = val.(string)
		case ColValue:
			row.Value = val.([]byte)
		case ColMetadata:
			row.Metadata = val.([]byte)
		case ColOrderWithinSet:
			row.OrderWithinSet = val.(int)
		default:
			return fmt.Errorf("unsupported column %s", col)
		}
	}
	return nil
}

func (b *memBackend) UpsertVariable(ctx context.Context, row *VariableRow) error {
	defer b.mu.Unlock()
	if err := b.begin(); err != nil {
		return err
	}
	c := *row
	b.variables[rowKey(row.EntityID, row.EntityVersionID, row.VariableID)] = &c
	return nil
}

func (b *memBackend) GetVariableSet(ctx context.Context, token domain.VariableIDToken) (*VariableSetRow, error) {
	defer b.mu.Unlock()
	if err := b.begin(); err != nil {
		return nil, err
	}
	row, ok := b.sets[token.Key()]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *row
	return &c, nil
}

func (b *memBackend) ListVariableSets(ctx context.Context, entityID, entityVersionID string) ([]*VariableSetRow, error) {
	defer b.mu.Unlock()
	if err := b.begin(); err != nil {
		return nil, err
	}
	var out []*VariableSetRow
	for _, row := range b.sets {
		if row.EntityID == entityID && row.EntityVersionID == entityVersionID {
			c := *row
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SetID < out[j].SetID })
	return out, nil
}

func (b *memBackend) InsertVariableSet(ctx context.Context, row *VariableSetRow) error {
	defer b.mu.Unlock()
	if err := b.begin(); err != nil {
		return err
	}
	key := rowKey(row.EntityID, row.EntityVersionID, row.SetID)
	if _, ok := b.sets[key]; ok {
		return domain.ErrAlreadyExists
	}
	c := *row
	b.sets[key] = &c
	return nil
}

func (b *memBackend) UpdateVariableSet(ctx context.Context, token domain.VariableIDToken, cols Columns) error {
	defer b.mu.Unlock()
	if err := b.begin(); err != nil {
		return err
	}
	row, ok := b.sets[token.Key()]
	if !ok {
		return domain.ErrNotFound
	}
	if label, ok := cols[ColLabel]; ok {
		row.Label = label.(string)
	}
	return nil
}

func (b *memBackend) UpsertVariableSet(ctx context.Context, row *VariableSetRow) error {
	defer b.mu.Unlock()
	if err := b.begin(); err != nil {
		return err
	}
	c := *row
	b.sets[rowKey(row.EntityID, row.EntityVersionID, row.SetID)] = &c
	return nil
}

func (b *memBackend) ListRatingSets(ctx context.Context) ([]*RatingSetRow, error) {
	defer b.mu.Unlock()
	if err := b.begin(); err != nil {
		return nil, err
	}
	var out []*RatingSetRow
	for _, row := range b.ratingSets {
		c := *row
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (b *memBackend) UpsertRatingSet(ctx context.Context, row *RatingSetRow) error {
	defer b.mu.Unlock()
	if err := b.begin(); err != nil {
		return err
	}
	c := *row
	b.ratingSets[row.ID] = &c
	return nil
}

func (b *memBackend) Ping(ctx context.Context) error {
	defer b.mu.Unlock()
	return b.begin()
}

func (b *memBackend) setErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

func (b *memBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}
