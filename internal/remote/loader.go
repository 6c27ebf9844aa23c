package remote

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/report-variables-server/internal/derivation"
	"github.com/report-variables-server/internal/domain"
	"github.com/report-variables-server/internal/reducer"
)

// LoadResult reports what LoadVariableSet put into the store.
type LoadResult struct {
	Set *domain.VariableSet `json:"set"`
	// Inserted are the keys added by this load, generated children included.
	Inserted []string `json:"inserted"`
	// Existing are member keys that were already in the store and kept
	// their values.
	Existing []string `json:"existing"`
}

// LoadVariableSet fetches a set with its rating sets and variables,
// generates derived children and inserts everything into store in one
// batch. The batch acknowledgement is checked against the set's members;
// members the backend did not return yield a *domain.IncompleteLoadError, after
// the variables that were found have been inserted.
func (s *Service) LoadVariableSet(ctx context.Context, token domain.VariableIDToken, store *reducer.Store) (*LoadResult, error) {
	set, err := s.FetchVariableSet(ctx, token)
	if err != nil {
		return nil, err
	}

	ratingSets, err := s.FetchRatingSets(ctx)
	if err != nil {
		return nil, err
	}
	for _, rs := range ratingSets {
		store.Dispatch(reducer.RegisterRatingSet{Set: rs})
	}
	store.Dispatch(reducer.AddVariableSet{Set: set})

	variables, err := s.FetchVariables(ctx, set.VariableIDs.All, ContextOf(set))
	if err != nil {
		return nil, err
	}

	state := store.State()
	batch := linkChildren(variables)
	for _, v := range variables {
		batch = append(batch, derivation.GenerateChildren(v, state.RulesIn(set.Key(), v))...)
	}

	inserted := store.AddVariables(batch, set.Key())

	result := &LoadResult{Set: set, Inserted: inserted}
	insertedSet := make(map[string]bool, len(inserted))
	for _, k := range inserted {
		insertedSet[k] = true
	}

	after := store.State()
	var missing []string
	for _, key := range set.MemberKeys() {
		switch {
		case insertedSet[key]:
		case after.Has(key):
			result.Existing = append(result.Existing, key)
		default:
			missing = append(missing, key)
		}
	}

	fields := logrus.Fields{
		"set":      set.Key(),
		"inserted": len(inserted),
		"existing": len(result.Existing),
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		s.logger.WithFields(fields).WithField("missing", missing).Error("Variable set loaded incompletely")
		return result, &domain.IncompleteLoadError{SetKey: set.Key(), Missing: missing}
	}
	s.logger.WithFields(fields).Info("Variable set loaded")
	return result, nil
}

// linkChildren registers persisted derived variables (computed ages) with
// their parents in the same batch and returns the batch.
func linkChildren(variables []*domain.Variable) []*domain.Variable {
	byKey := make(map[string]*domain.Variable, len(variables))
	for _, v := range variables {
		byKey[v.Key()] = v
	}
	for _, v := range variables {
		if !v.IsDerived() {
			continue
		}
		if parent, ok := byKey[v.Metadata.ParentVariableKey]; ok {
			parent.AddChild(v)
		}
	}
	return append([]*domain.Variable(nil), variables...)
}
