// Package archive exports the persisted variables of an entity version to
// JSON and imports such exports into another backing store.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/report-variables-server/internal/domain"
	"github.com/report-variables-server/internal/remote"
)

// FormatVersion is written into every export.
const FormatVersion = "1.0"

// Archive represents the JSON export format.
type Archive struct {
	Version         string                         `json:"version"`
	ExportedAt      time.Time                      `json:"exported_at"`
	EntityID        string                         `json:"entity_id"`
	EntityVersionID string                         `json:"entity_version_id"`
	RatingSets      []*domain.DescriptiveRatingSet `json:"rating_sets"`
	VariableSets    []*domain.VariableSet          `json:"variable_sets"`
	Variables       []*domain.Variable             `json:"variables"`
}

// Source reads the rows an export is built from.
type Source interface {
	FetchRatingSets(ctx context.Context) ([]*domain.DescriptiveRatingSet, error)
	FetchVariableSets(ctx context.Context, entityID, entityVersionID string) ([]*domain.VariableSet, error)
	FetchVariables(ctx context.Context, filterIDs []string, sc *remote.SetContext) ([]*domain.Variable, error)
}

// Sink writes imported rows. Create calls return domain.ErrAlreadyExists for
// rows that are already present.
type Sink interface {
	UpsertRatingSet(ctx context.Context, rs *domain.DescriptiveRatingSet) error
	CreateVariableSet(ctx context.Context, set *domain.VariableSet) error
	CreateVariable(ctx context.Context, v *domain.Variable) error
}

// Counts tallies one kind of imported row.
type Counts struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// ImportResult reports what an import wrote.
type ImportResult struct {
	RatingSets   Counts `json:"rating_sets"`
	VariableSets Counts `json:"variable_sets"`
	Variables    Counts `json:"variables"`
}

// Export writes every rating set plus the sets and variables of one entity
// version to w.
func Export(ctx context.Context, src Source, entityID, entityVersionID string, w io.Writer, logger *logrus.Logger) error {
	ratingSets, err := src.FetchRatingSets(ctx)
	if err != nil {
		return fmt.Errorf("failed to list rating sets: %w", err)
	}
	sets, err := src.FetchVariableSets(ctx, entityID, entityVersionID)
	if err != nil {
		return fmt.Errorf("failed to list variable sets: %w", err)
	}
	variables, err := src.FetchVariables(ctx, nil, &remote.SetContext{EntityID: entityID, EntityVersionID: entityVersionID})
	if err != nil {
		return fmt.Errorf("failed to list variables: %w", err)
	}

	export := &Archive{
		Version:         FormatVersion,
		ExportedAt:      time.Now().UTC(),
		EntityID:        entityID,
		EntityVersionID: entityVersionID,
		RatingSets:      nonNil(ratingSets),
		VariableSets:    nonNil(sets),
		Variables:       nonNil(variables),
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(export); err != nil {
		return fmt.Errorf("failed to encode export: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"entity_id":         entityID,
		"entity_version_id": entityVersionID,
		"rating_sets":       len(export.RatingSets),
		"variable_sets":     len(export.VariableSets),
		"variables":         len(export.Variables),
	}).Info("Export written")
	return nil
}

// Import reads an export from r. Rating sets are upserted; variable sets and
// variables that already exist are skipped and keep their stored values.
func Import(ctx context.Context, sink Sink, r io.Reader, logger *logrus.Logger) (*ImportResult, error) {
	var export Archive
	if err := json.NewDecoder(r).Decode(&export); err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}
	if export.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported export version %q", export.Version)
	}

	result := &ImportResult{}
	for _, rs := range export.RatingSets {
		if err := sink.UpsertRatingSet(ctx, rs); err != nil {
			return result, fmt.Errorf("failed to save rating set %s: %w", rs.ID, err)
		}
		result.RatingSets.Imported++
	}

	for _, set := range export.VariableSets {
		err := sink.CreateVariableSet(ctx, set)
		switch {
		case errors.Is(err, domain.ErrAlreadyExists):
			result.VariableSets.Skipped++
		case err != nil:
			return result, fmt.Errorf("failed to save variable set %s: %w", set.Key(), err)
		default:
			result.VariableSets.Imported++
		}
	}

	for _, v := range export.Variables {
		err := sink.CreateVariable(ctx, v)
		switch {
		case errors.Is(err, domain.ErrAlreadyExists):
			result.Variables.Skipped++
		case err != nil:
			return result, fmt.Errorf("failed to save variable %s: %w", v.Key(), err)
		default:
			result.Variables.Imported++
		}
	}

	logger.WithFields(logrus.Fields{
		"entity_id":         export.EntityID,
		"entity_version_id": export.EntityVersionID,
		"variable_sets":     result.VariableSets.Imported,
		"variables":         result.Variables.Imported,
		"skipped":           result.VariableSets.Skipped + result.Variables.Skipped,
	}).Info("Import finished")
	return result, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
