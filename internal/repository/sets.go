package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/report-variables-server/internal/domain"
	"github.com/report-variables-server/internal/remote"
)

const variableSetSelect = `
	SELECT entity_id, entity_version_id, set_id, label, variable_ids, subgroup_order,
		descriptive_rating_set_id, updated_at
	FROM variable_sets`

func scanVariableSet(s scanner) (*remote.VariableSetRow, error) {
	row := &remote.VariableSetRow{}
	var ratingSetID sql.NullString
	err := s.Scan(
		&row.EntityID, &row.EntityVersionID, &row.SetID, &row.Label, &row.VariableIDs,
		&row.SubgroupOrder, &ratingSetID, &row.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	row.DescriptiveRatingSetID = ratingSetID.String
	return row, nil
}

// GetVariableSet retrieves one set row.
func (b *SQLBackend) GetVariableSet(ctx context.Context, token domain.VariableIDToken) (*remote.VariableSetRow, error) {
	query := variableSetSelect + `
	WHERE entity_id = ? AND entity_version_id = ? AND set_id = ?`

	row, err := scanVariableSet(b.db.QueryRowContext(ctx, b.dialect.rebind(query),
		token.EntityID, token.EntityVersionID, token.VariableID))
	if err != nil {
		return nil, mapNoRows(err)
	}
	return row, nil
}

// ListVariableSets retrieves the sets of one entity version.
func (b *SQLBackend) ListVariableSets(ctx context.Context, entityID, entityVersionID string) ([]*remote.VariableSetRow, error) {
	query := variableSetSelect + `
	WHERE entity_id = ? AND entity_version_id = ?
	ORDER BY set_id`

	rows, err := b.db.QueryContext(ctx, b.dialect.rebind(query), entityID, entityVersionID)
	if err != nil {
		return nil, fmt.Errorf("querying variable sets: %w", err)
	}
	defer rows.Close()

	var out []*remote.VariableSetRow
	for rows.Next() {
		row, err := scanVariableSet(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning variable set: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating variable sets: %w", err)
	}
	return out, nil
}

const variableSetInsert = `
	INSERT INTO variable_sets (
		entity_id, entity_version_id, set_id, label, variable_ids, subgroup_order,
		descriptive_rating_set_id, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

func (b *SQLBackend) variableSetArgs(row *remote.VariableSetRow) []any {
	row.UpdatedAt = b.now()
	ids := row.VariableIDs
	if ids == nil {
		ids = []byte("{}")
	}
	order := row.SubgroupOrder
	if order == nil {
		order = []byte("[]")
	}
	return []any{
		row.EntityID, row.EntityVersionID, row.SetID, row.Label, jsonArg(ids), jsonArg(order),
		nullableString(row.DescriptiveRatingSetID), row.UpdatedAt,
	}
}

// InsertVariableSet inserts a new set, failing with domain.ErrAlreadyExists
// when the token is taken.
func (b *SQLBackend) InsertVariableSet(ctx context.Context, row *remote.VariableSetRow) error {
	_, err := b.db.ExecContext(ctx, b.dialect.rebind(variableSetInsert), b.variableSetArgs(row)...)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		b.log.WithFields(logrus.Fields{
			"entity_id": row.EntityID,
			"set_id":    row.SetID,
			"error":     err,
		}).Error("Failed to insert variable set")
		return fmt.Errorf("inserting variable set: %w", err)
	}
	return nil
}

// UpdateVariableSet updates the given columns of an existing set.
func (b *SQLBackend) UpdateVariableSet(ctx context.Context, token domain.VariableIDToken, cols remote.Columns) error {
	return b.updateRow(ctx, "variable_sets", variableSetColumns, cols,
		[]string{"entity_id", "entity_version_id", "set_id"},
		[]any{token.EntityID, token.EntityVersionID, token.VariableID})
}

// UpsertVariableSet inserts the set or replaces the existing one.
func (b *SQLBackend) UpsertVariableSet(ctx context.Context, row *remote.VariableSetRow) error {
	query := variableSetInsert + `
	ON CONFLICT (entity_id, entity_version_id, set_id) DO UPDATE SET
		label = excluded.label,
		variable_ids = excluded.variable_ids,
		subgroup_order = excluded.subgroup_order,
		descriptive_rating_set_id = excluded.descriptive_rating_set_id,
		updated_at = excluded.updated_at`

	if _, err := b.db.ExecContext(ctx, b.dialect.rebind(query), b.variableSetArgs(row)...); err != nil {
		return fmt.Errorf("upserting variable set: %w", err)
	}
	return nil
}

// ListRatingSets retrieves every descriptive rating set.
func (b *SQLBackend) ListRatingSets(ctx context.Context) ([]*remote.RatingSetRow, error) {
	query := `SELECT id, name, rules, updated_at FROM descriptive_rating_sets ORDER BY id`

	rows, err := b.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying rating sets: %w", err)
	}
	defer rows.Close()

	var out []*remote.RatingSetRow
	for rows.Next() {
		row := &remote.RatingSetRow{}
		if err := rows.Scan(&row.ID, &row.Name, &row.Rules, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning rating set: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rating sets: %w", err)
	}
	return out, nil
}

// UpsertRatingSet inserts or replaces a rating set.
func (b *SQLBackend) UpsertRatingSet(ctx context.Context, row *remote.RatingSetRow) error {
	query := `
	INSERT INTO descriptive_rating_sets (id, name, rules, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		name = excluded.name,
		rules = excluded.rules,
		updated_at = excluded.updated_at`

	row.UpdatedAt = b.now()
	rules := row.Rules
	if rules == nil {
		rules = []byte("[]")
	}
	if _, err := b.db.ExecContext(ctx, b.dialect.rebind(query),
		row.ID, row.Name, jsonArg(rules), row.UpdatedAt); err != nil {
		return fmt.Errorf("upserting rating set: %w", err)
	}
	return nil
}
