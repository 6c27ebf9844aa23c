package repository

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/report-variables-server/internal/domain"
	"github.com/report-variables-server/internal/remote"
)

const variableSelect = `
	SELECT entity_id, entity_version_id, variable_id, full_name, abbreviated_name,
		label, data_type, value, subgroup_tag, order_within_set, metadata, content, updated_at
	FROM variables`

func scanVariable(s scanner) (*remote.VariableRow, error) {
	row := &remote.VariableRow{}
	err := s.Scan(
		&row.EntityID, &row.EntityVersionID, &row.VariableID, &row.FullName, &row.AbbreviatedName,
		&row.Label, &row.DataType, &row.Value, &row.SubgroupTag, &row.OrderWithinSet,
		&row.Metadata, &row.Content, &row.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return row, nil
}

// GetVariable retrieves one variable row.
func (b *SQLBackend) GetVariable(ctx context.Context, token domain.VariableIDToken) (*remote.VariableRow, error) {
	query := variableSelect + `
	WHERE entity_id = ? AND entity_version_id = ? AND variable_id = ?`

	row, err := scanVariable(b.db.QueryRowContext(ctx, b.dialect.rebind(query),
		token.EntityID, token.EntityVersionID, token.VariableID))
	if err != nil {
		return nil, mapNoRows(err)
	}
	return row, nil
}

// ListVariables retrieves the variables of one entity version, optionally
// restricted to a list of ids, in set order.
func (b *SQLBackend) ListVariables(ctx context.Context, filter remote.VariableFilter) ([]*remote.VariableRow, error) {
	query := variableSelect + `
	WHERE entity_id = ? AND entity_version_id = ?`
	args := []any{filter.EntityID, filter.EntityVersionID}

	if len(filter.VariableIDs) > 0 {
		query += ` AND variable_id IN (` + placeholders(len(filter.VariableIDs)) + `)`
		for _, id := range filter.VariableIDs {
			args = append(args, id)
		}
	}
	query += `
	ORDER BY order_within_set, variable_id`

	rows, err := b.db.QueryContext(ctx, b.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying variables: %w", err)
	}
	defer rows.Close()

	var out []*remote.VariableRow
	for rows.Next() {
		row, err := scanVariable(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning variable: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating variables: %w", err)
	}

	b.log.WithFields(logrus.Fields{
		"entity_id":         filter.EntityID,
		"entity_version_id": filter.EntityVersionID,
		"requested":         len(filter.VariableIDs),
		"count":             len(out),
	}).Debug("Listed variables")

	return out, nil
}

const variableInsert = `
	INSERT INTO variables (
		entity_id, entity_version_id, variable_id, full_name, abbreviated_name,
		label, data_type, value, subgroup_tag, order_within_set, metadata, content, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (b *SQLBackend) variableArgs(row *remote.VariableRow) []any {
	row.UpdatedAt = b.now()
	return []any{
		row.EntityID, row.EntityVersionID, row.VariableID, row.FullName, row.AbbreviatedName,
		row.Label, row.DataType, jsonArg(row.Value), row.SubgroupTag, row.OrderWithinSet,
		jsonArg(metadataOrEmpty(row.Metadata)), jsonArg(row.Content), row.UpdatedAt,
	}
}

// InsertVariable inserts a new row, failing with domain.ErrAlreadyExists
// when the token is taken.
func (b *SQLBackend) InsertVariable(ctx context.Context, row *remote.VariableRow) error {
	_, err := b.db.ExecContext(ctx, b.dialect.rebind(variableInsert), b.variableArgs(row)...)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		b.log.WithFields(logrus.Fields{
			"entity_id":   row.EntityID,
			"variable_id": row.VariableID,
			"error":       err,
		}).Error("Failed to insert variable")
		return fmt.Errorf("inserting variable: %w", err)
	}
	return nil
}

// UpdateVariable updates the given columns of an existing row.
func (b *SQLBackend) UpdateVariable(ctx context.Context, token domain.VariableIDToken, cols remote.Columns) error {
	return b.updateRow(ctx, "variables", variableColumns, cols,
		[]string{"entity_id", "entity_version_id", "variable_id"},
		[]any{token.EntityID, token.EntityVersionID, token.VariableID})
}

// UpsertVariable inserts the row or replaces every column of the existing one.
func (b *SQLBackend) UpsertVariable(ctx context.Context, row *remote.VariableRow) error {
	query := variableInsert + `
	ON CONFLICT (entity_id, entity_version_id, variable_id) DO UPDATE SET
		full_name = excluded.full_name,
		abbreviated_name = excluded.abbreviated_name,
		label = excluded.label,
		data_type = excluded.data_type,
		value = excluded.value,
		subgroup_tag = excluded.subgroup_tag,
		order_within_set = excluded.order_within_set,
		metadata = excluded.metadata,
		content = excluded.content,
		updated_at = excluded.updated_at`

	if _, err := b.db.ExecContext(ctx, b.dialect.rebind(query), b.variableArgs(row)...); err != nil {
		return fmt.Errorf("upserting variable: %w", err)
	}
	return nil
}

func metadataOrEmpty(b []byte) []byte {
	if b == nil {
		return []byte("{}")
	}
	return b
}
