// Package repository persists variables, variable sets and descriptive
// rating sets in postgres or SQLite through database/sql.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/report-variables-server/internal/domain"
	"github.com/report-variables-server/internal/remote"
)

// SQLBackend implements remote.Backend on a database/sql handle.
type SQLBackend struct {
	db      *sql.DB
	dialect Dialect
	log     *logrus.Logger
	now     func() time.Time
}

var _ remote.Backend = (*SQLBackend)(nil)

// NewSQLBackend creates a backend speaking dialect over db.
func NewSQLBackend(db *sql.DB, dialect Dialect, logger *logrus.Logger) *SQLBackend {
	return &SQLBackend{
		db:      db,
		dialect: dialect,
		log:     logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Ping checks the database connection.
func (b *SQLBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// Columns that UpdateVariable and UpdateVariableSet accept. Anything else is
// rejected before it reaches the query text.
var (
	variableColumns = map[string]bool{
		remote.ColFullName:        true,
		remote.ColAbbreviatedName: true,
		remote.ColLabel:           true,
		remote.ColDataType:        true,
		remote.ColValue:           true,
		remote.ColSubgroupTag:     true,
		remote.ColOrderWithinSet:  true,
		remote.ColMetadata:        true,
		remote.ColContent:         true,
	}
	variableSetColumns = map[string]bool{
		remote.ColLabel:                  true,
		remote.ColVariableIDs:            true,
		remote.ColSubgroupOrder:          true,
		remote.ColDescriptiveRatingSetID: true,
	}
	jsonColumns = map[string]bool{
		remote.ColValue:         true,
		remote.ColMetadata:      true,
		remote.ColContent:       true,
		remote.ColVariableIDs:   true,
		remote.ColSubgroupOrder: true,
	}
)

// updateRow runs an UPDATE of cols on the row of table matched by keyCols.
func (b *SQLBackend) updateRow(ctx context.Context, table string, allowed map[string]bool,
	cols remote.Columns, keyCols []string, keyArgs []any) error {

	if len(cols) == 0 {
		return nil
	}

	names := make([]string, 0, len(cols))
	for name := range cols {
		if !allowed[name] {
			return fmt.Errorf("column %q cannot be updated on %s", name, table)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	sets := make([]string, 0, len(names)+1)
	args := make([]any, 0, len(names)+1+len(keyArgs))
	for _, name := range names {
		sets = append(sets, name+" = ?")
		args = append(args, columnArg(name, cols[name]))
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, b.now())

	where := make([]string, len(keyCols))
	for i, c := range keyCols {
		where[i] = c + " = ?"
	}
	args = append(args, keyArgs...)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", table,
		strings.Join(sets, ", "), strings.Join(where, " AND "))

	res, err := b.db.ExecContext(ctx, b.dialect.rebind(query), args...)
	if err != nil {
		return fmt.Errorf("updating %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating %s: %w", table, err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func columnArg(name string, v any) any {
	if name == remote.ColDescriptiveRatingSetID {
		if s, ok := v.(string); ok {
			return nullableString(s)
		}
	}
	if jsonColumns[name] {
		if raw, ok := v.([]byte); ok {
			return jsonArg(raw)
		}
	}
	return v
}

// mapNoRows turns sql.ErrNoRows into domain.ErrNotFound.
func mapNoRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

// placeholders returns n comma-separated ? markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...any) error
}
