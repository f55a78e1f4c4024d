package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the file-backed Tabular implementation. Each entity is one
// table whose TEXT columns carry the entity's column labels verbatim; row
// order is rowid order, matching the append order of the journal.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path. Use ":memory:" for an
// ephemeral store.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// EnsureEntity implements Tabular.
func (s *SQLiteStore) EnsureEntity(ctx context.Context, entity string, headers []string) error {
	cols := make([]string, len(headers))
	for i, h := range headers {
		cols[i] = quoteIdent(h) + " TEXT"
	}
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		quoteIdent(entity), strings.Join(cols, ", "))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("ensure entity %s: %w", entity, err)
	}
	return nil
}

// ReadRows implements Tabular. Headers come back in column (creation) order.
func (s *SQLiteStore) ReadRows(ctx context.Context, entity string) ([]string, [][]string, error) {
	query := fmt.Sprintf("SELECT * FROM %s ORDER BY rowid", quoteIdent(entity))
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s (%v)", ErrUnknownEntity, entity, err)
	}
	defer rows.Close()

	headers, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("columns of %s: %w", entity, err)
	}

	var out [][]string
	for rows.Next() {
		cells := make([]sql.NullString, len(headers))
		dest := make([]any, len(headers))
		for i := range cells {
			dest[i] = &cells[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, nil, fmt.Errorf("scan %s: %w", entity, err)
		}
		row := make([]string, len(headers))
		for i, c := range cells {
			row[i] = c.String
		}
		out = append(out, row)
	}
	return headers, out, rows.Err()
}

// WriteRows implements Tabular.
func (s *SQLiteStore) WriteRows(ctx context.Context, entity string, records []map[string]string, opts WriteOptions) error {
	headers, _, err := s.ReadRows(ctx, entity)
	if err != nil {
		return err
	}

	for i, record := range records {
		if opts.Append {
			if err := s.insert(ctx, entity, headers, record); err != nil {
				return err
			}
			continue
		}
		if err := s.updateAt(ctx, entity, headers, record, opts.AtRowIndex+i); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) insert(ctx context.Context, entity string, headers []string, record map[string]string) error {
	cols := make([]string, len(headers))
	holes := make([]string, len(headers))
	args := make([]any, len(headers))
	for i, h := range headers {
		cols[i] = quoteIdent(h)
		holes[i] = "?"
		args[i] = record[h]
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(entity), strings.Join(cols, ", "), strings.Join(holes, ", "))
	if _, err := s.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("append to %s: %w", entity, err)
	}
	return nil
}

func (s *SQLiteStore) updateAt(ctx context.Context, entity string, headers []string, record map[string]string, index int) error {
	var rowid int64
	pick := fmt.Sprintf("SELECT rowid FROM %s ORDER BY rowid LIMIT 1 OFFSET ?", quoteIdent(entity))
	if err := s.db.QueryRowContext(ctx, pick, index).Scan(&rowid); err != nil {
		return fmt.Errorf("row index %d out of range for %s: %w", index, entity, err)
	}

	sets := make([]string, len(headers))
	args := make([]any, 0, len(headers)+1)
	for i, h := range headers {
		sets[i] = quoteIdent(h) + " = ?"
		args = append(args, record[h])
	}
	args = append(args, rowid)
	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE rowid = ?",
		quoteIdent(entity), strings.Join(sets, ", "))
	if _, err := s.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("update %s row %d: %w", entity, index, err)
	}
	return nil
}

// FindRowMatching implements Tabular. The predicate runs client-side: the
// store stays ignorant of what the columns mean.
func (s *SQLiteStore) FindRowMatching(ctx context.Context, entity string, pred Predicate) (int, bool, error) {
	headers, rows, err := s.ReadRows(ctx, entity)
	if err != nil {
		return 0, false, err
	}
	for i, row := range rows {
		record := make(map[string]string, len(headers))
		for j, h := range headers {
			if j < len(row) {
				record[h] = row[j]
			}
		}
		if pred(record) {
			return i, true, nil
		}
	}
	return 0, false, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

var _ Tabular = (*SQLiteStore)(nil)
