package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type call struct {
	query string
	args  []any
}

// stubDB answers QueryRow calls from a FIFO of rows and records every call.
type stubDB struct {
	rows      []stubRow
	queryRows [][]any
	execErr   error
	calls     []call
}

func (s *stubDB) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.calls = append(s.calls, call{query: query, args: args})
	return pgconn.NewCommandTag("UPDATE 1"), s.execErr
}

func (s *stubDB) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	s.calls = append(s.calls, call{query: query, args: args})
	if len(s.rows) == 0 {
		return stubRow{err: pgx.ErrNoRows}
	}
	row := s.rows[0]
	s.rows = s.rows[1:]
	return row
}

func (s *stubDB) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	s.calls = append(s.calls, call{query: query, args: args})
	if s.queryRows == nil {
		return nil, errors.New("not implemented")
	}
	return &stubRows{values: s.queryRows, pos: -1}, nil
}

// stubRows iterates queryRows, scanning each like a stubRow.
type stubRows struct {
	values [][]any
	pos    int
}

func (r *stubRows) Close()                                       {}
func (r *stubRows) Err() error                                   { return nil }
func (r *stubRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *stubRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *stubRows) RawValues() [][]byte                          { return nil }
func (r *stubRows) Conn() *pgx.Conn                              { return nil }

func (r *stubRows) Next() bool {
	r.pos++
	return r.pos < len(r.values)
}

func (r *stubRows) Scan(dest ...any) error {
	return stubRow{values: r.values[r.pos]}.Scan(dest...)
}

func (r *stubRows) Values() ([]any, error) {
	return r.values[r.pos], nil
}

type stubRow struct {
	values []any
	err    error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan: got %d dest, have %d values", len(dest), len(r.values))
	}
	for i, v := range r.values {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *int:
			*d = v.(int)
		case *bool:
			*d = v.(bool)
		case *[]byte:
			if v != nil {
				*d = v.([]byte)
			}
		case *time.Time:
			*d = v.(time.Time)
		case **time.Time:
			if v != nil {
				t := v.(time.Time)
				*d = &t
			}
		default:
			return fmt.Errorf("scan: unsupported dest %T", dest[i])
		}
	}
	return nil
}

func errNoRows() error { return pgx.ErrNoRows }
