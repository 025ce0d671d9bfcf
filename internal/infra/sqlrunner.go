package infra

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// SQLExecutor is what repositories need to run the sqlinline queries.
type SQLExecutor interface {
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
}

var markerRegexp = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// ErrMissingMarker rejects queries that do not start with a --sql <uuid> line.
var ErrMissingMarker = errors.New("sql marker missing or invalid")

// SQLRunner executes marked queries on a pool. Each statement is logged at
// debug level under its marker so slow or failing queries can be traced back
// to their sqlinline constant without logging arguments.
type SQLRunner struct {
	db     SQLExecutor
	logger zerolog.Logger
	now    func() time.Time
}

func NewSQLRunner(pool *pgxpool.Pool, logger zerolog.Logger) *SQLRunner {
	return newSQLRunner(pool, logger)
}

func newSQLRunner(db SQLExecutor, logger zerolog.Logger) *SQLRunner {
	return &SQLRunner{
		db:     db,
		logger: logger.With().Str("component", "sql").Logger(),
		now:    time.Now,
	}
}

func (r *SQLRunner) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	marker, body, err := extractMarker(query)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	start := r.now()
	tag, err := r.db.Exec(ctx, body, args...)
	r.finish(marker, "exec", start, err).Int64("rows", tag.RowsAffected()).Send()
	return tag, err
}

func (r *SQLRunner) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	marker, body, err := extractMarker(query)
	if err != nil {
		return errorRow{err: err}
	}
	return loggedRow{row: r.db.QueryRow(ctx, body, args...), runner: r, marker: marker, start: r.now()}
}

func (r *SQLRunner) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	marker, body, err := extractMarker(query)
	if err != nil {
		return nil, err
	}
	start := r.now()
	rows, err := r.db.Query(ctx, body, args...)
	if err != nil {
		r.finish(marker, "query", start, err).Send()
		return nil, err
	}
	return &loggedRows{Rows: rows, runner: r, marker: marker, start: start}, nil
}

// finish opens the completion event for one statement. Empty results are
// not errors for the caller, so they stay at debug level.
func (r *SQLRunner) finish(marker, op string, start time.Time, err error) *zerolog.Event {
	ev := r.logger.Debug()
	if err != nil && !IsNoRows(err) {
		ev = r.logger.Error().Err(err)
	}
	return ev.Str("sql", marker).Str("op", op).Dur("elapsed", r.now().Sub(start))
}

type loggedRow struct {
	row    pgx.Row
	runner *SQLRunner
	marker string
	start  time.Time
}

func (l loggedRow) Scan(dest ...any) error {
	err := l.row.Scan(dest...)
	l.runner.finish(l.marker, "query_row", l.start, err).Bool("empty", IsNoRows(err)).Send()
	return err
}

type loggedRows struct {
	pgx.Rows
	runner *SQLRunner
	marker string
	start  time.Time
	n      int
	closed bool
}

func (l *loggedRows) Next() bool {
	if l.Rows.Next() {
		l.n++
		return true
	}
	return false
}

func (l *loggedRows) Close() {
	l.Rows.Close()
	if l.closed {
		return
	}
	l.closed = true
	l.runner.finish(l.marker, "query", l.start, l.Rows.Err()).Int("rows", l.n).Send()
}

type errorRow struct {
	err error
}

func (e errorRow) Scan(dest ...any) error {
	return e.err
}

// extractMarker splits the leading marker line from the statement body.
func extractMarker(query string) (string, string, error) {
	first, body, _ := strings.Cut(strings.TrimSpace(query), "\n")
	first = strings.TrimSpace(first)
	if !markerRegexp.MatchString(first) {
		return "", "", ErrMissingMarker
	}
	return strings.TrimPrefix(first, "--sql "), body, nil
}

var _ SQLExecutor = (*SQLRunner)(nil)

// IsNoRows reports whether err signals an empty result set.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
