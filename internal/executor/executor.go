// Package executor runs a single query request against a storage session and
// turns the outcome into an op.Result.
package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"
	"golang.org/x/text/cases"

	"github.com/roach88/sqlpipe/internal/op"
	"github.com/roach88/sqlpipe/internal/value"
)

// Session is the subset of *sql.Conn the executor needs. Using one connection
// lets last_insert_rowid() observe the INSERT that preceded it.
type Session interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ErrConnectionLost is reported when a request runs without a session.
var ErrConnectionLost = errors.New("connection lost")

// Executor runs query requests.
//
// Thread-safety: Executor holds no mutable state and is safe for concurrent
// use, but a Session generally is not.
type Executor struct {
	now    func() time.Time
	logger zerolog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock sets the source of Result.CompletedAt.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// WithLogger sets the executor logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New creates an Executor.
func New(opts ...Option) *Executor {
	e := &Executor{now: time.Now, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs req on sess.
//
// A read (statement whose first keyword is SELECT) yields a List of Maps, one
// per row with columns in result order. Anything else is a write and yields
// {affected_rows} plus last_insert_id for an INSERT.
//
// The returned error is non-nil exactly when the result is a failure: it is
// an *op.Error with code CONNECTION when sess is nil and QUERY otherwise.
func (e *Executor) Execute(ctx context.Context, sess Session, req op.Request) (op.Result, error) {
	if sess == nil {
		err := &op.Error{Code: op.ErrCodeConnection, Message: ErrConnectionLost.Error(), OperationID: req.ID}
		return op.Failed(req.ID, ErrConnectionLost.Error(), e.now()), err
	}

	query := req.SQL()
	args := BindArgs(req.Params)
	kw := Keyword(query)

	log := e.logger.With().Str("operation_id", req.ID).Str("keyword", kw).Logger()
	log.Debug().Int("args", len(args)).Msg("executing query")

	var (
		data value.Value
		err  error
	)
	if kw == "select" {
		data, err = e.read(ctx, sess, query, args)
	} else {
		data, err = e.write(ctx, sess, query, kw == "insert", args)
	}
	if err != nil {
		log.Warn().Err(err).Msg("query failed")
		return op.Failed(req.ID, err.Error(), e.now()), op.NewQueryError(req.ID, err)
	}
	return op.Succeeded(req.ID, data, e.now()), nil
}

// Command runs a statement outside the queue, for BEGIN/COMMIT/ROLLBACK and
// other immediate commands. Parameters bind the same way as for Execute.
func (e *Executor) Command(ctx context.Context, sess Session, command string, params op.Params) error {
	if sess == nil {
		return op.NewConnectionError(ErrConnectionLost.Error(), nil)
	}
	if _, err := sess.ExecContext(ctx, command, BindArgs(params)...); err != nil {
		e.logger.Warn().Err(err).Str("command", command).Msg("immediate command failed")
		return fmt.Errorf("exec %q: %w", command, err)
	}
	return nil
}

func (e *Executor) read(ctx context.Context, sess Session, query string, args []any) (value.Value, error) {
	rows, err := sess.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := value.List{}
	raw := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := &value.Map{}
		for i, col := range cols {
			row.Set(col, columnValue(raw[i]))
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Executor) write(ctx context.Context, sess Session, query string, insert bool, args []any) (value.Value, error) {
	res, err := sess.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		affected = 0
	}
	out := value.NewMap(value.F("affected_rows", value.Int(affected)))

	if insert {
		var id int64
		if err := sess.QueryRowContext(ctx, "SELECT last_insert_rowid()").Scan(&id); err != nil {
			e.logger.Debug().Err(err).Msg("last_insert_rowid lookup failed")
			id = 0
		}
		out.Set("last_insert_id", value.Int(id))
	}
	return out, nil
}

// columnValue maps a driver value onto the result tree. NULL is always an
// explicit Null.
func columnValue(v any) value.Value {
	switch x := v.(type) {
	case nil:
		return value.Null{}
	case int64:
		return value.Int(x)
	case float64:
		return value.Double(x)
	case bool:
		return value.Bool(x)
	case string:
		return value.String(x)
	case []byte:
		return value.String(x)
	case time.Time:
		return value.String(x.Format(value.TimeLayout))
	default:
		return value.String(fmt.Sprint(x))
	}
}

// Keyword returns the leading SQL keyword of query, case-folded. Leading
// whitespace is skipped.
//
// WITH ... SELECT and PRAGMA statements therefore classify as writes.
func Keyword(query string) string {
	s := strings.TrimSpace(query)
	end := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsLetter(r) })
	if end >= 0 {
		s = s[:end]
	}
	// A Caser is stateful; build one per call.
	return cases.Fold().String(s)
}

// IsRead reports whether query is executed as a read.
func IsRead(query string) bool {
	return Keyword(query) == "select"
}

// BindArgs converts scalar params into named arguments. The reserved query
// key is skipped, booleans bind as 0/1 and array params are not bound.
// Arguments are ordered by kind then key so logs are stable.
func BindArgs(p op.Params) []any {
	var args []any
	for _, k := range slices.Sorted(maps.Keys(p.Strings)) {
		if k == op.QueryParam {
			continue
		}
		args = append(args, sql.Named(k, p.Strings[k]))
	}
	for _, k := range slices.Sorted(maps.Keys(p.Ints)) {
		args = append(args, sql.Named(k, p.Ints[k]))
	}
	for _, k := range slices.Sorted(maps.Keys(p.Doubles)) {
		args = append(args, sql.Named(k, p.Doubles[k]))
	}
	for _, k := range slices.Sorted(maps.Keys(p.Bools)) {
		var n int64
		if p.Bools[k] {
			n = 1
		}
		args = append(args, sql.Named(k, n))
	}
	return args
}
