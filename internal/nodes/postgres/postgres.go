package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/jeremy-jemverse/flownodes/internal/schema"
)

// ErrorClass tags database failures for retry classification.
const ErrorClass = "DATABASE_ERROR"

// Error is a query or connection failure reported by the database.
type Error struct {
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("postgres: %v", e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// Class implements the error classification used by retry policies.
func (e *Error) Class() string { return ErrorClass }

// ConnectionDetails is the discrete form of a connection target.
type ConnectionDetails struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSL      bool   `json:"ssl,omitempty"`
}

// DSN renders the details as a postgres URL.
func (d *ConnectionDetails) DSN() string {
	sslmode := "disable"
	if d.SSL {
		sslmode = "require"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     d.Database,
		RawQuery: "sslmode=" + sslmode,
	}
	return u.String()
}

// Params is the node configuration for one SQL execution. Either a full
// connection string or discrete connection details must be supplied.
type Params struct {
	ConnectionString  string             `json:"connectionString,omitempty"`
	ConnectionDetails *ConnectionDetails `json:"connectionDetails,omitempty"`
	Query             string             `json:"query"`
	Params            []any              `json:"params,omitempty"`
}

// Validate checks the parameter combination before connecting.
func (p *Params) Validate() error {
	if p.Query == "" {
		return fmt.Errorf("query is required")
	}
	if p.ConnectionString == "" && p.ConnectionDetails == nil {
		return fmt.Errorf("connection string or connection details required")
	}
	if d := p.ConnectionDetails; d != nil {
		if d.Host == "" || d.User == "" || d.Database == "" {
			return fmt.Errorf("connection details require host, user, and database")
		}
		if d.Port <= 0 || d.Port > 65535 {
			return fmt.Errorf("invalid port: %d", d.Port)
		}
	}
	return nil
}

func (p *Params) dsn() string {
	if p.ConnectionString != "" {
		return p.ConnectionString
	}
	return p.ConnectionDetails.DSN()
}

// Executor runs SQL for postgres nodes. Each execution opens a fresh
// connection to the node's target and closes it when done; node targets vary
// per schema, so no pool is shared across runs.
type Executor struct {
	open func(dsn string) (*sql.DB, error)
}

// Option configures an Executor.
type Option func(*Executor)

// WithOpen replaces the connection factory, for tests.
func WithOpen(open func(dsn string) (*sql.DB, error)) Option {
	return func(e *Executor) { e.open = open }
}

// New constructs a postgres Executor using the pgx stdlib driver.
func New(opts ...Option) *Executor {
	e := &Executor{
		open: func(dsn string) (*sql.DB, error) { return sql.Open("pgx", dsn) },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute implements schema.Executor. The result data is the query's rows as
// a list of column-keyed maps.
func (e *Executor) Execute(ctx context.Context, data json.RawMessage) (schema.Result, error) {
	var params Params
	if err := json.Unmarshal(data, &params); err != nil {
		return schema.Result{}, fmt.Errorf("decode postgres params: %w", err)
	}
	if err := params.Validate(); err != nil {
		return schema.Result{}, err
	}

	db, err := e.open(params.dsn())
	if err != nil {
		return schema.Result{}, &Error{Err: err}
	}
	defer db.Close()

	rows, err := e.query(ctx, db, params)
	if err != nil {
		return schema.Result{}, &Error{Err: err}
	}
	return schema.Result{Success: true, Data: rows}, nil
}

func (e *Executor) query(ctx context.Context, db *sql.DB, params Params) ([]map[string]any, error) {
	rows, err := db.QueryContext(ctx, params.Query, params.Params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = normalize(values[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// normalize converts driver byte slices to strings so results marshal as
// text rather than base64.
func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
