package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"  // registers "postgres"
	_ "modernc.org/sqlite" // registers "sqlite"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DatabaseConfig holds configuration for a database lookup.
type DatabaseConfig struct {
	Driver string // sqlite or postgres; defaults to sqlite
	DSN    string
	// Query uses :name placeholders bound from request parameters.
	Query string
}

// DatabaseAdapter runs one parameterized query and returns its first row.
type DatabaseAdapter struct {
	db       *sql.DB
	driver   string
	dsn      string
	query    string
	bindings []string
	mu       sync.Mutex
	closed   bool
}

// NewDatabaseAdapter opens the database handle and prepares the placeholder
// rewrite. The connection itself is established lazily.
func NewDatabaseAdapter(config DatabaseConfig) (*DatabaseAdapter, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if strings.TrimSpace(config.Query) == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	driver := strings.ToLower(strings.TrimSpace(config.Driver))
	if driver == "" {
		driver = DriverSQLite
	}
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported database driver: %s", config.Driver)
	}

	query, bindings := rewritePlaceholders(config.Query, driver)

	db, err := sql.Open(driver, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &DatabaseAdapter{
		db:       db,
		driver:   driver,
		dsn:      config.DSN,
		query:    query,
		bindings: bindings,
	}, nil
}

// SystemType implements Adapter.
func (a *DatabaseAdapter) SystemType() SystemType {
	return SystemTypeDatabase
}

// Call binds request parameters into the query and returns the first row as
// the response data together with "rowCount". Every placeholder must have a
// matching parameter.
func (a *DatabaseAdapter) Call(ctx context.Context, req *Request, timeout time.Duration) (*Response, error) {
	if a.isClosed() {
		return nil, ErrClosed
	}

	args := make([]interface{}, len(a.bindings))
	for i, name := range a.bindings {
		v, ok := req.Param(name)
		if !ok {
			return nil, fmt.Errorf("query parameter %q not provided", name)
		}
		args[i] = v
	}

	callCtx, cancel := callContext(ctx, timeout)
	defer cancel()

	start := time.Now()
	rows, err := a.db.QueryContext(callCtx, a.query, args...)
	if err != nil {
		return nil, a.queryError(callCtx, timeout, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	columns, err := rows.Columns()
	if err != nil {
		return nil, a.queryError(callCtx, timeout, err)
	}

	data := make(map[string]interface{}, len(columns)+1)
	count := 0
	for rows.Next() {
		count++
		if count > 1 {
			continue
		}
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, a.queryError(callCtx, timeout, fmt.Errorf("failed to scan row: %w", err))
		}
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				data[col] = string(b)
				continue
			}
			data[col] = values[i]
		}
	}
	if err := rows.Err(); err != nil {
		return nil, a.queryError(callCtx, timeout, err)
	}

	if count == 0 {
		// No rows: an empty lookup, not a transport failure.
		return NewResponse().Field("rowCount", 0).Duration(time.Since(start)).Build(), nil
	}
	data["rowCount"] = count
	return NewResponse().Data(data).Duration(time.Since(start)).Build(), nil
}

func (a *DatabaseAdapter) queryError(callCtx context.Context, timeout time.Duration, err error) error {
	if te := timeoutError(callCtx, SystemTypeDatabase, a.dsnLabel(), timeout); te != nil {
		return te
	}
	return &TransportError{
		SystemType: SystemTypeDatabase,
		Endpoint:   a.dsnLabel(),
		Err:        err,
	}
}

// dsnLabel hides credentials embedded in a DSN.
func (a *DatabaseAdapter) dsnLabel() string {
	if i := strings.Index(a.dsn, "@"); i >= 0 {
		if j := strings.Index(a.dsn, "://"); j >= 0 && j < i {
			return a.dsn[:j+3] + "***" + a.dsn[i:]
		}
	}
	return a.driver
}

// IsAvailable pings the database.
func (a *DatabaseAdapter) IsAvailable(ctx context.Context) bool {
	if a.isClosed() {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	return a.db.PingContext(probeCtx) == nil
}

// Close closes the database handle.
func (a *DatabaseAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	return a.db.Close()
}

func (a *DatabaseAdapter) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// rewritePlaceholders replaces :name placeholders with driver bind markers
// (? for sqlite, $n for postgres) and returns the parameter names in bind
// order. Quoted text, comments and postgres :: casts are left alone. A name used twice
// is bound twice.
func rewritePlaceholders(query, driver string) (string, []string) {
	var (
		out      strings.Builder
		bindings []string
		quote    rune
	)
	runes := []rune(query)

	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if quote != 0 {
			out.WriteRune(r)
			if r == quote {
				quote = 0
			}
			continue
		}
		if r == '\'' || r == '"' {
			quote = r
			out.WriteRune(r)
			continue
		}

		// Comments are copied verbatim up to their terminator.
		if r == '-' && i+1 < len(runes) && runes[i+1] == '-' {
			end := i
			for end < len(runes) && runes[end] != '\n' {
				end++
			}
			out.WriteString(string(runes[i:end]))
			i = end - 1
			continue
		}
		if r == '/' && i+1 < len(runes) && runes[i+1] == '*' {
			end := i + 2
			for end < len(runes) && !(runes[end] == '*' && end+1 < len(runes) && runes[end+1] == '/') {
				end++
			}
			end = min(end+2, len(runes))
			out.WriteString(string(runes[i:end]))
			i = end - 1
			continue
		}

		if r == ':' && i+1 < len(runes) && runes[i+1] == ':' {
			out.WriteString("::")
			i++
			continue
		}

		if r == ':' && i+1 < len(runes) && isNameStart(runes[i+1]) {
			j := i + 1
			for j < len(runes) && isNamePart(runes[j]) {
				j++
			}
			bindings = append(bindings, string(runes[i+1:j]))
			if driver == DriverPostgres {
				fmt.Fprintf(&out, "$%d", len(bindings))
			} else {
				out.WriteRune('?')
			}
			i = j - 1
			continue
		}

		out.WriteRune(r)
	}

	return out.String(), bindings
}

func isNameStart(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isNamePart(r rune) bool {
	return isNameStart(r) || (r >= '0' && r <= '9')
}
