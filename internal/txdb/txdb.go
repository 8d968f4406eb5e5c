// Package txdb provides read-only access to the transactions database that
// the SQL agent queries.
package txdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/finchat/internal/shared"
	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// DefaultTopK bounds the rows returned by a query that carries no LIMIT.
const DefaultTopK = 10

// sampleRows is how many example rows Schema appends per table.
const sampleRows = 3

// schemaTTL bounds how stale cached sample rows may get.
const schemaTTL = time.Minute

var (
	// ErrNotReadOnly is returned for statements other than SELECT/WITH.
	ErrNotReadOnly = errors.New("only read-only SELECT statements are allowed")
	// ErrUnknownTable is returned when Schema is asked for a missing table.
	ErrUnknownTable = errors.New("unknown table")

	readOnlyPattern = regexp.MustCompile(`(?is)^\s*(select|with)\b`)
	limitPattern    = regexp.MustCompile(`(?i)\blimit\s+\d+`)
	forbidPattern   = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|create|replace|attach|detach|pragma|vacuum)\b`)
)

// DB wraps the transactions database. Statements from the agent run on a
// separate pool whose connections have query_only set; the writable pool is
// used only to create the schema.
type DB struct {
	rw     *sql.DB
	ro     *sql.DB
	topK   int
	schema *ristretto.Cache
}

// Open opens the database. For the "sqlite" driver the DSN is a file path and
// parent directories are created.
func Open(driver, dsn string) (*DB, error) {
	if driver == "" {
		driver = "sqlite"
	}
	if driver == "sqlite" {
		switch {
		case dsn == ":memory:":
			// Both pools must see the same in-memory database.
			dsn = "file:txdb-" + uuid.NewString() + "?mode=memory&cache=shared"
		case !strings.HasPrefix(dsn, "file:"):
			if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		dsn = withPragma(dsn, "busy_timeout(5000)")
	}

	rw, err := openPool(driver, dsn)
	if err != nil {
		return nil, err
	}
	roDSN := dsn
	if driver == "sqlite" {
		roDSN = withPragma(dsn, "query_only(1)")
	}
	ro, err := openPool(driver, roDSN)
	if err != nil {
		_ = rw.Close()
		return nil, err
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		_ = ro.Close()
		_ = rw.Close()
		return nil, fmt.Errorf("create schema cache: %w", err)
	}
	return &DB{rw: rw, ro: ro, topK: DefaultTopK, schema: cache}, nil
}

func openPool(driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// withPragma appends a modernc _pragma parameter to dsn.
func withPragma(dsn, pragma string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=" + pragma
}

// Close closes the database.
func (d *DB) Close() error {
	d.schema.Close()
	return errors.Join(d.ro.Close(), d.rw.Close())
}

// Ping verifies database connectivity.
func (d *DB) Ping(ctx context.Context) error {
	return d.ro.PingContext(ctx)
}

// EnsureSchema creates the transactions table if it does not exist.
func (d *DB) EnsureSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		txn_date TEXT NOT NULL,
		merchant TEXT NOT NULL,
		category TEXT NOT NULL,
		amount REAL NOT NULL,
		currency TEXT NOT NULL DEFAULT 'INR',
		payment_method TEXT,
		description TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_date ON transactions(txn_date);
	CREATE INDEX IF NOT EXISTS idx_transactions_category ON transactions(category);
	`
	if _, err := d.rw.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// ListTables returns the user tables in name order.
func (d *DB) ListTables(ctx context.Context) ([]string, error) {
	rows, err := d.ro.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer closeRows(rows)

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return tables, nil
}

// Schema returns the CREATE statement and a few sample rows for each table.
// Per-table results are cached for a short while since the agent asks for
// them on nearly every question.
func (d *DB) Schema(ctx context.Context, tables ...string) (string, error) {
	blocks := make([]string, 0, len(tables))
	for _, table := range tables {
		table = strings.TrimSpace(table)
		if cached, ok := d.schema.Get(table); ok {
			blocks = append(blocks, cached.(string))
			continue
		}
		block, err := d.tableInfo(ctx, table)
		if err != nil {
			return "", err
		}
		d.schema.SetWithTTL(table, block, int64(len(block)), schemaTTL)
		blocks = append(blocks, block)
	}
	return strings.Join(blocks, "\n\n"), nil
}

func (d *DB) tableInfo(ctx context.Context, table string) (string, error) {
	var ddl string
	err := d.ro.QueryRowContext(ctx,
		`SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&ddl)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	if err != nil {
		return "", fmt.Errorf("read schema of %s: %w", table, err)
	}

	var b strings.Builder
	b.WriteString(strings.TrimSpace(ddl))
	b.WriteString("\n\n/*\n")
	fmt.Fprintf(&b, "%d rows from %s table:\n", sampleRows, table)
	sample, err := d.render(ctx, fmt.Sprintf(`SELECT * FROM %q LIMIT %d`, table, sampleRows), true)
	if err != nil {
		return "", err
	}
	b.WriteString(sample)
	b.WriteString("\n*/")
	return b.String(), nil
}

// Query runs a read-only statement and renders the result rows as text. A
// LIMIT is appended when the statement has none.
func (d *DB) Query(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(query), ";"))
	bare := stripStrings(query)
	if !readOnlyPattern.MatchString(query) || forbidPattern.MatchString(bare) || strings.Contains(bare, ";") {
		return "", ErrNotReadOnly
	}
	if !limitPattern.MatchString(bare) {
		query = fmt.Sprintf("%s\nLIMIT %d", query, d.topK)
	}
	return d.query(ctx, query)
}

// query runs an already screened statement on the query-only pool.
func (d *DB) query(ctx context.Context, query string) (string, error) {
	out, err := d.render(ctx, query, false)
	if shared.IsSQLiteReadOnlyError(err) {
		return "", ErrNotReadOnly
	}
	return out, err
}

// render executes query and formats rows as tuples, one per line. With
// header set, the column names come first, tab separated.
func (d *DB) render(ctx context.Context, query string, header bool) (string, error) {
	rows, err := d.ro.QueryContext(ctx, query)
	if err != nil {
		return "", fmt.Errorf("query: %w", err)
	}
	defer closeRows(rows)

	cols, err := rows.Columns()
	if err != nil {
		return "", fmt.Errorf("read columns: %w", err)
	}

	var lines []string
	if header {
		lines = append(lines, strings.Join(cols, "\t"))
	}

	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return "", fmt.Errorf("scan row: %w", err)
		}
		cells := make([]string, len(values))
		for i, v := range values {
			cells[i] = formatCell(v, header)
		}
		if header {
			lines = append(lines, strings.Join(cells, "\t"))
		} else {
			lines = append(lines, "("+strings.Join(cells, ", ")+")")
		}
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterate rows: %w", err)
	}
	return strings.Join(lines, "\n"), nil
}

func formatCell(v any, bare bool) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case []byte:
		if bare {
			return string(x)
		}
		return fmt.Sprintf("'%s'", x)
	case string:
		if bare {
			return x
		}
		return fmt.Sprintf("'%s'", x)
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}

// stripStrings blanks out quoted literals, quoted identifiers and comments
// so their contents do not trip the write-statement check.
func stripStrings(query string) string {
	src := []rune(query)
	out := make([]rune, len(src))
	var quote rune
	for i := 0; i < len(src); i++ {
		r := src[i]
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
			out[i] = ' '
		case r == '\'' || r == '"' || r == '`':
			quote = r
			out[i] = ' '
		case r == '[':
			quote = ']'
			out[i] = ' '
		case r == '-' && i+1 < len(src) && src[i+1] == '-':
			for ; i < len(src) && src[i] != '\n'; i++ {
				out[i] = ' '
			}
			if i < len(src) {
				out[i] = '\n'
			}
		case r == '/' && i+1 < len(src) && src[i+1] == '*':
			out[i], out[i+1] = ' ', ' '
			for i += 2; i < len(src); i++ {
				if src[i] == '*' && i+1 < len(src) && src[i+1] == '/' {
					out[i], out[i+1] = ' ', ' '
					i++
					break
				}
				out[i] = ' '
			}
		default:
			out[i] = r
		}
	}
	return string(out)
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", "error", err)
	}
}
