// Package store provides SQLite-backed snapshot and user persistence.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "modernc.org/sqlite"
)

var (
	ErrAlreadyConnected = errors.New("store: already connected")
	ErrNotConnected     = errors.New("store: not connected")
)

// Record is one result row keyed by column name. Values keep the driver's
// types (int64, float64, string, nil) so they marshal to JSON as-is.
type Record map[string]any

// DB is a file-addressed SQLite handle. Connect must be called before use;
// connecting twice or disconnecting a closed handle is an error.
type DB struct {
	path string

	mu    sync.Mutex
	sqldb *sql.DB
	db    *bun.DB
}

func NewDB(path string) *DB {
	return &DB{path: path}
}

func (d *DB) Path() string { return d.path }

func (d *DB) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sqldb != nil {
		return ErrAlreadyConnected
	}

	if dir := filepath.Dir(d.path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}

	sqldb, err := sql.Open("sqlite", d.path)
	if err != nil {
		return err
	}
	if err := sqldb.PingContext(ctx); err != nil {
		if cerr := sqldb.Close(); cerr != nil {
			return fmt.Errorf("ping db: %w; close failed: %w", err, cerr)
		}
		return err
	}

	d.sqldb = sqldb
	d.db = bun.NewDB(sqldb, sqlitedialect.New())
	return nil
}

func (d *DB) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sqldb == nil {
		return ErrNotConnected
	}

	err := d.sqldb.Close()
	d.sqldb = nil
	d.db = nil
	return err
}

func (d *DB) handle() (*sql.DB, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sqldb == nil {
		return nil, ErrNotConnected
	}
	return d.sqldb, nil
}

func (d *DB) bunDB() (*bun.DB, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return nil, ErrNotConnected
	}
	return d.db, nil
}

// Exec runs a DDL/DML statement with placeholder binding and returns the
// affected row count.
func (d *DB) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	db, err := d.handle()
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Tx starts a transaction for bulk work.
func (d *DB) Tx(ctx context.Context) (*sql.Tx, error) {
	db, err := d.handle()
	if err != nil {
		return nil, err
	}
	return db.BeginTx(ctx, nil)
}

// Query runs a statement with placeholder binding and maps every row to a
// Record.
func (d *DB) Query(ctx context.Context, query string, args ...any) ([]Record, error) {
	db, err := d.handle()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

type attachment struct {
	name string
	path string
}

// withAttached runs fn on a single pooled connection with the given databases
// attached. ATTACH is connection-local state, so everything has to happen on
// one conn; the databases are detached before the conn returns to the pool.
func (d *DB) withAttached(ctx context.Context, atts []attachment, fn func(conn *sql.Conn) error) error {
	db, err := d.handle()
	if err != nil {
		return err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	attached := 0
	for _, att := range atts {
		// att.name is an internal constant, never user input.
		if _, err := conn.ExecContext(ctx, "ATTACH DATABASE ? AS "+att.name, att.path); err != nil {
			err = fmt.Errorf("attach %s: %w", att.name, err)
			return errors.Join(err, detach(ctx, conn, atts[:attached]))
		}
		attached++
	}

	return errors.Join(fn(conn), detach(ctx, conn, atts[:attached]))
}

func detach(ctx context.Context, conn *sql.Conn, atts []attachment) error {
	var errs []error
	for i := len(atts) - 1; i >= 0; i-- {
		if _, err := conn.ExecContext(ctx, "DETACH DATABASE "+atts[i].name); err != nil {
			errs = append(errs, fmt.Errorf("detach %s: %w", atts[i].name, err))
		}
	}
	return errors.Join(errs...)
}

func queryConn(ctx context.Context, conn *sql.Conn, query string, args ...any) ([]Record, error) {
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := []Record{}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		record := make(Record, len(columns))
		for i, column := range columns {
			value := values[i]
			if b, ok := value.([]byte); ok {
				value = string(b)
			}
			record[column] = value
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
