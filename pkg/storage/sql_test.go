package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"
	"testing"
)

func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(q), " ")
}

type recordedStatement struct {
	query string
	args  []driver.NamedValue
}

// fakeSQLRecorder records statements sent through the fake driver and
// answers queries from a queue.
type fakeSQLRecorder struct {
	mu sync.Mutex

	execs   []recordedStatement
	queries []recordedStatement
	commits int

	queryResponses []fakeRowsResult
}

type fakeRowsResult struct {
	columns []string
	rows    [][]driver.Value
}

func (r *fakeSQLRecorder) recordExec(query string, args []driver.NamedValue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.execs = append(r.execs, recordedStatement{query: normalizeQuery(query), args: append([]driver.NamedValue(nil), args...)})
}

func (r *fakeSQLRecorder) recordQuery(query string, args []driver.NamedValue) fakeRowsResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, recordedStatement{query: normalizeQuery(query), args: append([]driver.NamedValue(nil), args...)})
	if len(r.queryResponses) == 0 {
		return fakeRowsResult{columns: []string{"data"}}
	}
	resp := r.queryResponses[0]
	r.queryResponses = r.queryResponses[1:]
	return resp
}

func (r *fakeSQLRecorder) respond(columns []string, rows ...[]driver.Value) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queryResponses = append(r.queryResponses, fakeRowsResult{columns: columns, rows: rows})
}

func (r *fakeSQLRecorder) execQueries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.execs))
	for i, e := range r.execs {
		out[i] = e.query
	}
	return out
}

type fakeSQLDriver struct{}

var (
	fakeSQLRegisterOnce sync.Once
	fakeSQLMu           sync.Mutex
	fakeSQLRecorders    = map[string]*fakeSQLRecorder{}
)

func (fakeSQLDriver) Open(name string) (driver.Conn, error) {
	fakeSQLMu.Lock()
	rec := fakeSQLRecorders[name]
	fakeSQLMu.Unlock()
	if rec == nil {
		return nil, fmt.Errorf("unknown fake db name: %s", name)
	}
	return &fakeSQLConn{rec: rec}, nil
}

type fakeSQLConn struct {
	rec *fakeSQLRecorder
}

func (c *fakeSQLConn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}
func (c *fakeSQLConn) Close() error { return nil }
func (c *fakeSQLConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *fakeSQLConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	return &fakeSQLTx{rec: c.rec}, nil
}

func (c *fakeSQLConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.rec.recordExec(query, args)
	return driver.RowsAffected(1), nil
}

func (c *fakeSQLConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	resp := c.rec.recordQuery(query, args)
	return &fakeSQLRows{columns: resp.columns, rows: resp.rows}, nil
}

func (c *fakeSQLConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	return &fakeSQLStmt{rec: c.rec, query: query}, nil
}

type fakeSQLTx struct {
	rec *fakeSQLRecorder
}

func (t *fakeSQLTx) Commit() error {
	t.rec.mu.Lock()
	t.rec.commits++
	t.rec.mu.Unlock()
	return nil
}
func (t *fakeSQLTx) Rollback() error { return nil }

type fakeSQLStmt struct {
	rec   *fakeSQLRecorder
	query string
}

func (s *fakeSQLStmt) Close() error  { return nil }
func (s *fakeSQLStmt) NumInput() int { return -1 }
func (s *fakeSQLStmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.ExecContext(context.Background(), namedFromValues(args))
}
func (s *fakeSQLStmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.QueryContext(context.Background(), namedFromValues(args))
}
func (s *fakeSQLStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	s.rec.recordExec(s.query, args)
	return driver.RowsAffected(1), nil
}
func (s *fakeSQLStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	resp := s.rec.recordQuery(s.query, args)
	return &fakeSQLRows{columns: resp.columns, rows: resp.rows}, nil
}

func namedFromValues(values []driver.Value) []driver.NamedValue {
	out := make([]driver.NamedValue, 0, len(values))
	for i, v := range values {
		out = append(out, driver.NamedValue{Ordinal: i + 1, Value: v})
	}
	return out
}

type fakeSQLRows struct {
	columns []string
	rows    [][]driver.Value
	idx     int
}

func (r *fakeSQLRows) Columns() []string { return r.columns }
func (r *fakeSQLRows) Close() error      { return nil }
func (r *fakeSQLRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}

func openFakeDB(t *testing.T) (*sql.DB, *fakeSQLRecorder) {
	t.Helper()

	fakeSQLRegisterOnce.Do(func() {
		sql.Register("fluxio_fake_sql", fakeSQLDriver{})
	})

	rec := &fakeSQLRecorder{}
	name := t.Name()

	fakeSQLMu.Lock()
	fakeSQLRecorders[name] = rec
	fakeSQLMu.Unlock()

	t.Cleanup(func() {
		fakeSQLMu.Lock()
		delete(fakeSQLRecorders, name)
		fakeSQLMu.Unlock()
	})

	db, err := sql.Open("fluxio_fake_sql", name)
	if err != nil {
		t.Fatalf("sql.Open() error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return db, rec
}

func TestParseDialect(t *testing.T) {
	tests := []struct {
		name    string
		want    SQLDialect
		wantErr bool
	}{
		{"postgres", DialectPostgreSQL, false},
		{"pgx", DialectPostgreSQL, false},
		{"mysql", DialectMySQL, false},
		{"sqlite3", DialectSQLite, false},
		{"oracle", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDialect(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDialect() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("ParseDialect() got %v want %v", got, tt.want)
			}
		})
	}
}

func TestSQLStore_Placeholders(t *testing.T) {
	db, _ := openFakeDB(t)

	if got := NewSQLStore(db).placeholder(2); got != "$2" {
		t.Fatalf("placeholder() got %q want %q", got, "$2")
	}
	if got := NewSQLStore(db, WithSQLDialect(DialectMySQL)).placeholder(2); got != "?" {
		t.Fatalf("placeholder() got %q want %q", got, "?")
	}
}

func TestSQLStore_SaveLoadDelete_PostgresQueries(t *testing.T) {
	db, rec := openFakeDB(t)
	store := NewSQLStore(db)
	ctx := context.Background()

	if err := store.Save(ctx, "theme", []byte(`"dark"`)); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	rec.respond([]string{"data"}, []driver.Value{[]byte(`"dark"`)})
	data, err := store.Load(ctx, "theme")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if string(data) != `"dark"` {
		t.Fatalf("Load() got %q", data)
	}

	if err := store.Delete(ctx, "theme"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	execs := rec.execQueries()
	if len(execs) != 2 {
		t.Fatalf("exec count got %d want 2", len(execs))
	}
	if !strings.Contains(execs[0], "INSERT INTO fluxio_values") || !strings.Contains(execs[0], "ON CONFLICT (id) DO UPDATE") {
		t.Fatalf("unexpected Save query: %q", execs[0])
	}
	if execs[1] != "DELETE FROM fluxio_values WHERE id = $1" {
		t.Fatalf("unexpected Delete query: %q", execs[1])
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if got := rec.queries[0].query; got != "SELECT data FROM fluxio_values WHERE id = $1" {
		t.Fatalf("unexpected Load query: %q", got)
	}
	if got := rec.queries[0].args[0].Value; got != "theme" {
		t.Fatalf("Load() arg got %v want theme", got)
	}
}

func TestSQLStore_Load_NoRowsReturnsNil(t *testing.T) {
	db, _ := openFakeDB(t)
	store := NewSQLStore(db, WithSQLDialect(DialectSQLite))

	data, err := store.Load(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if data != nil {
		t.Fatalf("Load() got %v want nil", data)
	}
}

func TestSQLStore_Keys(t *testing.T) {
	db, rec := openFakeDB(t)
	store := NewSQLStore(db, WithSQLTableName("prefs"))

	rec.respond([]string{"id"}, []driver.Value{"a"}, []driver.Value{"b"})
	keys, err := store.Keys(context.Background())
	if err != nil {
		t.Fatalf("Keys() error: %v", err)
	}
	if !reflect.DeepEqual(keys, []string{"a", "b"}) {
		t.Fatalf("Keys() got %v", keys)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if got := rec.queries[0].query; got != "SELECT id FROM prefs ORDER BY id" {
		t.Fatalf("unexpected Keys query: %q", got)
	}
}

func TestSQLStore_SaveAll_UsesTransaction(t *testing.T) {
	db, rec := openFakeDB(t)
	store := NewSQLStore(db, WithSQLDialect(DialectSQLite))

	if err := store.SaveAll(context.Background(), map[string][]byte{
		"a": []byte("1"),
		"b": []byte("2"),
	}); err != nil {
		t.Fatalf("SaveAll() error: %v", err)
	}

	execs := rec.execQueries()
	if len(execs) != 2 {
		t.Fatalf("exec count got %d want 2", len(execs))
	}
	if !strings.Contains(execs[0], "INSERT OR REPLACE INTO fluxio_values") {
		t.Fatalf("unexpected SaveAll query: %q", execs[0])
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.commits != 1 {
		t.Fatalf("commits got %d want 1", rec.commits)
	}
}

func TestSQLStore_CreateTable(t *testing.T) {
	tests := []struct {
		dialect SQLDialect
		want    string
	}{
		{DialectPostgreSQL, "data BYTEA NOT NULL"},
		{DialectMySQL, "data LONGBLOB NOT NULL"},
		{DialectSQLite, "data BLOB NOT NULL"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			db, rec := openFakeDB(t)
			store := NewSQLStore(db, WithSQLDialect(tt.dialect))
			if err := store.CreateTable(context.Background()); err != nil {
				t.Fatalf("CreateTable() error: %v", err)
			}
			execs := rec.execQueries()
			if len(execs) != 1 {
				t.Fatalf("exec count got %d want 1", len(execs))
			}
			if !strings.Contains(execs[0], "CREATE TABLE IF NOT EXISTS fluxio_values") || !strings.Contains(execs[0], tt.want) {
				t.Fatalf("CreateTable query got %q", execs[0])
			}
		})
	}
}

func TestSQLStore_Close_MakesOperationsFail(t *testing.T) {
	db, _ := openFakeDB(t)
	store := NewSQLStore(db)

	if err := store.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() second call error: %v", err)
	}

	ctx := context.Background()
	if err := store.Save(ctx, "k", []byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("Save() got %v want ErrClosed", err)
	}
	if _, err := store.Load(ctx, "k"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Load() got %v want ErrClosed", err)
	}
	if err := store.Delete(ctx, "k"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Delete() got %v want ErrClosed", err)
	}
	if _, err := store.Keys(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("Keys() got %v want ErrClosed", err)
	}
	if err := store.SaveAll(ctx, map[string][]byte{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("SaveAll() got %v want ErrClosed", err)
	}
}
