package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
)

// scriptedDB answers queries from a fixed script, one step per query, and records the SQL.
type scriptedDB struct {
	mu      sync.Mutex
	steps   []step
	queries []string
}

type step struct {
	err      error
	cols     []string
	rows     [][]driver.Value
	affected int64
}

func failStep(err error) step { return step{err: err} }

func execStep(affected int64) step { return step{affected: affected} }

func rowStep(cols []string, rows ...[]driver.Value) step { return step{cols: cols, rows: rows} }

func (s *scriptedDB) Connect(context.Context) (driver.Conn, error) { return &scriptedConn{s: s}, nil }
func (s *scriptedDB) Driver() driver.Driver                        { return nil }

func (s *scriptedDB) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queries)
}

func (s *scriptedDB) query(i int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries[i]
}

func (s *scriptedDB) next(query string) step {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)
	if len(s.steps) == 0 {
		return failStep(errors.New("unexpected query"))
	}
	st := s.steps[0]
	s.steps = s.steps[1:]
	return st
}

func (s *scriptedDB) open(t *testing.T) *sql.DB {
	t.Helper()
	db := sql.OpenDB(s)
	t.Cleanup(func() { db.Close() })
	return db
}

func (s *scriptedDB) openx(t *testing.T) *sqlx.DB {
	return sqlx.NewDb(s.open(t), "postgres")
}

type scriptedConn struct{ s *scriptedDB }

func (c *scriptedConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not supported") }
func (c *scriptedConn) Close() error                        { return nil }
func (c *scriptedConn) Begin() (driver.Tx, error)           { return nil, errors.New("not supported") }

func (c *scriptedConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	st := c.s.next(query)
	if st.err != nil {
		return nil, st.err
	}
	return &scriptedRows{cols: st.cols, rows: st.rows}, nil
}

func (c *scriptedConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	st := c.s.next(query)
	if st.err != nil {
		return nil, st.err
	}
	return driver.RowsAffected(st.affected), nil
}

type scriptedRows struct {
	cols []string
	rows [][]driver.Value
	i    int
}

func (r *scriptedRows) Columns() []string { return r.cols }
func (r *scriptedRows) Close() error      { return nil }
func (r *scriptedRows) Next(dest []driver.Value) error {
	if r.i >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.i])
	r.i++
	return nil
}
