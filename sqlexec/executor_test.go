package sqlexec

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/Clickin/querygate/config"
	"github.com/Clickin/querygate/errors"
)

const testStatements = `
statements:
  - id: users.list
    sql: SELECT id, name, email FROM users ORDER BY id
  - id: users.get
    sql: SELECT id, name, email FROM users WHERE id = :id
  - id: users.create
    sql: INSERT INTO users (name, email) VALUES (:name, :email)
  - id: users.update
    sql: UPDATE users SET name = :name WHERE id = :id
  - id: users.delete
    sql: DELETE FROM users WHERE id = :id
  - id: users.insert-batch
    sql: INSERT INTO users (name, email) VALUES (:name, :email)
  - id: broken
    sql: SELECT * FROM no_such_table
`

func newTestExecutor(t *testing.T) *SQLExecutor {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		email TEXT NOT NULL
	)`)
	require.NoError(t, err)

	registry := NewStatementRegistry(QuestionMark)
	require.NoError(t, registry.LoadBytes([]byte(testStatements)))

	return NewSQLExecutor(db, registry, slog.Default(), time.Second)
}

func seedUsers(t *testing.T, e *SQLExecutor, names ...string) {
	t.Helper()
	for _, name := range names {
		_, err := e.Execute(context.Background(), "users.create",
			map[string]any{"name": name, "email": name + "@example.com"})
		require.NoError(t, err)
	}
}

func TestExecuteQueryReturnsRows(t *testing.T) {
	e := newTestExecutor(t)
	seedUsers(t, e, "alice", "bob")

	res, err := e.Execute(context.Background(), "users.list", nil)
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "alice", res.Rows[0]["name"])
	assert.Equal(t, "bob@example.com", res.Rows[1]["email"])
}

func TestExecuteQueryEmptyResult(t *testing.T) {
	e := newTestExecutor(t)

	res, err := e.Execute(context.Background(), "users.list", nil)
	require.NoError(t, err)
	assert.NotNil(t, res.Rows)
	assert.Empty(t, res.Rows)
}

func TestExecuteQueryWithParameter(t *testing.T) {
	e := newTestExecutor(t)
	seedUsers(t, e, "alice", "bob")

	res, err := e.Execute(context.Background(), "users.get", map[string]any{"id": 2})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "bob", res.Rows[0]["name"])
}

func TestExecuteInsertReportsGeneratedID(t *testing.T) {
	e := newTestExecutor(t)

	res, err := e.Execute(context.Background(), "users.create",
		map[string]any{"name": "alice", "email": "alice@example.com"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.AffectedRows)
	require.NotNil(t, res.GeneratedID)
	assert.Equal(t, int64(1), *res.GeneratedID)
}

func TestExecuteUpdateReportsAffectedRows(t *testing.T) {
	e := newTestExecutor(t)
	seedUsers(t, e, "alice")

	res, err := e.Execute(context.Background(), "users.update",
		map[string]any{"id": 1, "name": "alicia"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.AffectedRows)

	res, err = e.Execute(context.Background(), "users.update",
		map[string]any{"id": 999, "name": "nobody"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.AffectedRows)
}

func TestExecuteDelete(t *testing.T) {
	e := newTestExecutor(t)
	seedUsers(t, e, "alice")

	res, err := e.Execute(context.Background(), "users.delete", map[string]any{"id": 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.AffectedRows)
}

func TestExecuteUnknownStatement(t *testing.T) {
	e := newTestExecutor(t)

	_, err := e.Execute(context.Background(), "absent", nil)
	require.Error(t, err)
	assert.Equal(t, errors.Database, errors.KindOf(err))
	assert.ErrorIs(t, err, errors.ErrStatementNotFound)
}

func TestExecuteDriverFailureWrappedAsDatabase(t *testing.T) {
	e := newTestExecutor(t)

	_, err := e.Execute(context.Background(), "broken", nil)
	require.Error(t, err)
	assert.Equal(t, errors.Database, errors.KindOf(err))

	ge := errors.AsGateway(err)
	assert.Equal(t, "broken", ge.StatementID)
	assert.NotContains(t, ge.Message, "no_such_table",
		"driver detail stays out of the client-facing message")
}

func TestExecuteBatchChunkCommitsAsUnit(t *testing.T) {
	e := newTestExecutor(t)

	items := []map[string]any{
		{"name": "a", "email": "a@example.com"},
		{"name": "b", "email": "b@example.com"},
		{"name": "c", "email": "c@example.com"},
	}
	affected, err := e.ExecuteBatchChunk(context.Background(), "users.insert-batch", items)
	require.NoError(t, err)
	assert.Equal(t, int64(3), affected)

	res, err := e.Execute(context.Background(), "users.list", nil)
	require.NoError(t, err)
	assert.Len(t, res.Rows, 3)
}

func TestExecuteBatchChunkRollsBackOnFailure(t *testing.T) {
	e := newTestExecutor(t)

	// The nil email violates NOT NULL midway through the chunk.
	items := []map[string]any{
		{"name": "a", "email": "a@example.com"},
		{"name": "b", "email": nil},
	}
	_, err := e.ExecuteBatchChunk(context.Background(), "users.insert-batch", items)
	require.Error(t, err)
	assert.Equal(t, errors.Database, errors.KindOf(err))

	res, err := e.Execute(context.Background(), "users.list", nil)
	require.NoError(t, err)
	assert.Empty(t, res.Rows, "failed chunk leaves no partial writes")
}

func TestOpenConnectsAndLoadsStatements(t *testing.T) {
	dir := t.TempDir()
	stmtPath := filepath.Join(dir, "statements.yml")
	require.NoError(t, os.WriteFile(stmtPath, []byte(testStatements), 0o644))

	cfg := config.ExecutorConfig{
		Driver:         "sqlite",
		DSN:            filepath.Join(dir, "test.db"),
		StatementsPath: stmtPath,
		MaxOpenConns:   1,
	}

	e, err := Open(context.Background(), cfg, slog.Default())
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	assert.NoError(t, e.Ping(context.Background()))
	assert.Equal(t, 7, e.Statements().Count())
}
