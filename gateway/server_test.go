package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/Clickin/querygate/config"
	"github.com/Clickin/querygate/metric"
	"github.com/Clickin/querygate/sqlexec"
)

const testEndpoints = `
endpoints:
  - path: /api/users
    method: GET
    sql-id: users.list
    sql-type: SELECT
  - path: /api/users/{id}
    method: GET
    sql-id: users.get
    sql-type: SELECT
  - path: /api/users
    method: POST
    sql-id: users.create
    sql-type: INSERT
    validation:
      required:
        - name: name
          type: string
        - name: email
          type: string
  - path: /api/users/{id}
    method: DELETE
    sql-id: users.delete
    sql-type: DELETE
  - path: /api/raw/users
    method: GET
    sql-id: users.list
    sql-type: SELECT
    response-format: RAW
`

const testStatements = `
statements:
  - id: users.list
    sql: SELECT id, name, email FROM users ORDER BY id
  - id: users.get
    sql: SELECT id, name, email FROM users WHERE id = :id
  - id: users.create
    sql: INSERT INTO users (name, email) VALUES (:name, :email)
  - id: users.delete
    sql: DELETE FROM users WHERE id = :id
`

type testGateway struct {
	server   *Server
	executor sqlexec.Executor
	cfg      *config.Config
}

func newTestGateway(t *testing.T, opts ...func(*config.Config)) *testGateway {
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

	statements := sqlexec.NewStatementRegistry(sqlexec.QuestionMark)
	require.NoError(t, statements.LoadBytes([]byte(testStatements)))
	executor := sqlexec.NewSQLExecutor(db, statements, slog.Default(), time.Second)

	return startGateway(t, executor, opts...)
}

// startGateway wires a server around the given executor with the test
// endpoint set loaded and the worker pool running.
func startGateway(t *testing.T, executor sqlexec.Executor, opts ...func(*config.Config)) *testGateway {
	t.Helper()

	dir := t.TempDir()
	endpointPath := filepath.Join(dir, "endpoints.yml")
	require.NoError(t, os.WriteFile(endpointPath, []byte(testEndpoints), 0o644))

	cfg := config.Default()
	cfg.EndpointConfigPath = endpointPath
	cfg.Security.Credentials = []string{"test-key"}
	cfg.Admission.MaxConcurrent = 4
	cfg.Admission.RequestTimeoutMs = 5000
	for _, opt := range opts {
		opt(cfg)
	}

	server, err := NewServer(cfg, executor, metric.NewRegistry(), slog.Default())
	require.NoError(t, err)

	require.NoError(t, server.registry.LoadFile(endpointPath))
	require.NoError(t, server.pool.Start(context.Background()))
	t.Cleanup(func() { _ = server.pool.Stop(time.Second) })

	return &testGateway{server: server, executor: executor, cfg: cfg}
}

func (g *testGateway) request(method, path, body string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	r.RemoteAddr = "127.0.0.1:50000"
	r.Header.Set("X-API-Key", "test-key")
	for _, m := range mutate {
		m(r)
	}

	rec := httptest.NewRecorder()
	g.server.mux.ServeHTTP(rec, r)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	return doc
}

func TestGatewaySelectEndpoint(t *testing.T) {
	g := newTestGateway(t)

	rec := g.request("POST", "/api/users", `{"name": "alice", "email": "alice@example.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = g.request("GET", "/api/users", "")
	require.Equal(t, http.StatusOK, rec.Code)

	doc := decodeJSON(t, rec)
	assert.Equal(t, true, doc["success"])
	assert.Equal(t, float64(1), doc["count"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestGatewayPathVariableEndpoint(t *testing.T) {
	g := newTestGateway(t)
	g.request("POST", "/api/users", `{"name": "alice", "email": "a@example.com"}`)
	g.request("POST", "/api/users", `{"name": "bob", "email": "b@example.com"}`)

	rec := g.request("GET", "/api/users/2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	doc := decodeJSON(t, rec)
	data := doc["data"].([]any)
	require.Len(t, data, 1)
	assert.Equal(t, "bob", data[0].(map[string]any)["name"])
}

func TestGatewayInsertReturnsCreatedWithID(t *testing.T) {
	g := newTestGateway(t)

	rec := g.request("POST", "/api/users", `{"name": "alice", "email": "alice@example.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	doc := decodeJSON(t, rec)
	assert.Equal(t, float64(1), doc["generatedId"])
}

func TestGatewayValidationFailure(t *testing.T) {
	g := newTestGateway(t)

	rec := g.request("POST", "/api/users", `{"name": "alice"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	doc := decodeJSON(t, rec)
	assert.Equal(t, false, doc["success"])
	assert.Equal(t, "ValidationError", doc["error"])
}

func TestGatewayDeleteNotFoundWhenNoRows(t *testing.T) {
	g := newTestGateway(t)

	rec := g.request("DELETE", "/api/users/999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGatewayUnknownEndpoint(t *testing.T) {
	g := newTestGateway(t)

	rec := g.request("GET", "/api/absent", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NotFound", decodeJSON(t, rec)["error"])
}

func TestGatewayAuthRequired(t *testing.T) {
	g := newTestGateway(t)

	rec := g.request("GET", "/api/users", "", func(r *http.Request) {
		r.Header.Del("X-API-Key")
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = g.request("GET", "/api/users", "", func(r *http.Request) {
		r.Header.Set("X-API-Key", "wrong-key")
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGatewayNetworkDenied(t *testing.T) {
	g := newTestGateway(t)

	rec := g.request("GET", "/api/users", "", func(r *http.Request) {
		r.Header.Set("X-Forwarded-For", "203.0.113.50")
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGatewayRawEndpointSuccessAndError(t *testing.T) {
	g := newTestGateway(t)
	g.request("POST", "/api/users", `{"name": "alice", "email": "a@example.com"}`)

	rec := g.request("GET", "/api/raw/users", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list), "RAW body is the bare row list")
	assert.Len(t, list, 1)

	// A malformed body on a RAW endpoint classifies in headers only.
	rec = g.request("GET", "/api/raw/users", "{broken")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, "ParseError", rec.Header().Get("X-Error-Type"))
}

func TestGatewayOversizedBodyRejected(t *testing.T) {
	g := newTestGateway(t)
	g.cfg.Server.MaxRequestSize = 64

	big := `{"name": "` + strings.Repeat("a", 200) + `", "email": "x@example.com"}`
	rec := g.request("POST", "/api/users", big)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGatewayAdminReload(t *testing.T) {
	g := newTestGateway(t)

	assert.Equal(t, 5, g.server.registry.Count())

	updated := testEndpoints + `
  - path: /api/people
    method: GET
    sql-id: users.list
    sql-type: SELECT
`
	require.NoError(t, os.WriteFile(g.cfg.EndpointConfigPath, []byte(updated), 0o644))

	rec := g.request("POST", "/admin/reload", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 6, g.server.registry.Count())

	rec = g.request("GET", "/api/people", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGatewayAdminReloadRequiresAuth(t *testing.T) {
	g := newTestGateway(t)

	rec := g.request("POST", "/admin/reload", "", func(r *http.Request) {
		r.Header.Del("X-API-Key")
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGatewayHealthEndpoint(t *testing.T) {
	g := newTestGateway(t)

	rec := g.request("GET", "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy":true`)
}

func TestGatewayMetricsEndpoint(t *testing.T) {
	g := newTestGateway(t)
	g.request("GET", "/api/users", "")

	rec := g.request("GET", "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "querygate_requests_total")
}

// stallExecutor holds every statement for a fixed delay before completing.
type stallExecutor struct {
	delay    time.Duration
	finished chan struct{}
}

func (e *stallExecutor) Execute(context.Context, string, map[string]any) (*sqlexec.Result, error) {
	time.Sleep(e.delay)
	close(e.finished)
	return &sqlexec.Result{Rows: []map[string]any{}}, nil
}

func (e *stallExecutor) ExecuteBatchChunk(context.Context, string, []map[string]any) (int64, error) {
	return 0, nil
}

func (e *stallExecutor) Ping(context.Context) error { return nil }

func TestGatewaySlowExecutionRespondsGatewayTimeout(t *testing.T) {
	exec := &stallExecutor{delay: 200 * time.Millisecond, finished: make(chan struct{})}
	g := startGateway(t, exec, func(cfg *config.Config) {
		cfg.Admission.MaxConcurrent = 1
		cfg.Admission.RequestTimeoutMs = 50
	})

	rec := g.request("GET", "/api/users", "")
	require.Equal(t, http.StatusGatewayTimeout, rec.Code, rec.Body.String())

	doc := decodeJSON(t, rec)
	assert.Equal(t, false, doc["success"])
	assert.Equal(t, "ExecutionTimeout", doc["error"])

	// The statement keeps running after the response; its permit comes
	// back once execution finishes.
	select {
	case <-exec.finished:
	case <-time.After(time.Second):
		t.Fatal("background execution never finished")
	}
	assert.Eventually(t, func() bool {
		permit, ok := g.server.admitter.TryAdmit()
		if ok {
			permit.Release()
		}
		return ok
	}, time.Second, 10*time.Millisecond, "permit released after background completion")
}

func TestGatewayAdmissionDisabledStillServes(t *testing.T) {
	g := newTestGateway(t, func(cfg *config.Config) {
		cfg.Admission.Enabled = false
	})
	require.Nil(t, g.server.admitter)

	rec := g.request("POST", "/api/users", `{"name": "alice", "email": "alice@example.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = g.request("GET", "/api/users", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeJSON(t, rec)["success"])
}
