package sqlexec

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/Clickin/querygate/config"
	"github.com/Clickin/querygate/errors"
	"github.com/Clickin/querygate/pkg/retry"
)

// Result is the outcome of one statement execution. Rows is populated for
// row-producing statements, AffectedRows and GeneratedID for mutations.
type Result struct {
	Rows         []map[string]any
	AffectedRows int64
	GeneratedID  *int64
}

// Executor runs registered statements against the backend.
type Executor interface {
	// Execute runs one statement with the given parameters.
	Execute(ctx context.Context, statementID string, params map[string]any) (*Result, error)

	// ExecuteBatchChunk runs one statement once per item inside a single
	// transaction. The chunk commits or rolls back as a unit; earlier
	// chunks of the same request stay committed either way.
	ExecuteBatchChunk(ctx context.Context, statementID string, items []map[string]any) (int64, error)

	// Ping verifies backend connectivity.
	Ping(ctx context.Context) error
}

// SQLExecutor is the database/sql implementation of Executor.
type SQLExecutor struct {
	db            *sql.DB
	statements    *StatementRegistry
	logger        *slog.Logger
	slowThreshold time.Duration
}

// Open connects to the configured backend, retrying with backoff until the
// database accepts connections, and loads the statement registry.
func Open(ctx context.Context, cfg config.ExecutorConfig, logger *slog.Logger) (*SQLExecutor, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "SQLExecutor", "Open", "open database handle")
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := retry.Do(ctx, retry.Startup(), func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			logger.Warn("database not ready, retrying", "driver", cfg.Driver, "error", err)
			return err
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "SQLExecutor", "Open", "connect to database")
	}

	registry := NewStatementRegistry(StyleForDriver(cfg.Driver))
	if cfg.StatementsPath != "" {
		if err := registry.LoadFile(cfg.StatementsPath); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	logger.Info("database connected",
		"driver", cfg.Driver, "statements", registry.Count())

	return &SQLExecutor{
		db:            db,
		statements:    registry,
		logger:        logger,
		slowThreshold: cfg.SlowQueryThreshold(),
	}, nil
}

// NewSQLExecutor wraps an existing connection and statement registry.
func NewSQLExecutor(db *sql.DB, statements *StatementRegistry, logger *slog.Logger, slowThreshold time.Duration) *SQLExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLExecutor{
		db:            db,
		statements:    statements,
		logger:        logger,
		slowThreshold: slowThreshold,
	}
}

// Statements returns the statement registry, exposed for hot reload.
func (e *SQLExecutor) Statements() *StatementRegistry {
	return e.statements
}

// Execute implements Executor.
func (e *SQLExecutor) Execute(ctx context.Context, statementID string, params map[string]any) (*Result, error) {
	stmt, err := e.statements.Get(statementID)
	if err != nil {
		return nil, errors.NewDatabase(statementID, err)
	}

	args := bindArgs(stmt, params)
	start := time.Now()

	var result *Result
	if stmt.Query {
		result, err = e.queryRows(ctx, stmt, args)
	} else {
		result, err = e.execMutation(ctx, stmt, args, params)
	}

	e.observe(stmt, time.Since(start), err)
	if err != nil {
		return nil, errors.NewDatabase(statementID, err)
	}
	return result, nil
}

// ExecuteBatchChunk implements Executor.
func (e *SQLExecutor) ExecuteBatchChunk(ctx context.Context, statementID string, items []map[string]any) (int64, error) {
	stmt, err := e.statements.Get(statementID)
	if err != nil {
		return 0, errors.NewDatabase(statementID, err)
	}

	start := time.Now()
	affected, err := e.runChunk(ctx, stmt, items)
	e.observe(stmt, time.Since(start), err)
	if err != nil {
		return 0, errors.NewDatabase(statementID, err)
	}
	return affected, nil
}

// Ping implements Executor.
func (e *SQLExecutor) Ping(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

// Close releases the connection pool.
func (e *SQLExecutor) Close() error {
	return e.db.Close()
}

func (e *SQLExecutor) runChunk(ctx context.Context, stmt *Statement, items []map[string]any) (int64, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}

	var affected int64
	for _, item := range items {
		res, err := tx.ExecContext(ctx, stmt.SQL, bindArgs(stmt, item)...)
		if err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		if n, err := res.RowsAffected(); err == nil {
			affected += n
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return affected, nil
}

func (e *SQLExecutor) queryRows(ctx context.Context, stmt *Statement, args []any) (*Result, error) {
	rows, err := e.db.QueryContext(ctx, stmt.SQL, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := &Result{Rows: []map[string]any{}}
	values := make([]any, len(columns))
	scanTargets := make([]any, len(columns))
	for i := range values {
		scanTargets[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (e *SQLExecutor) execMutation(ctx context.Context, stmt *Statement, args []any, params map[string]any) (*Result, error) {
	res, err := e.db.ExecContext(ctx, stmt.SQL, args...)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	if n, err := res.RowsAffected(); err == nil {
		result.AffectedRows = n
	}

	// Not every driver reports a generated id; fall back to an id the
	// caller supplied, then omit.
	if id, err := res.LastInsertId(); err == nil && id > 0 {
		result.GeneratedID = &id
	} else if id, ok := numericID(params["id"]); ok {
		result.GeneratedID = &id
	}

	return result, nil
}

func (e *SQLExecutor) observe(stmt *Statement, elapsed time.Duration, err error) {
	if e.slowThreshold > 0 && elapsed >= e.slowThreshold {
		e.logger.Warn("slow statement",
			"statement", stmt.ID, "elapsed", elapsed, "threshold", e.slowThreshold)
	}
	if err != nil {
		e.logger.Error("statement failed",
			"statement", stmt.ID, "elapsed", elapsed, "error", err)
	} else {
		e.logger.Debug("statement executed",
			"statement", stmt.ID, "elapsed", elapsed)
	}
}

// bindArgs resolves the statement's parameters in placeholder order.
// Missing parameters bind as NULL.
func bindArgs(stmt *Statement, params map[string]any) []any {
	args := make([]any, len(stmt.ParamOrder))
	for i, name := range stmt.ParamOrder {
		args[i] = params[name]
	}
	return args
}

// normalizeValue converts driver raw bytes to string so JSON rendering
// does not base64-encode text columns.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func numericID(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
