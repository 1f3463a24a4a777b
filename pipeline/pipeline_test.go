package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clickin/querygate/endpoint"
	"github.com/Clickin/querygate/errors"
	"github.com/Clickin/querygate/sqlexec"
)

// fakeExecutor records calls and plays back configured results.
type fakeExecutor struct {
	result      *sqlexec.Result
	err         error
	chunkSizes  []int
	failAtChunk int // 1-based; 0 disables
	perChunk    int64
}

func (f *fakeExecutor) Execute(_ context.Context, statementID string, params map[string]any) (*sqlexec.Result, error) {
	if f.err != nil {
		return nil, errors.NewDatabase(statementID, f.err)
	}
	return f.result, nil
}

func (f *fakeExecutor) ExecuteBatchChunk(_ context.Context, statementID string, items []map[string]any) (int64, error) {
	f.chunkSizes = append(f.chunkSizes, len(items))
	if f.failAtChunk > 0 && len(f.chunkSizes) == f.failAtChunk {
		return 0, errors.NewDatabase(statementID, fmt.Errorf("chunk failed"))
	}
	if f.perChunk > 0 {
		return f.perChunk, nil
	}
	return int64(len(items)), nil
}

func (f *fakeExecutor) Ping(context.Context) error { return nil }

func selectDef() *endpoint.Definition {
	return &endpoint.Definition{
		Path: "/api/users", Method: "GET",
		StatementID: "users.list", Type: endpoint.Select,
	}
}

func batchDef(chunkSize int) *endpoint.Definition {
	return &endpoint.Definition{
		Path: "/api/users/bulk", Method: "POST",
		StatementID: "users.bulk", Type: endpoint.Batch,
		Batch: &endpoint.BatchSpec{ItemKey: "items", ChunkSize: chunkSize},
	}
}

func TestProcessSelect(t *testing.T) {
	exec := &fakeExecutor{result: &sqlexec.Result{
		Rows: []map[string]any{{"id": int64(1)}, {"id": int64(2)}},
	}}
	p := NewPipeline(exec, slog.Default(), nil)

	outcome, err := p.Process(context.Background(), selectDef(), map[string]any{}, nil)
	require.NoError(t, err)
	assert.Len(t, outcome.Result.Rows, 2)
}

func TestProcessValidationFailureSkipsExecution(t *testing.T) {
	def := selectDef()
	def.Validation = &endpoint.ValidationSpec{
		Required: []endpoint.ParameterSpec{{Name: "q", Type: "string"}},
	}
	exec := &fakeExecutor{result: &sqlexec.Result{}}
	p := NewPipeline(exec, slog.Default(), nil)

	_, err := p.Process(context.Background(), def, map[string]any{}, nil)
	require.Error(t, err)
	assert.Equal(t, errors.Validation, errors.KindOf(err))
}

func TestProcessExecutionFailure(t *testing.T) {
	exec := &fakeExecutor{err: fmt.Errorf("connection reset")}
	p := NewPipeline(exec, slog.Default(), nil)

	_, err := p.Process(context.Background(), selectDef(), map[string]any{}, nil)
	require.Error(t, err)
	assert.Equal(t, errors.Database, errors.KindOf(err))
}

func TestProcessBatchChunking(t *testing.T) {
	exec := &fakeExecutor{}
	p := NewPipeline(exec, slog.Default(), nil)

	items := make([]any, 250)
	for i := range items {
		items[i] = map[string]any{"n": i}
	}

	outcome, err := p.Process(context.Background(), batchDef(100), map[string]any{"items": items}, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, outcome.ChunkCount)
	assert.Equal(t, int64(250), outcome.TotalAffected)
	assert.Equal(t, []int{100, 100, 50}, exec.chunkSizes)
}

func TestProcessBatchWithoutConfigIsBadRequest(t *testing.T) {
	def := batchDef(10)
	def.Batch = nil
	p := NewPipeline(&fakeExecutor{}, slog.Default(), nil)

	_, err := p.Process(context.Background(), def, map[string]any{"items": []any{}}, nil)
	require.Error(t, err)
	assert.Equal(t, errors.BadRequest, errors.KindOf(err))
}

func TestProcessBatchMissingItemKey(t *testing.T) {
	p := NewPipeline(&fakeExecutor{}, slog.Default(), nil)

	_, err := p.Process(context.Background(), batchDef(10), map[string]any{}, nil)
	require.Error(t, err)
	assert.Equal(t, errors.BadRequest, errors.KindOf(err))
}

func TestProcessBatchItemKeyNotAList(t *testing.T) {
	p := NewPipeline(&fakeExecutor{}, slog.Default(), nil)

	_, err := p.Process(context.Background(), batchDef(10), map[string]any{"items": "nope"}, nil)
	require.Error(t, err)
	assert.Equal(t, errors.BadRequest, errors.KindOf(err))
}

func TestProcessBatchItemNotAnObject(t *testing.T) {
	p := NewPipeline(&fakeExecutor{}, slog.Default(), nil)

	_, err := p.Process(context.Background(), batchDef(10),
		map[string]any{"items": []any{map[string]any{"a": 1}, "scalar"}}, nil)
	require.Error(t, err)
	assert.Equal(t, errors.BadRequest, errors.KindOf(err))
}

func TestProcessBatchFailedChunkAborts(t *testing.T) {
	exec := &fakeExecutor{failAtChunk: 2}
	p := NewPipeline(exec, slog.Default(), nil)

	items := make([]any, 30)
	for i := range items {
		items[i] = map[string]any{"n": i}
	}

	_, err := p.Process(context.Background(), batchDef(10), map[string]any{"items": items}, nil)
	require.Error(t, err)
	assert.Equal(t, errors.Database, errors.KindOf(err))
	assert.Len(t, exec.chunkSizes, 2, "no chunks run after the failed one")
}
