package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/Clickin/querygate/endpoint"
	"github.com/Clickin/querygate/errors"
	"github.com/Clickin/querygate/metric"
	"github.com/Clickin/querygate/sqlexec"
)

// Outcome is a successful execution paired with the endpoint it served.
// Response shaping derives status and body from it.
type Outcome struct {
	Definition    *endpoint.Definition
	Result        *sqlexec.Result
	TotalAffected int64
	ChunkCount    int
}

// Pipeline binds validated requests to the execution backend.
type Pipeline struct {
	executor sqlexec.Executor
	logger   *slog.Logger
	metrics  *metric.CoreMetrics
}

// NewPipeline creates a pipeline over an executor. metrics may be nil.
func NewPipeline(executor sqlexec.Executor, logger *slog.Logger, metrics *metric.CoreMetrics) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{executor: executor, logger: logger, metrics: metrics}
}

// Process validates the merged parameters and dispatches execution by the
// endpoint's statement type. origins carries the merge origin of each
// parameter for source-hint enforcement; nil disables it.
func (p *Pipeline) Process(ctx context.Context, def *endpoint.Definition, params map[string]any, origins map[string]string) (*Outcome, error) {
	validated, err := ApplyValidation(def.Validation, params, origins)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	outcome, err := p.dispatch(ctx, def, validated)
	p.observe(def, time.Since(start), err)
	return outcome, err
}

func (p *Pipeline) dispatch(ctx context.Context, def *endpoint.Definition, params map[string]any) (*Outcome, error) {
	switch def.Type {
	case endpoint.Select, endpoint.Insert, endpoint.Update, endpoint.Delete:
		result, err := p.executor.Execute(ctx, def.StatementID, params)
		if err != nil {
			return nil, err
		}
		return &Outcome{Definition: def, Result: result}, nil

	case endpoint.Batch:
		return p.dispatchBatch(ctx, def, params)

	default:
		return nil, errors.Newf(errors.Internal, "unhandled statement type %s", def.Type)
	}
}

// dispatchBatch splits the item list into chunks, each committed as its own
// transaction. A failed chunk aborts the run; earlier chunks stay committed
// and the error reports where processing stopped.
func (p *Pipeline) dispatchBatch(ctx context.Context, def *endpoint.Definition, params map[string]any) (*Outcome, error) {
	if def.Batch == nil {
		return nil, errors.Newf(errors.BadRequest, "endpoint %s %s has no batch configuration", def.Method, def.Path)
	}

	raw, ok := params[def.Batch.ItemKey]
	if !ok {
		return nil, errors.Newf(errors.BadRequest, "missing batch item list %q", def.Batch.ItemKey)
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, errors.Newf(errors.BadRequest, "batch item list %q must be an array", def.Batch.ItemKey)
	}

	items := make([]map[string]any, len(list))
	for i, entry := range list {
		item, ok := entry.(map[string]any)
		if !ok {
			return nil, errors.Newf(errors.BadRequest, "batch item %d must be an object", i)
		}
		items[i] = item
	}

	outcome := &Outcome{Definition: def}
	size := def.Batch.ChunkSize
	for offset := 0; offset < len(items); offset += size {
		end := min(offset+size, len(items))
		affected, err := p.executor.ExecuteBatchChunk(ctx, def.StatementID, items[offset:end])
		if err != nil {
			p.logger.Error("batch chunk failed",
				"statement", def.StatementID,
				"chunk", outcome.ChunkCount,
				"committed_chunks", outcome.ChunkCount,
				"committed_rows", outcome.TotalAffected,
				"error", err)
			return nil, err
		}
		outcome.TotalAffected += affected
		outcome.ChunkCount++
	}

	return outcome, nil
}

func (p *Pipeline) observe(def *endpoint.Definition, elapsed time.Duration, err error) {
	if p.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	p.metrics.ExecutionDuration.WithLabelValues(def.Type.String(), status).Observe(elapsed.Seconds())
}
