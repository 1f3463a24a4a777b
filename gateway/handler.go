package gateway

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Clickin/querygate/admission"
	"github.com/Clickin/querygate/endpoint"
	"github.com/Clickin/querygate/errors"
	"github.com/Clickin/querygate/pipeline"
)

// job is one admitted request travelling through the worker pool.
type job struct {
	ctx     context.Context
	def     *endpoint.Definition
	params  map[string]any
	origins map[string]string
	done    chan jobResult
}

type jobResult struct {
	outcome *pipeline.Outcome
	err     error
}

// processJob runs on the worker pool.
func (s *Server) processJob(_ context.Context, j *job) error {
	outcome, err := s.pipeline.Process(j.ctx, j.def, j.params, j.origins)
	j.done <- jobResult{outcome: outcome, err: err}
	return err
}

// handleRequest is the catch-all data handler under the base path.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.NewString()
	w.Header().Set("X-Request-Id", requestID)
	logger := s.logger.With("request_id", requestID, "method", r.Method, "path", r.URL.Path)

	outcome := s.serveRequest(w, r, logger)

	s.metrics.Core.RequestsTotal.WithLabelValues(r.Method, outcome).Inc()
	s.metrics.Core.RequestDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

// serveRequest runs the full admission and execution flow and returns the
// outcome label for metrics.
func (s *Server) serveRequest(w http.ResponseWriter, r *http.Request, logger *slog.Logger) string {
	if err := s.admitRequest(r); err != nil {
		s.responder.WriteError(w, r, nil, err)
		return "denied"
	}

	def, pathVars, ok := s.registry.Resolve(r.Method, r.URL.Path)
	if !ok {
		s.responder.WriteError(w, r, nil, errors.NewNotFound(r.Method, r.URL.Path))
		return "not_found"
	}

	body, err := s.readBody(w, r)
	if err != nil {
		s.responder.WriteError(w, r, def, err)
		return "error"
	}

	params, origins, err := pipeline.MergeParameters(pathVars, r.URL.Query(), body, r.Header.Get("Content-Type"))
	if err != nil {
		s.responder.WriteError(w, r, def, err)
		return "error"
	}

	var permit *admission.Permit
	if s.admitter != nil {
		permit, err = s.admitter.Admit(r.Context())
		if err != nil {
			s.responder.WriteError(w, r, def, err)
			return "rejected"
		}
	}

	j := &job{
		// Detached so handler return and client disconnect do not cancel
		// an in-flight statement.
		ctx:     context.WithoutCancel(r.Context()),
		def:     def,
		params:  params,
		origins: origins,
		done:    make(chan jobResult, 1),
	}

	if err := s.pool.Submit(j); err != nil {
		permit.Release()
		s.responder.WriteError(w, r, def,
			errors.New(errors.AdmissionRejected, "no execution capacity available"))
		return "rejected"
	}

	timer := time.NewTimer(s.cfg.Admission.RequestTimeout())
	defer timer.Stop()

	select {
	case res := <-awaitJob(j, permit):
		if res.err != nil {
			s.responder.WriteError(w, r, def, res.err)
			return "error"
		}
		s.responder.WriteSuccess(w, r, res.outcome)
		return "success"

	case <-timer.C:
		// The statement keeps running on the worker; the permit is
		// released when it finishes.
		logger.Warn("request deadline exceeded, execution continues in background",
			"statement", def.StatementID,
			"timeout", s.cfg.Admission.RequestTimeout())
		s.responder.WriteError(w, r, def,
			errors.New(errors.ExecutionTimeout, "execution did not complete within the request timeout"))
		return "timeout"
	}
}

// awaitJob forwards the job result and releases the permit exactly when
// execution finishes, whether or not the handler is still waiting.
func awaitJob(j *job, permit *admission.Permit) <-chan jobResult {
	out := make(chan jobResult, 1)
	go func() {
		res := <-j.done
		permit.Release()
		out <- res
	}()
	return out
}

// readBody reads the request body up to the configured cap.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	limited := http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxRequestSize)
	body, err := io.ReadAll(limited)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, errors.Newf(errors.BadRequest,
				"request body exceeds %d bytes", s.cfg.Server.MaxRequestSize)
		}
		return nil, errors.WrapKind(errors.BadRequest, err, "Server", "readBody", "read request body")
	}
	return body, nil
}
