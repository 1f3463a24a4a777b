package pipeline

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/Clickin/querygate/config"
	"github.com/Clickin/querygate/endpoint"
	"github.com/Clickin/querygate/errors"
)

// RAW-format error headers. RAW responses never carry an error body; the
// classification travels here so a successful body always parses directly
// into the caller's expected shape.
const (
	headerErrorType        = "X-Error-Type"
	headerErrorMessage     = "X-Error-Message"
	headerErrorDetails     = "X-Error-Details"
	headerErrorContentType = "X-Error-ContentType"
	headerErrorSQLID       = "X-Error-SqlId"
)

// Responder renders outcomes and errors to HTTP. Client-facing detail is
// gated by the disclosure switches; server-side logs always carry full
// detail.
type Responder struct {
	exposeDetails bool
	exposeStack   bool
	logger        *slog.Logger
}

// NewResponder creates a responder with the configured disclosure policy.
func NewResponder(cfg config.ErrorHandlingConfig, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{
		exposeDetails: cfg.ExposeDetails,
		exposeStack:   cfg.ExposeStackTrace,
		logger:        logger,
	}
}

// WriteSuccess renders a successful outcome. Status derives from the
// statement type: INSERT creates, UPDATE/DELETE report 404 when nothing
// matched, SELECT and BATCH always succeed with 200.
func (r *Responder) WriteSuccess(w http.ResponseWriter, req *http.Request, outcome *Outcome) {
	def := outcome.Definition
	status := successStatus(outcome)

	var payload any
	if def.Format == endpoint.Raw {
		payload = rawPayload(outcome)
	} else {
		payload = wrappedPayload(outcome)
	}

	r.writeBody(w, req, status, payload)
}

func successStatus(outcome *Outcome) int {
	switch outcome.Definition.Type {
	case endpoint.Insert:
		return http.StatusCreated
	case endpoint.Update, endpoint.Delete:
		if outcome.Result.AffectedRows > 0 {
			return http.StatusOK
		}
		return http.StatusNotFound
	case endpoint.Select, endpoint.Batch:
		return http.StatusOK
	default:
		return http.StatusOK
	}
}

// wrappedPayload builds the WRAPPED envelope: the result plus metadata in
// one document. The success flag reports that the statement executed, not
// the derived HTTP status; an UPDATE matching zero rows responds 404 yet
// still succeeded.
func wrappedPayload(outcome *Outcome) map[string]any {
	def := outcome.Definition
	doc := map[string]any{
		"success": true,
		"sqlType": def.Type.String(),
	}

	switch def.Type {
	case endpoint.Select:
		doc["data"] = outcome.Result.Rows
		doc["count"] = len(outcome.Result.Rows)
	case endpoint.Insert:
		doc["affectedRows"] = outcome.Result.AffectedRows
		if outcome.Result.GeneratedID != nil {
			doc["generatedId"] = *outcome.Result.GeneratedID
		}
	case endpoint.Update, endpoint.Delete:
		doc["affectedRows"] = outcome.Result.AffectedRows
		if outcome.Result.AffectedRows == 0 {
			doc["message"] = "no matching rows"
		}
	case endpoint.Batch:
		doc["affectedRows"] = outcome.TotalAffected
		doc["chunkCount"] = outcome.ChunkCount
	}

	return doc
}

// rawPayload builds the bare RAW payload: the row list for SELECT, a
// minimal counts map for mutations.
func rawPayload(outcome *Outcome) any {
	switch outcome.Definition.Type {
	case endpoint.Select:
		return outcome.Result.Rows
	case endpoint.Batch:
		return map[string]any{
			"affectedRows": outcome.TotalAffected,
			"chunkCount":   outcome.ChunkCount,
		}
	default:
		doc := map[string]any{"affectedRows": outcome.Result.AffectedRows}
		if outcome.Result.GeneratedID != nil {
			doc["generatedId"] = *outcome.Result.GeneratedID
		}
		return doc
	}
}

// WriteError renders a failure. WRAPPED endpoints get a structured error
// document; RAW endpoints get classification headers and an empty body.
// def is nil when the request failed before endpoint resolution, in which
// case the WRAPPED shape applies.
func (r *Responder) WriteError(w http.ResponseWriter, req *http.Request, def *endpoint.Definition, err error) {
	ge := errors.AsGateway(err)
	status := ge.Kind.HTTPStatus()

	r.logger.Error("request failed",
		"kind", ge.Kind.String(),
		"status", status,
		"method", req.Method,
		"path", req.URL.Path,
		"error", err)

	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "1")
	}

	if def != nil && def.Format == endpoint.Raw {
		r.writeRawError(w, ge, status)
		return
	}
	r.writeWrappedError(w, req, ge, status)
}

func (r *Responder) writeRawError(w http.ResponseWriter, ge *errors.Error, status int) {
	h := w.Header()
	h.Set(headerErrorType, ge.Kind.String())
	h.Set(headerErrorMessage, sanitizeHeader(r.clientMessage(ge)))
	if r.exposeDetails {
		if len(ge.FieldErrors) > 0 {
			h.Set(headerErrorDetails, sanitizeHeader(strings.Join(ge.FieldErrors, "; ")))
		}
		if ge.ContentType != "" {
			h.Set(headerErrorContentType, sanitizeHeader(ge.ContentType))
		}
		if ge.StatementID != "" {
			h.Set(headerErrorSQLID, sanitizeHeader(ge.StatementID))
		}
	}
	w.WriteHeader(status)
}

func (r *Responder) writeWrappedError(w http.ResponseWriter, req *http.Request, ge *errors.Error, status int) {
	doc := map[string]any{
		"success": false,
		"error":   ge.Kind.String(),
		"message": r.clientMessage(ge),
		"path":    req.URL.Path,
		"method":  req.Method,
	}
	if r.exposeDetails {
		if len(ge.FieldErrors) > 0 {
			doc["details"] = ge.FieldErrors
		}
		if ge.ContentType != "" {
			doc["contentType"] = ge.ContentType
		}
		if ge.StatementID != "" {
			doc["sqlId"] = ge.StatementID
		}
	}
	if r.exposeStack {
		doc["stackTrace"] = string(debug.Stack())
	}

	r.writeErrorBody(w, req, status, doc)
}

// clientMessage applies the disclosure policy: the real message only when
// detail exposure is on, the kind's generic message otherwise.
func (r *Responder) clientMessage(ge *errors.Error) string {
	if r.exposeDetails {
		return ge.Error()
	}
	return ge.Kind.GenericMessage()
}

func (r *Responder) writeBody(w http.ResponseWriter, req *http.Request, status int, payload any) {
	if wantsXML(req.Header.Get("Accept")) {
		w.Header().Set("Content-Type", "application/xml; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write(renderXML("response", payload))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.logger.Error("response encoding failed", "error", err)
	}
}

func (r *Responder) writeErrorBody(w http.ResponseWriter, req *http.Request, status int, payload any) {
	if wantsXML(req.Header.Get("Accept")) {
		w.Header().Set("Content-Type", "application/xml; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write(renderXML("error", payload))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.logger.Error("response encoding failed", "error", err)
	}
}

// wantsXML implements the negotiation rule: XML is selected only when the
// client accepts XML and does not accept JSON. Empty and wildcard Accept
// fall back to JSON.
func wantsXML(accept string) bool {
	accept = strings.ToLower(accept)
	if accept == "" {
		return false
	}
	acceptsXML := strings.Contains(accept, "xml")
	acceptsJSON := strings.Contains(accept, "json") || strings.Contains(accept, "*/*")
	return acceptsXML && !acceptsJSON
}

// sanitizeHeader strips characters that would split a header value.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}
