// Package querygate provides a declarative SQL API gateway: HTTP endpoints
// are defined in external YAML configuration and dispatched to registered
// SQL statements, with no per-endpoint code.
//
// # Request Flow
//
// Every data request under the base path passes through the same pipeline:
//
//	┌──────────────────────────────────────┐
//	│            HTTP Front End            │  request ID, body cap,
//	│           (gateway package)          │  route resolution
//	└──────────────────┬───────────────────┘
//	                   ↓
//	┌──────────────────────────────────────┐
//	│          Admission Control           │  network allow-list,
//	│         (admission package)          │  credentials, permit pool
//	└──────────────────┬───────────────────┘
//	                   ↓
//	┌──────────────────────────────────────┐
//	│          Request Pipeline            │  parameter merge,
//	│          (pipeline package)          │  validation, response shaping
//	└──────────────────┬───────────────────┘
//	                   ↓
//	┌──────────────────────────────────────┐
//	│           SQL Execution              │  statement registry,
//	│          (sqlexec package)           │  database/sql backend
//	└──────────────────────────────────────┘
//
// Routing is data, not code: the endpoint file maps (method, path) pairs,
// including {variable} path segments, to statement ids with optional
// validation rules and batch settings. The file hot-reloads on change with
// a build-aside table swap, so a broken edit never takes down the routes
// that were already serving.
//
// # Packages
//
// Gateway core:
//   - endpoint: routing table, YAML endpoint config, hot reload, file watcher
//   - admission: network allow-list, credential check, counting permit pool
//   - pipeline: input merge, parameter validation, dispatch, response shaping
//   - sqlexec: named-parameter statement registry and database/sql executor
//   - gateway: HTTP server, catch-all handler, admin and health endpoints
//
// Infrastructure:
//   - config: gateway configuration loading and validation
//   - errors: structured error taxonomy with HTTP status mapping
//   - metric: Prometheus metrics registry
//   - health: health check aggregation
//   - pkg/retry: backoff policies for startup connects
//   - pkg/worker: bounded worker pool for admitted executions
//
// # Binary
//
// Build and run the gateway:
//
//	go build -o bin/querygate ./cmd/querygate
//	./bin/querygate --config configs/gateway.yml
//
//	# Validate configuration without starting
//	./bin/querygate --config configs/gateway.yml --validate
//
// Side endpoints: /health for liveness, /metrics for Prometheus scraping,
// POST /admin/reload to force an endpoint reload (subject to the same
// admission checks as data requests).
package querygate
