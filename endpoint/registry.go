package endpoint

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/Clickin/querygate/errors"
	"github.com/Clickin/querygate/metric"
)

// pathVarPattern matches path variables like {id}, {userId}
var pathVarPattern = regexp.MustCompile(`\{([^}]+)}`)

type exactKey struct {
	method string
	path   string
}

type patternEndpoint struct {
	method   string
	pattern  *regexp.Regexp
	varNames []string
	def      *Definition
}

// routingTable is an immutable snapshot of the endpoint configuration.
// A table is fully built before it is published; resolvers never observe
// a partially constructed one.
type routingTable struct {
	exact    map[exactKey]*Definition
	patterns []patternEndpoint
}

func (t *routingTable) size() int {
	return len(t.exact) + len(t.patterns)
}

// Registry resolves (method, path) pairs against the published routing
// table and rebuilds the table on reload. Readers dereference a single
// atomic pointer and proceed lock-free; reloads serialize among themselves.
type Registry struct {
	table    atomic.Pointer[routingTable]
	reloadMu sync.Mutex
	logger   *slog.Logger
	metrics  *metric.CoreMetrics
}

// Option configures a Registry
type Option func(*Registry)

// WithMetrics wires reload and endpoint-count metrics.
func WithMetrics(core *metric.CoreMetrics) Option {
	return func(r *Registry) {
		r.metrics = core
	}
}

// NewRegistry creates an empty registry. Call LoadFile or LoadBytes to
// publish the first table.
func NewRegistry(logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	r.table.Store(&routingTable{exact: map[exactKey]*Definition{}})
	return r
}

// LoadFile parses the endpoint configuration file and atomically publishes
// the resulting table. On any error the previously published table remains
// authoritative.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		r.recordReload("failure")
		return errors.Wrap(err, "Registry", "LoadFile", "read endpoint config")
	}
	return r.LoadBytes(data)
}

// LoadBytes parses an endpoint configuration document and atomically
// publishes the resulting table. The candidate table is built aside in
// full before the single pointer swap, so no concurrent resolver ever
// observes endpoints drawn from two configuration generations.
func (r *Registry) LoadBytes(data []byte) error {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	doc, err := decodeDocument(data)
	if err != nil {
		r.recordReload("failure")
		return err
	}

	if err := validateSchema(doc); err != nil {
		r.recordReload("failure")
		return err
	}

	table, err := r.buildTable(doc)
	if err != nil {
		r.recordReload("failure")
		return err
	}

	r.table.Store(table)
	r.recordReload("success")
	if r.metrics != nil {
		r.metrics.EndpointsActive.Set(float64(table.size()))
	}
	r.logger.Info("endpoint configuration published",
		"exact", len(table.exact),
		"patterns", len(table.patterns))
	return nil
}

func (r *Registry) recordReload(result string) {
	if r.metrics != nil {
		r.metrics.ReloadsTotal.WithLabelValues(result).Inc()
	}
}

// Resolve finds the endpoint definition for a request. Exact (method, path)
// lookup wins over pattern matching; pattern entries are scanned in
// registration order and the first match is used. The returned map holds
// the extracted path variables (empty for exact matches).
func (r *Registry) Resolve(method, path string) (*Definition, map[string]string, bool) {
	table := r.table.Load()
	upper := strings.ToUpper(method)

	if def, ok := table.exact[exactKey{method: upper, path: path}]; ok {
		return def, map[string]string{}, true
	}

	for _, pe := range table.patterns {
		if pe.method != upper {
			continue
		}
		m := pe.pattern.FindStringSubmatch(path)
		if m == nil {
			continue
		}
		vars := make(map[string]string, len(pe.varNames))
		for i, name := range pe.varNames {
			vars[name] = m[i+1]
		}
		return pe.def, vars, true
	}

	return nil, nil, false
}

// Endpoints returns every definition in the published table, exact entries
// first. Used by health reporting and the admin surface.
func (r *Registry) Endpoints() []*Definition {
	table := r.table.Load()
	all := make([]*Definition, 0, table.size())
	for _, def := range table.exact {
		all = append(all, def)
	}
	for _, pe := range table.patterns {
		all = append(all, pe.def)
	}
	return all
}

// Count returns the endpoint count of the published table.
func (r *Registry) Count() int {
	return r.table.Load().size()
}

// decodeDocument parses YAML and requires a map at the document root.
func decodeDocument(data []byte) (map[string]any, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.WrapKind(errors.Internal, err, "Registry", "LoadBytes", "parse YAML")
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: endpoint configuration is empty", errors.ErrInvalidConfig)
	}
	m, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: endpoint configuration root must be a map", errors.ErrInvalidConfig)
	}
	return m, nil
}

// buildTable constructs a complete candidate table from a parsed document.
// Shared state is untouched until the caller publishes the result.
func (r *Registry) buildTable(doc map[string]any) (*routingTable, error) {
	endpointsObj, ok := doc["endpoints"]
	if !ok || endpointsObj == nil {
		return nil, fmt.Errorf("%w: no endpoints found in configuration", errors.ErrInvalidConfig)
	}
	entries, ok := endpointsObj.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: 'endpoints' must be a list", errors.ErrInvalidConfig)
	}

	table := &routingTable{exact: make(map[exactKey]*Definition, len(entries))}

	for _, entry := range entries {
		m, ok := entry.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: endpoint definition must be a map: %v", errors.ErrInvalidConfig, entry)
		}

		def, err := r.parseDefinition(m)
		if err != nil {
			return nil, err
		}

		if pathVarPattern.MatchString(def.Path) {
			pattern, varNames, err := compilePathPattern(def.Path)
			if err != nil {
				return nil, fmt.Errorf("%w: endpoint %s %s: %v", errors.ErrInvalidConfig, def.Method, def.Path, err)
			}
			table.patterns = append(table.patterns, patternEndpoint{
				method:   def.Method,
				pattern:  pattern,
				varNames: varNames,
				def:      def,
			})
			r.logger.Debug("registered pattern endpoint",
				"method", def.Method, "path", def.Path, "statement", def.StatementID)
		} else {
			table.exact[exactKey{method: def.Method, path: def.Path}] = def
			r.logger.Debug("registered exact endpoint",
				"method", def.Method, "path", def.Path, "statement", def.StatementID)
		}
	}

	return table, nil
}

func (r *Registry) parseDefinition(m map[string]any) (*Definition, error) {
	path, err := requireString(m, "path", "endpoint")
	if err != nil {
		return nil, err
	}
	method, err := requireString(m, "method", path)
	if err != nil {
		return nil, err
	}
	method = strings.ToUpper(method)
	context := method + " " + path

	statementID, err := requireString(m, "sql-id", context)
	if err != nil {
		return nil, err
	}
	sqlTypeStr, err := requireString(m, "sql-type", context)
	if err != nil {
		return nil, err
	}
	sqlType, err := ParseSQLType(sqlTypeStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v for endpoint %s", errors.ErrInvalidConfig, err, context)
	}

	def := &Definition{
		Path:        path,
		Method:      method,
		StatementID: statementID,
		Type:        sqlType,
	}

	if desc, ok := m["description"].(string); ok {
		def.Description = desc
	}

	if v, ok := m["validation"]; ok && v != nil {
		vm, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: 'validation' must be an object for endpoint %s", errors.ErrInvalidConfig, context)
		}
		if len(vm) > 0 {
			spec, err := parseValidationSpec(vm, context)
			if err != nil {
				return nil, err
			}
			def.Validation = spec
		}
	}

	if b, ok := m["batch-config"]; ok && b != nil {
		bm, ok := b.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: 'batch-config' must be an object for endpoint %s", errors.ErrInvalidConfig, context)
		}
		if len(bm) > 0 {
			spec, err := parseBatchSpec(bm, context)
			if err != nil {
				return nil, err
			}
			def.Batch = spec
		}
	}

	if f, ok := m["response-format"].(string); ok && strings.TrimSpace(f) != "" {
		switch strings.ToUpper(f) {
		case "WRAPPED":
			def.Format = Wrapped
		case "RAW":
			def.Format = Raw
		default:
			r.logger.Warn("invalid response-format, defaulting to WRAPPED",
				"format", f, "method", method, "path", path)
		}
	}

	return def, nil
}

func parseValidationSpec(vm map[string]any, context string) (*ValidationSpec, error) {
	spec := &ValidationSpec{}

	for _, section := range []struct {
		key  string
		dest *[]ParameterSpec
	}{
		{"required", &spec.Required},
		{"optional", &spec.Optional},
	} {
		obj, ok := vm[section.key]
		if !ok || obj == nil {
			continue
		}
		list, ok := obj.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: 'validation.%s' must be a list for endpoint %s",
				errors.ErrInvalidConfig, section.key, context)
		}
		for _, item := range list {
			pm, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: 'validation.%s' entry must be an object for endpoint %s",
					errors.ErrInvalidConfig, section.key, context)
			}
			param, err := parseParameterSpec(pm)
			if err != nil {
				return nil, fmt.Errorf("%w for endpoint %s", err, context)
			}
			*section.dest = append(*section.dest, param)
		}
	}

	return spec, nil
}

func parseParameterSpec(pm map[string]any) (ParameterSpec, error) {
	name, err := requireString(pm, "name", "parameter")
	if err != nil {
		return ParameterSpec{}, err
	}
	typeTag, err := requireString(pm, "type", "parameter "+name)
	if err != nil {
		return ParameterSpec{}, err
	}

	spec := ParameterSpec{Name: name, Type: strings.ToLower(typeTag)}

	if s, ok := pm["source"].(string); ok {
		spec.Source = s
	}
	if s, ok := pm["pattern"].(string); ok {
		spec.Pattern = s
	}
	if s, ok := pm["format"].(string); ok {
		spec.Format = s
	}
	spec.MinLength = intField(pm, "min-length")
	spec.MaxLength = intField(pm, "max-length")
	spec.MinItems = intField(pm, "min-items")
	spec.MaxItems = intField(pm, "max-items")
	spec.Min = floatField(pm, "min")
	spec.Max = floatField(pm, "max")
	spec.Default = pm["default"]

	if av, ok := pm["allowed-values"].([]any); ok {
		for _, v := range av {
			spec.AllowedValues = append(spec.AllowedValues, fmt.Sprintf("%v", v))
		}
	}

	return spec, nil
}

func parseBatchSpec(bm map[string]any, context string) (*BatchSpec, error) {
	itemKey, err := requireString(bm, "item-key", "batch-config of "+context)
	if err != nil {
		return nil, err
	}
	size := 100
	if n := intField(bm, "batch-size"); n != nil && *n > 0 {
		size = *n
	}
	return &BatchSpec{ItemKey: itemKey, ChunkSize: size}, nil
}

func requireString(m map[string]any, key, context string) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", fmt.Errorf("%w: missing required field '%s' for %s", errors.ErrInvalidConfig, key, context)
	}
	s := strings.TrimSpace(fmt.Sprintf("%v", v))
	if s == "" {
		return "", fmt.Errorf("%w: missing required field '%s' for %s", errors.ErrInvalidConfig, key, context)
	}
	return s, nil
}

func intField(m map[string]any, key string) *int {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}
	switch n := v.(type) {
	case int:
		return &n
	case int64:
		i := int(n)
		return &i
	case float64:
		i := int(n)
		return &i
	default:
		return nil
	}
}

func floatField(m map[string]any, key string) *float64 {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}
	switch n := v.(type) {
	case int:
		f := float64(n)
		return &f
	case int64:
		f := float64(n)
		return &f
	case float64:
		return &n
	default:
		return nil
	}
}

// compilePathPattern turns a path template into an anchored regex with one
// single-segment wildcard per variable: /api/users/{id} -> ^/api/users/([^/]+)$.
// Literal dots are escaped so they match only themselves. Variable names are
// collected in left-to-right order of occurrence.
func compilePathPattern(path string) (*regexp.Regexp, []string, error) {
	var varNames []string
	for _, m := range pathVarPattern.FindAllStringSubmatch(path, -1) {
		varNames = append(varNames, m[1])
	}

	regex := pathVarPattern.ReplaceAllString(path, `([^/]+)`)
	regex = strings.ReplaceAll(regex, ".", `\.`)

	pattern, err := regexp.Compile("^" + regex + "$")
	if err != nil {
		return nil, nil, fmt.Errorf("compile path pattern: %w", err)
	}
	return pattern, varNames, nil
}
