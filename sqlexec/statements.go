// Package sqlexec is the execution backend: a statement registry mapping
// statement ids to SQL text, and an executor running those statements over
// database/sql. Endpoints reference statements by id only; SQL text never
// appears in endpoint configuration.
package sqlexec

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/Clickin/querygate/errors"
)

// PlaceholderStyle selects the positional placeholder syntax the target
// driver expects.
type PlaceholderStyle int

const (
	// QuestionMark uses "?" (sqlite, mysql)
	QuestionMark PlaceholderStyle = iota
	// DollarNumber uses "$1".."$n" (postgres)
	DollarNumber
)

// StyleForDriver maps a database/sql driver name to its placeholder style.
func StyleForDriver(driver string) PlaceholderStyle {
	switch driver {
	case "pgx", "postgres", "pq":
		return DollarNumber
	default:
		return QuestionMark
	}
}

// Statement is one registered statement: the rewritten SQL with positional
// placeholders, the named parameters in placeholder order, and whether the
// statement produces rows.
type Statement struct {
	ID         string
	SQL        string
	ParamOrder []string
	Query      bool
}

type statementDoc struct {
	Statements []struct {
		ID  string `yaml:"id"`
		SQL string `yaml:"sql"`
	} `yaml:"statements"`
}

// StatementRegistry holds statements by id. Reload replaces the whole set.
type StatementRegistry struct {
	mu         sync.RWMutex
	statements map[string]*Statement
	style      PlaceholderStyle
}

// NewStatementRegistry creates an empty registry for the given placeholder
// style.
func NewStatementRegistry(style PlaceholderStyle) *StatementRegistry {
	return &StatementRegistry{
		statements: make(map[string]*Statement),
		style:      style,
	}
}

// LoadFile reads a statement definition file and replaces the registered
// set. On error the previous set stays in effect.
func (r *StatementRegistry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "StatementRegistry", "LoadFile", "read statements file")
	}
	return r.LoadBytes(data)
}

// LoadBytes parses a statement document and replaces the registered set.
func (r *StatementRegistry) LoadBytes(data []byte) error {
	var doc statementDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return errors.WrapKind(errors.Internal, err, "StatementRegistry", "LoadBytes", "parse YAML")
	}
	if len(doc.Statements) == 0 {
		return fmt.Errorf("%w: no statements defined", errors.ErrInvalidConfig)
	}

	next := make(map[string]*Statement, len(doc.Statements))
	for _, entry := range doc.Statements {
		id := strings.TrimSpace(entry.ID)
		sqlText := strings.TrimSpace(entry.SQL)
		if id == "" || sqlText == "" {
			return fmt.Errorf("%w: statement entries require id and sql", errors.ErrInvalidConfig)
		}
		if _, dup := next[id]; dup {
			return fmt.Errorf("%w: duplicate statement id %q", errors.ErrInvalidConfig, id)
		}

		rewritten, order := rewritePlaceholders(sqlText, r.style)
		next[id] = &Statement{
			ID:         id,
			SQL:        rewritten,
			ParamOrder: order,
			Query:      isQuery(sqlText),
		}
	}

	r.mu.Lock()
	r.statements = next
	r.mu.Unlock()
	return nil
}

// Get returns the statement registered under id.
func (r *StatementRegistry) Get(id string) (*Statement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stmt, ok := r.statements[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errors.ErrStatementNotFound, id)
	}
	return stmt, nil
}

// Count returns the number of registered statements.
func (r *StatementRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.statements)
}

// isQuery reports whether the statement produces a row set.
func isQuery(sqlText string) bool {
	first := strings.ToUpper(firstWord(sqlText))
	return first == "SELECT" || first == "WITH" || first == "SHOW" || first == "EXPLAIN"
}

func firstWord(s string) string {
	for _, f := range strings.Fields(s) {
		return f
	}
	return ""
}

// rewritePlaceholders converts ":name" markers to the driver's positional
// syntax, returning the parameter names in placeholder order. A name used
// twice yields two placeholders bound to the same parameter. Markers inside
// single-quoted literals and the "::" cast operator are left alone.
func rewritePlaceholders(sqlText string, style PlaceholderStyle) (string, []string) {
	var out strings.Builder
	var order []string
	inLiteral := false

	runes := []rune(sqlText)
	for i := 0; i < len(runes); i++ {
		c := runes[i]

		if c == '\'' {
			inLiteral = !inLiteral
			out.WriteRune(c)
			continue
		}
		if inLiteral || c != ':' {
			out.WriteRune(c)
			continue
		}

		// "::" is a cast, not a parameter marker.
		if i+1 < len(runes) && runes[i+1] == ':' {
			out.WriteString("::")
			i++
			continue
		}
		if i > 0 && runes[i-1] == ':' {
			out.WriteRune(c)
			continue
		}

		start := i + 1
		end := start
		for end < len(runes) && isNameRune(runes[end]) {
			end++
		}
		if end == start {
			out.WriteRune(c)
			continue
		}

		order = append(order, string(runes[start:end]))
		switch style {
		case DollarNumber:
			fmt.Fprintf(&out, "$%d", len(order))
		default:
			out.WriteByte('?')
		}
		i = end - 1
	}

	return out.String(), order
}

func isNameRune(c rune) bool {
	return c == '_' || c == '.' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
