// Package endpoint implements the gateway routing table: endpoint
// definitions parsed from external YAML configuration, (method, path)
// resolution with path-template pattern matching, and zero-downtime hot
// reload via atomic table swap.
package endpoint

import (
	"fmt"
	"strings"
)

// SQLType identifies the statement category an endpoint dispatches to.
// The set is closed; execution dispatch, status derivation, and response
// shaping all switch over it exhaustively.
type SQLType int

const (
	// Select returns a row set
	Select SQLType = iota
	// Insert returns affected rows plus any generated identifier
	Insert
	// Update returns affected rows
	Update
	// Delete returns affected rows
	Delete
	// Batch splits an item list into chunks committed independently
	Batch
)

// ParseSQLType maps a configuration string to a SQLType.
func ParseSQLType(s string) (SQLType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SELECT":
		return Select, nil
	case "INSERT":
		return Insert, nil
	case "UPDATE":
		return Update, nil
	case "DELETE":
		return Delete, nil
	case "BATCH":
		return Batch, nil
	default:
		return Select, fmt.Errorf("invalid sql-type %q", s)
	}
}

// String returns the configuration spelling of the SQL type.
func (t SQLType) String() string {
	switch t {
	case Select:
		return "SELECT"
	case Insert:
		return "INSERT"
	case Update:
		return "UPDATE"
	case Delete:
		return "DELETE"
	case Batch:
		return "BATCH"
	default:
		return "UNKNOWN"
	}
}

// ResponseFormat selects the response envelope for an endpoint.
type ResponseFormat int

const (
	// Wrapped embeds the result plus metadata in one document (default)
	Wrapped ResponseFormat = iota
	// Raw returns the bare payload; errors travel in headers with an
	// empty body
	Raw
)

// String returns the configuration spelling of the response format.
func (f ResponseFormat) String() string {
	if f == Raw {
		return "RAW"
	}
	return "WRAPPED"
}

// ParameterSpec declares one validated parameter: its type tag plus
// type-specific constraints and an optional default.
type ParameterSpec struct {
	Name   string
	Type   string
	Source string

	// String constraints
	MinLength *int
	MaxLength *int
	Pattern   string

	// Numeric constraints
	Min *float64
	Max *float64

	// Allowed-value set (strings compared after conversion)
	AllowedValues []string

	// Date/datetime layout in Go reference-time form
	Format string

	// Array cardinality bounds
	MinItems *int
	MaxItems *int

	Default any
}

// ValidationSpec declares the required and optional parameters of an
// endpoint. Parameters present in the request but declared in neither list
// pass through unchanged.
type ValidationSpec struct {
	Required []ParameterSpec
	Optional []ParameterSpec
}

// BatchSpec configures BATCH endpoints: the parameter key holding the item
// list and the chunk size each commit covers.
type BatchSpec struct {
	ItemKey   string
	ChunkSize int
}

// Definition is the immutable record mapping one (method, path template) to
// one backend statement and its validation and response rules. Definitions
// are created by configuration parsing, never mutated afterwards, and
// replaced wholesale on reload.
type Definition struct {
	Path        string
	Method      string
	StatementID string
	Type        SQLType
	Description string
	Validation  *ValidationSpec
	Batch       *BatchSpec
	Format      ResponseFormat
}
