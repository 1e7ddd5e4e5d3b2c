package repository

import (
	"context"
	"fmt"

	"github.com/scielo/kernel/internal/document"
)

// Backend is the storage contract shared by the in-memory and MongoDB
// implementations. Every returned error is one of the document.Err* kinds,
// possibly wrapped with context.
type Backend interface {
	// Create stores rec under id with revision 1. The memory backend
	// overwrites an existing id; MongoDB reports document.ErrAlreadyExists.
	Create(ctx context.Context, id string, rec *document.Record) (*document.Record, error)
	Read(ctx context.Context, id string) (*document.Record, error)
	// Update replaces the stored record if rec.Revision matches the stored
	// revision and returns the record with its revision advanced.
	Update(ctx context.Context, id string, rec *document.Record) (*document.Record, error)
	Delete(ctx context.Context, id string) error
	Find(ctx context.Context, q Query) ([]*document.Record, error)

	PutAttachment(ctx context.Context, id, fileID string, content []byte, props document.AttachmentProperties) (document.AttachmentProperties, error)
	// GetAttachment returns an empty slice, not an error, when the document
	// exists but has no attachment named fileID.
	GetAttachment(ctx context.Context, id, fileID string) ([]byte, error)
	ListAttachments(ctx context.Context, id string) ([]string, error)

	DropDatabase(ctx context.Context) error
}

// Inserter is implemented by backends that can create a record only when
// the id is free, reporting document.ErrAlreadyExists otherwise.
type Inserter interface {
	Insert(ctx context.Context, id string, rec *document.Record) (*document.Record, error)
}

// Operator is a comparison used in a range Condition.
type Operator string

const (
	OpGT  Operator = ">"
	OpGTE Operator = ">="
	OpLT  Operator = "<"
	OpLTE Operator = "<="
	OpNE  Operator = "!="
)

// ParseOperator validates a textual operator.
func ParseOperator(s string) (Operator, error) {
	switch op := Operator(s); op {
	case OpGT, OpGTE, OpLT, OpLTE, OpNE:
		return op, nil
	}
	return "", fmt.Errorf("%w: unknown operator %q", document.ErrInvalidContent, s)
}

// Op pairs an operator with its operand.
type Op struct {
	Operator Operator
	Value    any
}

// Condition is either an exact match (Ops empty) or a conjunction of Ops.
type Condition struct {
	Equals any
	Ops    []Op
}

// Eq builds an exact-match condition.
func Eq(v any) Condition { return Condition{Equals: v} }

// Range builds a condition from operator/value pairs.
func Range(ops ...Op) Condition { return Condition{Ops: ops} }

// Filter maps field names to conditions. Fields are record names
// ("id", "document_type", "created_date", "revision", ...) or dotted paths
// into content. An empty filter matches everything.
type Filter map[string]Condition

// SortField orders results by one field; earlier entries take priority.
type SortField struct {
	Field string
	Desc  bool
}

// Query is the argument of Backend.Find. Limit 0 means unbounded; empty
// Fields returns full records.
type Query struct {
	Filter Filter
	Fields []string
	Sort   []SortField
	Limit  int
}
