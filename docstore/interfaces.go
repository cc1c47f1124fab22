// Package docstore implements the Document Store (DS) external-interface
// binding: a Redis-backed document store supporting transactional
// single-document updates, monotonic server timestamps, array-union and
// increment field operators, and brute-force k-nearest vector search with
// pre-filter predicates.
package docstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a document does not exist under its key.
var ErrNotFound = errors.New("docstore: document not found")

// ErrAlreadyExists is returned by CreateUnique when a document already
// exists under the requested key.
var ErrAlreadyExists = errors.New("docstore: document already exists")

// ErrConditionFailed is returned by UpdateConditional when a concurrent
// writer won the race and the caller's view of the document was stale.
var ErrConditionFailed = errors.New("docstore: update condition failed")

// FieldOp describes one mutation applied atomically to a stored document.
type FieldOp struct {
	Field string
	Kind  FieldOpKind
	// Value is the operand: the value to set, the increment delta (as
	// float64), or the element to append for ArrayUnion.
	Value interface{}
}

// FieldOpKind enumerates the supported atomic field operators.
type FieldOpKind int

const (
	// OpSet overwrites Field with Value.
	OpSet FieldOpKind = iota
	// OpIncrement adds Value (float64) to the numeric field, creating it
	// at Value if absent.
	OpIncrement
	// OpArrayUnion appends Value to the array field if not already
	// present (set semantics), creating the array if absent.
	OpArrayUnion
)

// Predicate is a pre-filter applied to candidate documents before the
// distance pass in VectorSearch. Field is read via a dotted path into the
// document's decoded JSON.
type Predicate struct {
	Field string
	Equals interface{}
}

// VectorQuery describes a k-nearest search over a named vector field.
type VectorQuery struct {
	Collection string
	Field      string
	Vector     []float32
	K          int
	Filters    []Predicate
}

// ScoredDocument pairs a decoded document with its cosine similarity score
// (higher is closer) from a VectorSearch call.
type ScoredDocument struct {
	Key      string
	Document map[string]interface{}
	Score    float64
}

// Store is the Document Store contract. Collection groups documents under
// a shared key namespace (e.g. "templates", "reasoning_memories"); Key
// identifies one document within it.
type Store interface {
	// Get retrieves one document, returning ErrNotFound if absent.
	Get(ctx context.Context, collection, key string, out interface{}) error

	// Put writes a document unconditionally. The caller's payload is
	// stored as given; the store adds no bookkeeping fields of its own.
	Put(ctx context.Context, collection, key string, doc interface{}) error

	// CreateUnique writes doc only if no document currently exists under
	// key, returning ErrAlreadyExists otherwise. Grounded on the
	// teacher's SetNX-for-create idiom.
	CreateUnique(ctx context.Context, collection, key string, doc interface{}) error

	// UpdateConditional reads the current document, invokes mutate to
	// decide and return the FieldOps to apply, and applies them in a
	// single WATCH/MULTI transaction guarded against any write (from any
	// field) that occurred since the read. mutate receives the document
	// decoded into a fresh map[string]interface{}; it returns nil ops (or
	// an error) to abort without writing. Retries internally up to
	// maxOptimisticRetries times on a lost race before returning
	// ErrConditionFailed.
	UpdateConditional(ctx context.Context, collection, key string, mutate func(current map[string]interface{}) ([]FieldOp, error)) error

	// Delete removes a document. Deleting an absent document is not an
	// error.
	Delete(ctx context.Context, collection, key string) error

	// VectorSearch performs a brute-force cosine-similarity KNN scan over
	// every document in q.Collection carrying q.Field, applying q.Filters
	// before scoring, and returns the top q.K by descending score.
	VectorSearch(ctx context.Context, q VectorQuery) ([]ScoredDocument, error)

	// List scans every document in collection, applying filters (same
	// dotted-path equality predicates as VectorSearch), and returns every
	// match. Used by callers that enumerate a whole collection rather than
	// rank it by similarity, such as the Template Repository's List.
	List(ctx context.Context, collection string, filters []Predicate) ([]ScoredDocument, error)
}
