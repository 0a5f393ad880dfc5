// Package store defines the document-store contract the inventory service
// is written against. Two implementations exist: dynamostore (DynamoDB,
// production) and badgerstore (embedded BadgerDB, local mode and tests).
package store

import (
	"context"

	"inventoryd/internal/inventory"
)

// Store is the collaborator contract over a partitioned document store.
//
// Every successful write assigns a fresh opaque version token to the item
// it returns. Conditional writes take the previously observed token; a
// mismatch yields inventory.ErrConcurrencyConflict and leaves stored state
// untouched. Batch execution is atomic only within one category partition.
type Store interface {
	// Create writes a new item. Fails with inventory.ErrAlreadyExists when
	// (id, category) is already present.
	Create(ctx context.Context, item inventory.Item) (inventory.Item, error)

	// Get is a point lookup by full key. Absence is (nil, nil), not an error.
	Get(ctx context.Context, key inventory.Key) (*inventory.Item, error)

	// Replace overwrites an existing item. Fails with inventory.ErrNotFound
	// when the key is absent, and with inventory.ErrConcurrencyConflict when
	// expectedVersion is non-empty and differs from the stored token.
	Replace(ctx context.Context, item inventory.Item, expectedVersion string) (inventory.Item, error)

	// Delete removes an item. Returns false, not an error, when nothing
	// matched.
	Delete(ctx context.Context, key inventory.Key) (bool, error)

	// BatchWrite executes ops atomically within the given category. On
	// failure nothing in the group is applied and the error is an
	// *inventory.BatchError carrying the index of the first failing op.
	// Returned items are the written items in op order; deletes contribute
	// nothing.
	BatchWrite(ctx context.Context, category string, ops []WriteOp) ([]inventory.Item, error)

	// BatchGet reads all ids from one category. A single missing id fails
	// the whole group with an *inventory.BatchError; this asymmetry with
	// Get is part of the contract.
	BatchGet(ctx context.Context, category string, ids []string) ([]inventory.Item, error)

	// Query lists items, optionally confined to one category partition.
	// Result order is the store's native order and is stable for a given
	// query shape; callers must not reorder pages.
	Query(ctx context.Context, q Query) (*Page, error)

	Close() error
}

// WriteOpKind discriminates batch operations.
type WriteOpKind string

const (
	OpCreate  WriteOpKind = "create"
	OpReplace WriteOpKind = "replace"
	OpDelete  WriteOpKind = "delete"
)

// WriteOp is one operation inside a BatchWrite group. Item is set for
// creates and replaces, Key for deletes.
type WriteOp struct {
	Kind WriteOpKind
	Item *inventory.Item
	Key  inventory.Key
}

// Query describes a paged listing. An empty Category spans all partitions.
// StartToken is the continuation token from the previous Page, verbatim.
type Query struct {
	Category   string
	Limit      int
	StartToken string
}

// Page is one window of query results. An empty NextToken means
// end of results.
type Page struct {
	Items     []inventory.Item
	NextToken string
}
