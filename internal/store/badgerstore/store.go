// Package badgerstore is a BadgerDB-backed implementation of the store
// contract. It backs local mode and the test suites: badger transactions
// give the same group-scoped atomicity the DynamoDB backend gets from
// TransactWriteItems, and lexicographic key order gives stable pagination.
package badgerstore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"inventoryd/internal/inventory"
	"inventoryd/internal/store"
)

const keyPrefix = "item/"

// Options configures the Badger store.
type Options struct {
	// Path to the database directory. Empty means in-memory mode.
	Path string
	// Logger for BadgerDB. If nil, Badger's own logging is disabled.
	Logger badger.Logger
}

type Store struct {
	db *badger.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (or creates) the Badger database.
func Open(opts Options) (*Store, error) {
	badgerOpts := badger.DefaultOptions(opts.Path)
	if opts.Path == "" {
		badgerOpts = badgerOpts.WithInMemory(true)
	}
	badgerOpts = badgerOpts.WithLogger(opts.Logger)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// itemKey builds the storage key. Categories and ids are validated upstream
// to a charset that cannot contain the separator.
func itemKey(category, id string) []byte {
	return []byte(keyPrefix + category + "/" + id)
}

func (s *Store) Create(ctx context.Context, item inventory.Item) (inventory.Item, error) {
	if err := ctx.Err(); err != nil {
		return inventory.Item{}, err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return createInTxn(txn, &item)
	})
	if err != nil {
		return inventory.Item{}, translate(err)
	}
	return item, nil
}

func (s *Store) Get(ctx context.Context, key inventory.Key) (*inventory.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var item *inventory.Item
	err := s.db.View(func(txn *badger.Txn) error {
		got, err := getInTxn(txn, key.Category, key.ID)
		if err != nil {
			return err
		}
		item = got
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	return item, nil
}

func (s *Store) Replace(ctx context.Context, item inventory.Item, expectedVersion string) (inventory.Item, error) {
	if err := ctx.Err(); err != nil {
		return inventory.Item{}, err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		existing, err := getInTxn(txn, item.Category, item.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			return inventory.ErrNotFound
		}
		if expectedVersion != "" && existing.VersionToken != expectedVersion {
			return inventory.ErrConcurrencyConflict
		}
		return setInTxn(txn, &item)
	})
	if err != nil {
		return inventory.Item{}, translate(err)
	}
	return item, nil
}

func (s *Store) Delete(ctx context.Context, key inventory.Key) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var existed bool
	err := s.db.Update(func(txn *badger.Txn) error {
		existing, err := getInTxn(txn, key.Category, key.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			return nil
		}
		existed = true
		return txn.Delete(itemKey(key.Category, key.ID))
	})
	if err != nil {
		return false, translate(err)
	}
	return existed, nil
}

func (s *Store) BatchWrite(ctx context.Context, category string, ops []store.WriteOp) ([]inventory.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var written []inventory.Item
	err := s.db.Update(func(txn *badger.Txn) error {
		written = written[:0]
		for i, op := range ops {
			if err := applyOp(txn, category, op, &written); err != nil {
				return &inventory.BatchError{Category: category, Index: i, Err: err}
			}
		}
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	return written, nil
}

func applyOp(txn *badger.Txn, category string, op store.WriteOp, written *[]inventory.Item) error {
	switch op.Kind {
	case store.OpCreate:
		item := *op.Item
		if item.Category != category {
			return fmt.Errorf("op category %q outside batch partition %q", item.Category, category)
		}
		if err := createInTxn(txn, &item); err != nil {
			return err
		}
		*written = append(*written, item)
		return nil
	case store.OpReplace:
		item := *op.Item
		if item.Category != category {
			return fmt.Errorf("op category %q outside batch partition %q", item.Category, category)
		}
		existing, err := getInTxn(txn, item.Category, item.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			return inventory.ErrNotFound
		}
		if err := setInTxn(txn, &item); err != nil {
			return err
		}
		*written = append(*written, item)
		return nil
	case store.OpDelete:
		if op.Key.Category != category {
			return fmt.Errorf("op category %q outside batch partition %q", op.Key.Category, category)
		}
		// Absence of the key is not separately reported.
		return txn.Delete(itemKey(op.Key.Category, op.Key.ID))
	default:
		return fmt.Errorf("unsupported op kind %q", op.Kind)
	}
}

func (s *Store) BatchGet(ctx context.Context, category string, ids []string) ([]inventory.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	items := make([]inventory.Item, 0, len(ids))
	err := s.db.View(func(txn *badger.Txn) error {
		for i, id := range ids {
			got, err := getInTxn(txn, category, id)
			if err != nil {
				return &inventory.BatchError{Category: category, Index: i, Err: err}
			}
			if got == nil {
				return &inventory.BatchError{Category: category, Index: i, Err: inventory.ErrNotFound}
			}
			items = append(items, *got)
		}
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	return items, nil
}

func (s *Store) Query(ctx context.Context, q store.Query) (*store.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := []byte(keyPrefix)
	if q.Category != "" {
		prefix = []byte(keyPrefix + q.Category + "/")
	}

	var after []byte
	if q.StartToken != "" {
		decoded, err := decodeToken(q.StartToken)
		if err != nil {
			return nil, &inventory.ValidationError{Field: "continuationToken", Reason: "malformed token"}
		}
		after = decoded
	}

	page := &store.Page{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		if after != nil {
			it.Seek(after)
			if it.ValidForPrefix(prefix) && bytes.Equal(it.Item().Key(), after) {
				it.Next()
			}
		} else {
			it.Rewind()
		}

		var lastKey []byte
		for ; it.ValidForPrefix(prefix) && len(page.Items) < q.Limit; it.Next() {
			var item inventory.Item
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &item)
			}); err != nil {
				return fmt.Errorf("decode item at %s: %w", it.Item().Key(), err)
			}
			page.Items = append(page.Items, item)
			lastKey = it.Item().KeyCopy(lastKey)
		}
		if it.ValidForPrefix(prefix) && lastKey != nil {
			page.NextToken = encodeToken(lastKey)
		}
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	return page, nil
}

func createInTxn(txn *badger.Txn, item *inventory.Item) error {
	key := itemKey(item.Category, item.ID)
	_, err := txn.Get(key)
	if err == nil {
		return inventory.ErrAlreadyExists
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	return setInTxn(txn, item)
}

// setInTxn stamps a fresh version token and writes the item.
func setInTxn(txn *badger.Txn, item *inventory.Item) error {
	item.VersionToken = uuid.NewString()
	val, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode item %s/%s: %w", item.Category, item.ID, err)
	}
	return txn.Set(itemKey(item.Category, item.ID), val)
}

func getInTxn(txn *badger.Txn, category, id string) (*inventory.Item, error) {
	entry, err := txn.Get(itemKey(category, id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var item inventory.Item
	if err := entry.Value(func(val []byte) error {
		return json.Unmarshal(val, &item)
	}); err != nil {
		return nil, fmt.Errorf("decode item %s/%s: %w", category, id, err)
	}
	return &item, nil
}

// translate maps Badger's own transaction conflict onto the taxonomy;
// everything recognizable is passed through untouched.
func translate(err error) error {
	if errors.Is(err, badger.ErrConflict) {
		return inventory.ErrConcurrencyConflict
	}
	return err
}

func encodeToken(key []byte) string {
	return base64.URLEncoding.EncodeToString(key)
}

func decodeToken(token string) ([]byte, error) {
	return base64.URLEncoding.DecodeString(token)
}
