// Package service implements the inventory mutation rules: defaulting and
// validation on create, immutable-field and optimistic-concurrency checks
// on update and patch, and per-category batch partitioning.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"inventoryd/internal/inventory"
	"inventoryd/internal/store"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type InventoryService struct {
	store  store.Store
	logger *zap.Logger

	// wall clock, swapped out in tests
	now func() time.Time
}

func New(st store.Store, logger *zap.Logger) *InventoryService {
	return &InventoryService{
		store:  st,
		logger: logger,
		now:    time.Now,
	}
}

// Create validates the item, fills server-assigned fields and writes it.
// Fails with inventory.ErrAlreadyExists when (id, category) collides.
func (s *InventoryService) Create(ctx context.Context, item inventory.Item) (inventory.Item, error) {
	if err := inventory.ValidateItem(item); err != nil {
		return inventory.Item{}, err
	}
	s.fillDefaults(&item, s.now().UTC())

	created, err := s.store.Create(ctx, item)
	if err != nil {
		return inventory.Item{}, err
	}
	s.logger.Info("item created", zap.String("id", created.ID), zap.String("category", created.Category))
	return created, nil
}

// BatchCreate partitions items by category and issues one atomic create
// batch per group. Groups commit independently: a failure aborts only its
// own group, and groups after it are not attempted.
func (s *InventoryService) BatchCreate(ctx context.Context, items []inventory.Item) ([]inventory.Item, error) {
	now := s.now().UTC()
	for i := range items {
		if err := inventory.ValidateItem(items[i]); err != nil {
			return nil, err
		}
		s.fillDefaults(&items[i], now)
	}

	var created []inventory.Item
	for _, g := range groupByCategory(items, func(it inventory.Item) string { return it.Category }) {
		ops := make([]store.WriteOp, len(g.members))
		for i := range g.members {
			ops[i] = store.WriteOp{Kind: store.OpCreate, Item: &g.members[i]}
		}
		written, err := s.store.BatchWrite(ctx, g.category, ops)
		if err != nil {
			s.logger.Error("batch create failed", zap.String("category", g.category), zap.Error(err))
			return nil, err
		}
		created = append(created, written...)
	}
	return created, nil
}

// Get is a point lookup. Absence is (nil, nil), not an error.
func (s *InventoryService) Get(ctx context.Context, key inventory.Key) (*inventory.Item, error) {
	if err := inventory.ValidateKey(key); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, key)
}

// BatchRead groups keys by category and issues one batch read per group.
// A missing key fails its whole group; single-item misses belong to Get.
func (s *InventoryService) BatchRead(ctx context.Context, keys []inventory.Key) ([]inventory.Item, error) {
	for _, key := range keys {
		if err := inventory.ValidateKey(key); err != nil {
			return nil, err
		}
	}
	var items []inventory.Item
	for _, g := range groupByCategory(keys, func(k inventory.Key) string { return k.Category }) {
		ids := make([]string, len(g.members))
		for i, k := range g.members {
			ids[i] = k.ID
		}
		got, err := s.store.BatchGet(ctx, g.category, ids)
		if err != nil {
			s.logger.Error("batch read failed", zap.String("category", g.category), zap.Error(err))
			return nil, err
		}
		items = append(items, got...)
	}
	return items, nil
}

// Update is a full replace. The target must exist, category and created_at
// must match the stored values, and updated_at is stamped here regardless
// of what the caller sent. A non-empty expectedVersion makes the write
// conditional on the stored version token.
func (s *InventoryService) Update(ctx context.Context, item inventory.Item, expectedVersion string) (inventory.Item, error) {
	if err := inventory.ValidateItem(item); err != nil {
		return inventory.Item{}, err
	}
	if err := inventory.ValidateKey(inventory.Key{ID: item.ID, Category: item.Category}); err != nil {
		return inventory.Item{}, err
	}

	existing, err := s.store.Get(ctx, inventory.Key{ID: item.ID, Category: item.Category})
	if err != nil {
		return inventory.Item{}, err
	}
	if existing == nil {
		return inventory.Item{}, inventory.ErrNotFound
	}
	if item.Category != existing.Category {
		return inventory.Item{}, &inventory.ImmutableFieldError{Field: "category"}
	}
	if !item.CreatedAt.Equal(existing.CreatedAt) {
		return inventory.Item{}, &inventory.ImmutableFieldError{Field: "created_at"}
	}

	now := s.now().UTC()
	item.UpdatedAt = &now

	updated, err := s.store.Replace(ctx, item, expectedVersion)
	if err != nil {
		return inventory.Item{}, err
	}
	s.logger.Info("item updated", zap.String("id", updated.ID), zap.String("category", updated.Category))
	return updated, nil
}

// Patch merges the supplied fields over the stored document and performs
// the same conditional replace as Update. Fields the patch does not carry
// are left untouched; that merge-not-replace behavior is the whole point.
func (s *InventoryService) Patch(ctx context.Context, key inventory.Key, patch inventory.ItemPatch, expectedVersion string) (inventory.Item, error) {
	if err := inventory.ValidateKey(key); err != nil {
		return inventory.Item{}, err
	}
	if err := inventory.ValidatePatch(patch); err != nil {
		return inventory.Item{}, err
	}
	if patch.Category != nil && *patch.Category != key.Category {
		return inventory.Item{}, &inventory.ImmutableFieldError{Field: "category"}
	}

	existing, err := s.store.Get(ctx, key)
	if err != nil {
		return inventory.Item{}, err
	}
	if existing == nil {
		return inventory.Item{}, inventory.ErrNotFound
	}
	if patch.CreatedAt != nil && !patch.CreatedAt.Equal(existing.CreatedAt) {
		return inventory.Item{}, &inventory.ImmutableFieldError{Field: "created_at"}
	}

	merged := *existing
	patch.ApplyTo(&merged)
	now := s.now().UTC()
	merged.UpdatedAt = &now

	updated, err := s.store.Replace(ctx, merged, expectedVersion)
	if err != nil {
		return inventory.Item{}, err
	}
	s.logger.Info("item patched", zap.String("id", updated.ID), zap.String("category", updated.Category))
	return updated, nil
}

// BatchUpdate replaces items with the same per-category atomicity as
// BatchCreate. Every item gets the same updated_at, stamped once before
// any group is issued.
func (s *InventoryService) BatchUpdate(ctx context.Context, items []inventory.Item) ([]inventory.Item, error) {
	now := s.now().UTC()
	for i := range items {
		if err := inventory.ValidateItem(items[i]); err != nil {
			return nil, err
		}
		if err := inventory.ValidateKey(inventory.Key{ID: items[i].ID, Category: items[i].Category}); err != nil {
			return nil, err
		}
		items[i].UpdatedAt = &now
	}

	var updated []inventory.Item
	for _, g := range groupByCategory(items, func(it inventory.Item) string { return it.Category }) {
		ops := make([]store.WriteOp, len(g.members))
		for i := range g.members {
			ops[i] = store.WriteOp{Kind: store.OpReplace, Item: &g.members[i]}
		}
		written, err := s.store.BatchWrite(ctx, g.category, ops)
		if err != nil {
			s.logger.Error("batch update failed", zap.String("category", g.category), zap.Error(err))
			return nil, err
		}
		updated = append(updated, written...)
	}
	return updated, nil
}

// Delete removes an item. Deleting an absent key returns false, not an
// error, and a second delete of the same key does too.
func (s *InventoryService) Delete(ctx context.Context, key inventory.Key) (bool, error) {
	if err := inventory.ValidateKey(key); err != nil {
		return false, err
	}
	deleted, err := s.store.Delete(ctx, key)
	if err != nil {
		return false, err
	}
	if deleted {
		s.logger.Info("item deleted", zap.String("id", key.ID), zap.String("category", key.Category))
	}
	return deleted, nil
}

// BatchDelete deletes keys grouped by category. On success it returns every
// key that was requested in a succeeding group; it does not verify post-hoc
// that each key existed.
func (s *InventoryService) BatchDelete(ctx context.Context, keys []inventory.Key) ([]inventory.Key, error) {
	for _, key := range keys {
		if err := inventory.ValidateKey(key); err != nil {
			return nil, err
		}
	}
	var deleted []inventory.Key
	for _, g := range groupByCategory(keys, func(k inventory.Key) string { return k.Category }) {
		ops := make([]store.WriteOp, len(g.members))
		for i, k := range g.members {
			ops[i] = store.WriteOp{Kind: store.OpDelete, Key: k}
		}
		if _, err := s.store.BatchWrite(ctx, g.category, ops); err != nil {
			s.logger.Error("batch delete failed", zap.String("category", g.category), zap.Error(err))
			return nil, err
		}
		deleted = append(deleted, g.members...)
	}
	return deleted, nil
}

// List pages through items, optionally confined to one category. Store
// order is preserved; pageSize 0 means the default, anything outside
// 1..100 is rejected.
func (s *InventoryService) List(ctx context.Context, category string, pageSize int, continuationToken string) (*store.Page, error) {
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		return nil, &inventory.ValidationError{Field: "pageSize", Reason: "must be between 1 and 100"}
	}
	return s.store.Query(ctx, store.Query{
		Category:   category,
		Limit:      pageSize,
		StartToken: continuationToken,
	})
}

// fillDefaults assigns the server-owned fields of a new item. The caller
// may supply id and created_at; updated_at is always cleared because a
// fresh item has never been mutated.
func (s *InventoryService) fillDefaults(item *inventory.Item, now time.Time) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Status == "" {
		item.Status = inventory.StatusInStock
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = nil
	item.VersionToken = ""
}

type group[T any] struct {
	category string
	members  []T
}

// groupByCategory partitions in first-seen category order, which fixes the
// group-then-item order of batch results.
func groupByCategory[T any](xs []T, category func(T) string) []group[T] {
	var groups []group[T]
	index := make(map[string]int)
	for _, x := range xs {
		cat := category(x)
		i, ok := index[cat]
		if !ok {
			i = len(groups)
			index[cat] = i
			groups = append(groups, group[T]{category: cat})
		}
		groups[i].members = append(groups[i].members, x)
	}
	return groups
}
