package badgerstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inventoryd/internal/inventory"
	"inventoryd/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testItem(id, category string) inventory.Item {
	return inventory.Item{
		ID:       id,
		Category: category,
		Name:     "Item " + id,
		Quantity: 1,
		Price:    9.99,
		Status:   inventory.StatusInStock,
	}
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, testItem("a-1", "tools"))
	require.NoError(t, err)
	assert.NotEmpty(t, created.VersionToken)

	t.Run("round trip", func(t *testing.T) {
		got, err := s.Get(ctx, inventory.Key{ID: "a-1", Category: "tools"})
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, created, *got)
	})

	t.Run("duplicate key is rejected", func(t *testing.T) {
		_, err := s.Create(ctx, testItem("a-1", "tools"))
		require.ErrorIs(t, err, inventory.ErrAlreadyExists)
	})

	t.Run("same id in another category is a distinct item", func(t *testing.T) {
		_, err := s.Create(ctx, testItem("a-1", "garden"))
		require.NoError(t, err)
	})

	t.Run("absent key yields nil without error", func(t *testing.T) {
		got, err := s.Get(ctx, inventory.Key{ID: "nope", Category: "tools"})
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestReplace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, testItem("r-1", "tools"))
	require.NoError(t, err)

	t.Run("rotates the version token", func(t *testing.T) {
		updated := created
		updated.Quantity = 42
		replaced, err := s.Replace(ctx, updated, created.VersionToken)
		require.NoError(t, err)
		assert.Equal(t, 42, replaced.Quantity)
		assert.NotEqual(t, created.VersionToken, replaced.VersionToken)
	})

	t.Run("stale version is rejected and state kept", func(t *testing.T) {
		stale := created
		stale.Quantity = 99
		_, err := s.Replace(ctx, stale, created.VersionToken)
		require.ErrorIs(t, err, inventory.ErrConcurrencyConflict)

		got, err := s.Get(ctx, inventory.Key{ID: "r-1", Category: "tools"})
		require.NoError(t, err)
		assert.Equal(t, 42, got.Quantity)
	})

	t.Run("empty expected version skips the check", func(t *testing.T) {
		forced := created
		forced.Quantity = 7
		_, err := s.Replace(ctx, forced, "")
		require.NoError(t, err)
	})

	t.Run("absent item reports not found", func(t *testing.T) {
		_, err := s.Replace(ctx, testItem("ghost", "tools"), "")
		require.ErrorIs(t, err, inventory.ErrNotFound)
	})
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, testItem("d-1", "tools"))
	require.NoError(t, err)

	existed, err := s.Delete(ctx, inventory.Key{ID: "d-1", Category: "tools"})
	require.NoError(t, err)
	assert.True(t, existed)

	// Second delete of the same key reports absence instead of failing.
	existed, err = s.Delete(ctx, inventory.Key{ID: "d-1", Category: "tools"})
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestBatchWrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t.Run("creates all ops in order", func(t *testing.T) {
		items := []inventory.Item{testItem("b-1", "tools"), testItem("b-2", "tools")}
		ops := []store.WriteOp{
			{Kind: store.OpCreate, Item: &items[0]},
			{Kind: store.OpCreate, Item: &items[1]},
		}
		written, err := s.BatchWrite(ctx, "tools", ops)
		require.NoError(t, err)
		require.Len(t, written, 2)
		assert.Equal(t, "b-1", written[0].ID)
		assert.Equal(t, "b-2", written[1].ID)
	})

	t.Run("a failing op rolls back the whole group", func(t *testing.T) {
		fresh := testItem("b-3", "tools")
		dup := testItem("b-1", "tools")
		ops := []store.WriteOp{
			{Kind: store.OpCreate, Item: &fresh},
			{Kind: store.OpCreate, Item: &dup},
		}
		_, err := s.BatchWrite(ctx, "tools", ops)
		var batchErr *inventory.BatchError
		require.ErrorAs(t, err, &batchErr)
		assert.Equal(t, "tools", batchErr.Category)
		assert.Equal(t, 1, batchErr.Index)
		require.ErrorIs(t, err, inventory.ErrAlreadyExists)

		got, err := s.Get(ctx, inventory.Key{ID: "b-3", Category: "tools"})
		require.NoError(t, err)
		assert.Nil(t, got, "first op of the failed group must not persist")
	})

	t.Run("replace of an absent item fails the group", func(t *testing.T) {
		ghost := testItem("ghost", "tools")
		_, err := s.BatchWrite(ctx, "tools", []store.WriteOp{{Kind: store.OpReplace, Item: &ghost}})
		require.ErrorIs(t, err, inventory.ErrNotFound)
	})

	t.Run("op outside the batch partition is rejected", func(t *testing.T) {
		stray := testItem("s-1", "garden")
		_, err := s.BatchWrite(ctx, "tools", []store.WriteOp{{Kind: store.OpCreate, Item: &stray}})
		require.Error(t, err)
	})

	t.Run("deletes are idempotent within a group", func(t *testing.T) {
		ops := []store.WriteOp{
			{Kind: store.OpDelete, Key: inventory.Key{ID: "b-1", Category: "tools"}},
			{Kind: store.OpDelete, Key: inventory.Key{ID: "never-existed", Category: "tools"}},
		}
		_, err := s.BatchWrite(ctx, "tools", ops)
		require.NoError(t, err)
	})
}

func TestBatchGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"g-1", "g-2"} {
		_, err := s.Create(ctx, testItem(id, "tools"))
		require.NoError(t, err)
	}

	t.Run("returns items in request order", func(t *testing.T) {
		items, err := s.BatchGet(ctx, "tools", []string{"g-2", "g-1"})
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, "g-2", items[0].ID)
		assert.Equal(t, "g-1", items[1].ID)
	})

	t.Run("a single miss fails the group", func(t *testing.T) {
		_, err := s.BatchGet(ctx, "tools", []string{"g-1", "missing"})
		var batchErr *inventory.BatchError
		require.ErrorAs(t, err, &batchErr)
		assert.Equal(t, 1, batchErr.Index)
		require.ErrorIs(t, err, inventory.ErrNotFound)
	})
}

func TestQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.Create(ctx, testItem(fmt.Sprintf("q-%d", i), "tools"))
		require.NoError(t, err)
	}
	_, err := s.Create(ctx, testItem("other-1", "garden"))
	require.NoError(t, err)

	t.Run("category filter", func(t *testing.T) {
		page, err := s.Query(ctx, store.Query{Category: "garden", Limit: 10})
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
		assert.Equal(t, "other-1", page.Items[0].ID)
		assert.Empty(t, page.NextToken)
	})

	t.Run("pagination covers everything without overlap", func(t *testing.T) {
		seen := map[string]bool{}
		token := ""
		pages := 0
		for {
			page, err := s.Query(ctx, store.Query{Limit: 2, StartToken: token})
			require.NoError(t, err)
			for _, item := range page.Items {
				key := item.Category + "/" + item.ID
				assert.False(t, seen[key], "item %s returned twice", key)
				seen[key] = true
			}
			pages++
			if page.NextToken == "" {
				break
			}
			token = page.NextToken
		}
		assert.Len(t, seen, 6)
		assert.Equal(t, 3, pages)
	})

	t.Run("malformed token", func(t *testing.T) {
		_, err := s.Query(ctx, store.Query{Limit: 2, StartToken: "%%%not-base64%%%"})
		var valErr *inventory.ValidationError
		require.ErrorAs(t, err, &valErr)
	})
}

func TestContextCancellation(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Get(ctx, inventory.Key{ID: "x", Category: "tools"})
	require.ErrorIs(t, err, context.Canceled)
}
