package dynamostore

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inventoryd/internal/inventory"
	"inventoryd/internal/store"
)

// fakeDynamo implements DynamoAPI with per-call hooks. Unset hooks panic,
// which catches tests exercising an API they did not mean to.
type fakeDynamo struct {
	putItem            func(*dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error)
	getItem            func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error)
	deleteItem         func(*dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error)
	transactWriteItems func(*dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error)
	transactGetItems   func(*dynamodb.TransactGetItemsInput) (*dynamodb.TransactGetItemsOutput, error)
	query              func(*dynamodb.QueryInput) (*dynamodb.QueryOutput, error)
	scan               func(*dynamodb.ScanInput) (*dynamodb.ScanOutput, error)
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	return f.putItem(in)
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return f.getItem(in)
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	return f.deleteItem(in)
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	return f.transactWriteItems(in)
}

func (f *fakeDynamo) TransactGetItems(_ context.Context, in *dynamodb.TransactGetItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactGetItemsOutput, error) {
	return f.transactGetItems(in)
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	return f.query(in)
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	return f.scan(in)
}

func (f *fakeDynamo) CreateTable(_ context.Context, _ *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	panic("CreateTable not faked")
}

func (f *fakeDynamo) DescribeTable(_ context.Context, _ *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	panic("DescribeTable not faked")
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

func TestCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("conditional put with fresh version", func(t *testing.T) {
		var captured *dynamodb.PutItemInput
		fake := &fakeDynamo{putItem: func(in *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
			captured = in
			return &dynamodb.PutItemOutput{}, nil
		}}
		s := New(fake, "inventory-items")

		created, err := s.Create(ctx, testItem("c-1", "tools"))
		require.NoError(t, err)
		assert.NotEmpty(t, created.VersionToken)

		require.NotNil(t, captured)
		assert.Equal(t, "inventory-items", *captured.TableName)
		require.NotNil(t, captured.ConditionExpression)
		assert.Contains(t, *captured.ConditionExpression, "attribute_not_exists")
		version, ok := captured.Item[attrVersion].(*types.AttributeValueMemberS)
		require.True(t, ok)
		assert.Equal(t, created.VersionToken, version.Value)
	})

	t.Run("conditional check failure maps to already exists", func(t *testing.T) {
		fake := &fakeDynamo{putItem: func(*dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
			return nil, &types.ConditionalCheckFailedException{}
		}}
		s := New(fake, "inventory-items")

		_, err := s.Create(ctx, testItem("c-1", "tools"))
		require.ErrorIs(t, err, inventory.ErrAlreadyExists)
	})
}

func TestGet(t *testing.T) {
	ctx := context.Background()

	t.Run("consistent read, key from both attributes", func(t *testing.T) {
		fake := &fakeDynamo{getItem: func(in *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
			require.NotNil(t, in.ConsistentRead)
			assert.True(t, *in.ConsistentRead)
			assert.Equal(t, &types.AttributeValueMemberS{Value: "tools"}, in.Key[attrPartition])
			assert.Equal(t, &types.AttributeValueMemberS{Value: "g-1"}, in.Key[attrSort])
			return &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
				attrPartition: &types.AttributeValueMemberS{Value: "tools"},
				attrSort:      &types.AttributeValueMemberS{Value: "g-1"},
				"name":        &types.AttributeValueMemberS{Value: "Item g-1"},
				attrVersion:   &types.AttributeValueMemberS{Value: "v1"},
			}}, nil
		}}
		s := New(fake, "inventory-items")

		got, err := s.Get(ctx, inventory.Key{ID: "g-1", Category: "tools"})
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "Item g-1", got.Name)
		assert.Equal(t, "v1", got.VersionToken)
	})

	t.Run("absent item is nil without error", func(t *testing.T) {
		fake := &fakeDynamo{getItem: func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{}, nil
		}}
		s := New(fake, "inventory-items")

		got, err := s.Get(ctx, inventory.Key{ID: "nope", Category: "tools"})
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestReplaceErrorClassification(t *testing.T) {
	ctx := context.Background()

	t.Run("version condition is added when expected version set", func(t *testing.T) {
		fake := &fakeDynamo{putItem: func(in *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
			require.NotNil(t, in.ConditionExpression)
			assert.Contains(t, *in.ConditionExpression, "attribute_exists")
			assert.Contains(t, *in.ConditionExpression, "=")
			return &dynamodb.PutItemOutput{}, nil
		}}
		s := New(fake, "inventory-items")

		_, err := s.Replace(ctx, testItem("r-1", "tools"), "v1")
		require.NoError(t, err)
	})

	t.Run("empty old item on failure means not found", func(t *testing.T) {
		fake := &fakeDynamo{putItem: func(*dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
			return nil, &types.ConditionalCheckFailedException{}
		}}
		s := New(fake, "inventory-items")

		_, err := s.Replace(ctx, testItem("r-1", "tools"), "v1")
		require.ErrorIs(t, err, inventory.ErrNotFound)
	})

	t.Run("returned old item on failure means stale version", func(t *testing.T) {
		fake := &fakeDynamo{putItem: func(*dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
			return nil, &types.ConditionalCheckFailedException{Item: map[string]types.AttributeValue{
				attrVersion: &types.AttributeValueMemberS{Value: "v2"},
			}}
		}}
		s := New(fake, "inventory-items")

		_, err := s.Replace(ctx, testItem("r-1", "tools"), "v1")
		require.ErrorIs(t, err, inventory.ErrConcurrencyConflict)
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("present item", func(t *testing.T) {
		fake := &fakeDynamo{deleteItem: func(in *dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error) {
			assert.Equal(t, types.ReturnValueAllOld, in.ReturnValues)
			return &dynamodb.DeleteItemOutput{Attributes: map[string]types.AttributeValue{
				attrSort: &types.AttributeValueMemberS{Value: "d-1"},
			}}, nil
		}}
		s := New(fake, "inventory-items")

		existed, err := s.Delete(ctx, inventory.Key{ID: "d-1", Category: "tools"})
		require.NoError(t, err)
		assert.True(t, existed)
	})

	t.Run("absent item", func(t *testing.T) {
		fake := &fakeDynamo{deleteItem: func(*dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error) {
			return &dynamodb.DeleteItemOutput{}, nil
		}}
		s := New(fake, "inventory-items")

		existed, err := s.Delete(ctx, inventory.Key{ID: "d-1", Category: "tools"})
		require.NoError(t, err)
		assert.False(t, existed)
	})
}

func TestBatchWrite(t *testing.T) {
	ctx := context.Background()

	t.Run("one transaction, conditions per op kind", func(t *testing.T) {
		var captured *dynamodb.TransactWriteItemsInput
		fake := &fakeDynamo{transactWriteItems: func(in *dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
			captured = in
			return &dynamodb.TransactWriteItemsOutput{}, nil
		}}
		s := New(fake, "inventory-items")

		fresh := testItem("b-1", "tools")
		existing := testItem("b-2", "tools")
		ops := []store.WriteOp{
			{Kind: store.OpCreate, Item: &fresh},
			{Kind: store.OpReplace, Item: &existing},
			{Kind: store.OpDelete, Key: inventory.Key{ID: "b-3", Category: "tools"}},
		}
		written, err := s.BatchWrite(ctx, "tools", ops)
		require.NoError(t, err)
		require.Len(t, written, 2)
		assert.NotEmpty(t, written[0].VersionToken)
		assert.NotEqual(t, written[0].VersionToken, written[1].VersionToken)

		require.NotNil(t, captured)
		require.Len(t, captured.TransactItems, 3)
		assert.Contains(t, *captured.TransactItems[0].Put.ConditionExpression, "attribute_not_exists")
		assert.Contains(t, *captured.TransactItems[1].Put.ConditionExpression, "attribute_exists")
		require.NotNil(t, captured.TransactItems[2].Delete)
	})

	t.Run("op outside the batch partition fails before the call", func(t *testing.T) {
		fake := &fakeDynamo{transactWriteItems: func(*dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
			t.Fatal("transaction must not be sent")
			return nil, nil
		}}
		s := New(fake, "inventory-items")

		stray := testItem("s-1", "garden")
		_, err := s.BatchWrite(ctx, "tools", []store.WriteOp{{Kind: store.OpCreate, Item: &stray}})
		var batchErr *inventory.BatchError
		require.ErrorAs(t, err, &batchErr)
		assert.Equal(t, 0, batchErr.Index)
	})

	t.Run("cancellation reasons pick out the failing op", func(t *testing.T) {
		fake := &fakeDynamo{transactWriteItems: func(*dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
			return nil, &types.TransactionCanceledException{CancellationReasons: []types.CancellationReason{
				{Code: ptr("None")},
				{Code: ptr("ConditionalCheckFailed")},
			}}
		}}
		s := New(fake, "inventory-items")

		a, b := testItem("b-1", "tools"), testItem("b-2", "tools")
		ops := []store.WriteOp{
			{Kind: store.OpCreate, Item: &a},
			{Kind: store.OpCreate, Item: &b},
		}
		_, err := s.BatchWrite(ctx, "tools", ops)
		var batchErr *inventory.BatchError
		require.ErrorAs(t, err, &batchErr)
		assert.Equal(t, "tools", batchErr.Category)
		assert.Equal(t, 1, batchErr.Index)
		require.ErrorIs(t, err, inventory.ErrAlreadyExists)
	})

	t.Run("failed replace condition means not found", func(t *testing.T) {
		fake := &fakeDynamo{transactWriteItems: func(*dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
			return nil, &types.TransactionCanceledException{CancellationReasons: []types.CancellationReason{
				{Code: ptr("ConditionalCheckFailed")},
			}}
		}}
		s := New(fake, "inventory-items")

		ghost := testItem("ghost", "tools")
		_, err := s.BatchWrite(ctx, "tools", []store.WriteOp{{Kind: store.OpReplace, Item: &ghost}})
		require.ErrorIs(t, err, inventory.ErrNotFound)
	})

	t.Run("oversized batch is rejected", func(t *testing.T) {
		s := New(&fakeDynamo{}, "inventory-items")
		ops := make([]store.WriteOp, maxBatchOps+1)
		for i := range ops {
			ops[i] = store.WriteOp{Kind: store.OpDelete, Key: inventory.Key{ID: "x", Category: "tools"}}
		}
		_, err := s.BatchWrite(ctx, "tools", ops)
		var valErr *inventory.ValidationError
		require.ErrorAs(t, err, &valErr)
	})
}

func TestBatchGet(t *testing.T) {
	ctx := context.Background()

	t.Run("items come back in request order", func(t *testing.T) {
		fake := &fakeDynamo{transactGetItems: func(in *dynamodb.TransactGetItemsInput) (*dynamodb.TransactGetItemsOutput, error) {
			require.Len(t, in.TransactItems, 2)
			return &dynamodb.TransactGetItemsOutput{Responses: []types.ItemResponse{
				{Item: map[string]types.AttributeValue{attrSort: &types.AttributeValueMemberS{Value: "g-2"}}},
				{Item: map[string]types.AttributeValue{attrSort: &types.AttributeValueMemberS{Value: "g-1"}}},
			}}, nil
		}}
		s := New(fake, "inventory-items")

		items, err := s.BatchGet(ctx, "tools", []string{"g-2", "g-1"})
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, "g-2", items[0].ID)
		assert.Equal(t, "g-1", items[1].ID)
	})

	t.Run("empty response fails the group at its index", func(t *testing.T) {
		fake := &fakeDynamo{transactGetItems: func(*dynamodb.TransactGetItemsInput) (*dynamodb.TransactGetItemsOutput, error) {
			return &dynamodb.TransactGetItemsOutput{Responses: []types.ItemResponse{
				{Item: map[string]types.AttributeValue{attrSort: &types.AttributeValueMemberS{Value: "g-1"}}},
				{},
			}}, nil
		}}
		s := New(fake, "inventory-items")

		_, err := s.BatchGet(ctx, "tools", []string{"g-1", "missing"})
		var batchErr *inventory.BatchError
		require.ErrorAs(t, err, &batchErr)
		assert.Equal(t, 1, batchErr.Index)
		require.ErrorIs(t, err, inventory.ErrNotFound)
	})
}

func TestQuery(t *testing.T) {
	ctx := context.Background()

	lastKey := map[string]types.AttributeValue{
		attrPartition: &types.AttributeValueMemberS{Value: "tools"},
		attrSort:      &types.AttributeValueMemberS{Value: "q-1"},
	}

	t.Run("category uses a key-condition query", func(t *testing.T) {
		fake := &fakeDynamo{query: func(in *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
			require.NotNil(t, in.KeyConditionExpression)
			assert.Equal(t, int32(2), *in.Limit)
			return &dynamodb.QueryOutput{
				Items: []map[string]types.AttributeValue{
					{attrSort: &types.AttributeValueMemberS{Value: "q-0"}},
					{attrSort: &types.AttributeValueMemberS{Value: "q-1"}},
				},
				LastEvaluatedKey: lastKey,
			}, nil
		}}
		s := New(fake, "inventory-items")

		page, err := s.Query(ctx, store.Query{Category: "tools", Limit: 2})
		require.NoError(t, err)
		require.Len(t, page.Items, 2)
		assert.NotEmpty(t, page.NextToken)
	})

	t.Run("no category scans the table", func(t *testing.T) {
		scanned := false
		fake := &fakeDynamo{scan: func(in *dynamodb.ScanInput) (*dynamodb.ScanOutput, error) {
			scanned = true
			return &dynamodb.ScanOutput{}, nil
		}}
		s := New(fake, "inventory-items")

		page, err := s.Query(ctx, store.Query{Limit: 10})
		require.NoError(t, err)
		assert.True(t, scanned)
		assert.Empty(t, page.NextToken)
	})

	t.Run("token round trip feeds the exclusive start key", func(t *testing.T) {
		token, err := encodeStartKey(lastKey)
		require.NoError(t, err)

		fake := &fakeDynamo{query: func(in *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
			assert.Equal(t, lastKey, in.ExclusiveStartKey)
			return &dynamodb.QueryOutput{}, nil
		}}
		s := New(fake, "inventory-items")

		_, err = s.Query(ctx, store.Query{Category: "tools", Limit: 2, StartToken: token})
		require.NoError(t, err)
	})

	t.Run("malformed token", func(t *testing.T) {
		s := New(&fakeDynamo{}, "inventory-items")
		_, err := s.Query(ctx, store.Query{Limit: 2, StartToken: "not a token"})
		var valErr *inventory.ValidationError
		require.ErrorAs(t, err, &valErr)
	})
}
