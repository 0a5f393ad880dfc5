package dynamostore

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"inventoryd/internal/inventory"
	"inventoryd/internal/store"
)

// DynamoDB caps a transaction at 100 operations.
const maxBatchOps = 100

func (s *Store) BatchWrite(ctx context.Context, category string, ops []store.WriteOp) ([]inventory.Item, error) {
	if len(ops) == 0 {
		return nil, nil
	}
	if len(ops) > maxBatchOps {
		return nil, &inventory.ValidationError{
			Field:  "items",
			Reason: fmt.Sprintf("at most %d operations per category batch, got %d", maxBatchOps, len(ops)),
		}
	}

	txItems := make([]types.TransactWriteItem, 0, len(ops))
	written := make([]inventory.Item, 0, len(ops))
	for i, op := range ops {
		txItem, item, err := s.buildWriteItem(category, op)
		if err != nil {
			return nil, &inventory.BatchError{Category: category, Index: i, Err: err}
		}
		txItems = append(txItems, txItem)
		if item != nil {
			written = append(written, *item)
		}
	}

	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: txItems,
	})
	if err != nil {
		return nil, s.translateBatchErr(category, ops, err)
	}
	return written, nil
}

// buildWriteItem converts one op. For creates and replaces it stamps a
// fresh version token and returns the item as it will be stored.
func (s *Store) buildWriteItem(category string, op store.WriteOp) (types.TransactWriteItem, *inventory.Item, error) {
	switch op.Kind {
	case store.OpCreate, store.OpReplace:
		item := *op.Item
		if item.Category != category {
			return types.TransactWriteItem{}, nil, fmt.Errorf("op category %q outside batch partition %q", item.Category, category)
		}
		item.VersionToken = uuid.NewString()
		av, err := attributevalue.MarshalMap(item)
		if err != nil {
			return types.TransactWriteItem{}, nil, fmt.Errorf("marshal item %s/%s: %w", item.Category, item.ID, err)
		}
		cond := expression.AttributeNotExists(expression.Name(attrSort))
		if op.Kind == store.OpReplace {
			cond = expression.AttributeExists(expression.Name(attrSort))
		}
		expr, err := expression.NewBuilder().WithCondition(cond).Build()
		if err != nil {
			return types.TransactWriteItem{}, nil, fmt.Errorf("build batch condition: %w", err)
		}
		return types.TransactWriteItem{
			Put: &types.Put{
				TableName:                 &s.table,
				Item:                      av,
				ConditionExpression:       expr.Condition(),
				ExpressionAttributeNames:  expr.Names(),
				ExpressionAttributeValues: expr.Values(),
			},
		}, &item, nil
	case store.OpDelete:
		if op.Key.Category != category {
			return types.TransactWriteItem{}, nil, fmt.Errorf("op category %q outside batch partition %q", op.Key.Category, category)
		}
		return types.TransactWriteItem{
			Delete: &types.Delete{
				TableName: &s.table,
				Key:       keyAttrs(op.Key),
			},
		}, nil, nil
	default:
		return types.TransactWriteItem{}, nil, fmt.Errorf("unsupported op kind %q", op.Kind)
	}
}

// translateBatchErr maps a cancelled transaction onto a BatchError carrying
// the index of the first failing operation.
func (s *Store) translateBatchErr(category string, ops []store.WriteOp, err error) error {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return fmt.Errorf("transact write: %w", err)
	}
	for i, reason := range tce.CancellationReasons {
		code := ""
		if reason.Code != nil {
			code = *reason.Code
		}
		if code == "" || code == "None" {
			continue
		}
		cause := fmt.Errorf("operation cancelled: %s", code)
		if code == "ConditionalCheckFailed" && i < len(ops) {
			switch ops[i].Kind {
			case store.OpCreate:
				cause = inventory.ErrAlreadyExists
			case store.OpReplace:
				cause = inventory.ErrNotFound
			}
		}
		return &inventory.BatchError{Category: category, Index: i, Err: cause}
	}
	return &inventory.BatchError{Category: category, Index: 0, Err: fmt.Errorf("transaction cancelled: %w", err)}
}

func (s *Store) BatchGet(ctx context.Context, category string, ids []string) ([]inventory.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > maxBatchOps {
		return nil, &inventory.ValidationError{
			Field:  "keys",
			Reason: fmt.Sprintf("at most %d keys per category batch, got %d", maxBatchOps, len(ids)),
		}
	}

	gets := make([]types.TransactGetItem, 0, len(ids))
	for _, id := range ids {
		gets = append(gets, types.TransactGetItem{
			Get: &types.Get{
				TableName: &s.table,
				Key:       keyAttrs(inventory.Key{ID: id, Category: category}),
			},
		})
	}

	res, err := s.client.TransactGetItems(ctx, &dynamodb.TransactGetItemsInput{
		TransactItems: gets,
	})
	if err != nil {
		return nil, fmt.Errorf("transact get: %w", err)
	}

	items := make([]inventory.Item, 0, len(ids))
	for i, resp := range res.Responses {
		// An empty response fails the whole group; per-item misses are a
		// single-get concern, not a batch-read one.
		if len(resp.Item) == 0 {
			return nil, &inventory.BatchError{Category: category, Index: i, Err: inventory.ErrNotFound}
		}
		var item inventory.Item
		if err := attributevalue.UnmarshalMap(resp.Item, &item); err != nil {
			return nil, fmt.Errorf("unmarshal item %s/%s: %w", category, ids[i], err)
		}
		items = append(items, item)
	}
	return items, nil
}
