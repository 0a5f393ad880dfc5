// Package dynamostore is the DynamoDB implementation of the store contract.
//
// The table is keyed (category HASH, id RANGE), so a category is one
// partition. Version tokens are a "version" attribute stamped on every
// write; conditional writes use condition expressions over it. Group
// atomicity comes from TransactWriteItems, which is scoped to the ops it
// carries and reports the first failing operation via cancellation reasons.
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

// DynamoAPI is the slice of the AWS SDK client this store uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	TransactGetItems(ctx context.Context, params *dynamodb.TransactGetItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactGetItemsOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

const (
	attrPartition = "category"
	attrSort      = "id"
	attrVersion   = "version"
)

type Store struct {
	client DynamoAPI
	table  string
}

var _ store.Store = (*Store)(nil)

func New(client DynamoAPI, table string) *Store {
	return &Store{client: client, table: table}
}

// Close is part of the store contract; the SDK client holds no resources
// that need releasing.
func (s *Store) Close() error {
	return nil
}

func (s *Store) Create(ctx context.Context, item inventory.Item) (inventory.Item, error) {
	item.VersionToken = uuid.NewString()
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return inventory.Item{}, fmt.Errorf("marshal item %s/%s: %w", item.Category, item.ID, err)
	}
	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name(attrSort))).
		Build()
	if err != nil {
		return inventory.Item{}, fmt.Errorf("build create condition: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 &s.table,
		Item:                      av,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return inventory.Item{}, inventory.ErrAlreadyExists
		}
		return inventory.Item{}, fmt.Errorf("put item: %w", err)
	}
	return item, nil
}

func (s *Store) Get(ctx context.Context, key inventory.Key) (*inventory.Item, error) {
	res, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.table,
		Key:            keyAttrs(key),
		ConsistentRead: ptr(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(res.Item) == 0 {
		return nil, nil
	}
	var item inventory.Item
	if err := attributevalue.UnmarshalMap(res.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal item %s: %w", key, err)
	}
	return &item, nil
}

func (s *Store) Replace(ctx context.Context, item inventory.Item, expectedVersion string) (inventory.Item, error) {
	item.VersionToken = uuid.NewString()
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return inventory.Item{}, fmt.Errorf("marshal item %s/%s: %w", item.Category, item.ID, err)
	}
	cond := expression.AttributeExists(expression.Name(attrSort))
	if expectedVersion != "" {
		cond = cond.And(expression.Equal(expression.Name(attrVersion), expression.Value(expectedVersion)))
	}
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return inventory.Item{}, fmt.Errorf("build replace condition: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                           &s.table,
		Item:                                av,
		ConditionExpression:                 expr.Condition(),
		ExpressionAttributeNames:            expr.Names(),
		ExpressionAttributeValues:           expr.Values(),
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			// The condition returns the old item when one exists, so an
			// empty item means the key was absent, not a stale token.
			if len(ccf.Item) == 0 {
				return inventory.Item{}, inventory.ErrNotFound
			}
			return inventory.Item{}, inventory.ErrConcurrencyConflict
		}
		return inventory.Item{}, fmt.Errorf("replace item: %w", err)
	}
	return item, nil
}

func (s *Store) Delete(ctx context.Context, key inventory.Key) (bool, error) {
	res, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    &s.table,
		Key:          keyAttrs(key),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return false, fmt.Errorf("delete item: %w", err)
	}
	return len(res.Attributes) > 0, nil
}

func keyAttrs(key inventory.Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPartition: &types.AttributeValueMemberS{Value: key.Category},
		attrSort:      &types.AttributeValueMemberS{Value: key.ID},
	}
}

func ptr[T any](v T) *T {
	return &v
}
