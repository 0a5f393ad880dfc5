package dynamostore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"inventoryd/internal/inventory"
	"inventoryd/internal/store"
)

// Query pages through one category partition, or falls back to a table
// scan when no category is given. Result order is DynamoDB's own (sort-key
// order within a partition); pages are never reordered here.
func (s *Store) Query(ctx context.Context, q store.Query) (*store.Page, error) {
	startKey, err := decodeStartKey(q.StartToken)
	if err != nil {
		return nil, &inventory.ValidationError{Field: "continuationToken", Reason: "malformed token"}
	}

	var items []map[string]types.AttributeValue
	var lastKey map[string]types.AttributeValue

	if q.Category != "" {
		expr, err := expression.NewBuilder().
			WithKeyCondition(expression.KeyEqual(expression.Key(attrPartition), expression.Value(q.Category))).
			Build()
		if err != nil {
			return nil, fmt.Errorf("build key condition: %w", err)
		}
		res, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 &s.table,
			KeyConditionExpression:    expr.KeyCondition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			Limit:                     ptr(int32(q.Limit)),
			ExclusiveStartKey:         startKey,
			ConsistentRead:            ptr(true),
		})
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
		items, lastKey = res.Items, res.LastEvaluatedKey
	} else {
		res, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         &s.table,
			Limit:             ptr(int32(q.Limit)),
			ExclusiveStartKey: startKey,
			ConsistentRead:    ptr(true),
		})
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		items, lastKey = res.Items, res.LastEvaluatedKey
	}

	page := &store.Page{Items: make([]inventory.Item, 0, len(items))}
	for _, av := range items {
		var item inventory.Item
		if err := attributevalue.UnmarshalMap(av, &item); err != nil {
			return nil, fmt.Errorf("unmarshal query result: %w", err)
		}
		page.Items = append(page.Items, item)
	}
	if lastKey != nil {
		token, err := encodeStartKey(lastKey)
		if err != nil {
			return nil, err
		}
		page.NextToken = token
	}
	return page, nil
}

// The continuation token is the LastEvaluatedKey, flattened and base64'd.
// Both key attributes are strings, which keeps the codec trivial.

func encodeStartKey(key map[string]types.AttributeValue) (string, error) {
	flat := make(map[string]string, len(key))
	for name, av := range key {
		s, ok := av.(*types.AttributeValueMemberS)
		if !ok {
			return "", fmt.Errorf("unexpected key attribute type %T for %q", av, name)
		}
		flat[name] = s.Value
	}
	b, err := json.Marshal(flat)
	if err != nil {
		return "", fmt.Errorf("encode continuation token: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

func decodeStartKey(token string) (map[string]types.AttributeValue, error) {
	if token == "" {
		return nil, nil
	}
	b, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, err
	}
	var flat map[string]string
	if err := json.Unmarshal(b, &flat); err != nil {
		return nil, err
	}
	key := make(map[string]types.AttributeValue, len(flat))
	for name, val := range flat {
		key[name] = &types.AttributeValueMemberS{Value: val}
	}
	return key, nil
}
