package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/campus-handshake/internal/aws"
	"github.com/imrishuroy/campus-handshake/internal/idempotency"
)

const (
	BuyerIndex  = "buyer_id-index"
	SellerIndex = "seller_id-index"
)

var (
	// ErrStatusMismatch is returned when a conditional status transition lost the race.
	ErrStatusMismatch = errors.New("status mismatch/conditional failed")
	// ErrDuplicateRequest means the idempotency key was already used.
	ErrDuplicateRequest = errors.New("idempotency key already used")
	// ErrOrderExists means an order with the same id is already stored.
	ErrOrderExists = errors.New("order already exists")
)

// Store encapsulates operations on the orders table.
type Store struct {
	client           aws.DynamoDBAPI
	tableName        string
	idempotencyTable string
	ttlWindow        time.Duration
	nowFunc          func() time.Time
}

// NewStore creates a new orders Store. idempotencyTable receives the records written
// alongside orders created with an idempotency key.
func NewStore(client aws.DynamoDBAPI, tableName, idempotencyTable string, ttlWindow time.Duration) *Store {
	return &Store{
		client:           client,
		tableName:        tableName,
		idempotencyTable: idempotencyTable,
		ttlWindow:        ttlWindow,
		nowFunc:          time.Now,
	}
}

// Create persists a new order. With a non-empty idempotencyKey the idempotency record
// (condition attribute_not_exists(idempotency_key)) and the order are written in one
// TransactWriteItems call, and a reused key yields ErrDuplicateRequest.
func (s *Store) Create(ctx context.Context, order Order, idempotencyKey string) error {
	now := s.nowFunc()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = order.CreatedAt

	orderMap, err := attributevalue.MarshalMap(order)
	if err != nil {
		return fmt.Errorf("marshal order item: %w", err)
	}

	if idempotencyKey == "" {
		_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
			TableName:           &s.tableName,
			Item:                orderMap,
			ConditionExpression: awsString("attribute_not_exists(order_id)"),
		})
		if err != nil {
			var cf *types.ConditionalCheckFailedException
			if errors.As(err, &cf) {
				return fmt.Errorf("%w: %s", ErrOrderExists, order.OrderID)
			}
			return fmt.Errorf("put item: %w", err)
		}
		return nil
	}

	rec := idempotency.NewRecord(idempotencyKey, order.OrderID, now, s.ttlWindow)
	idempMap, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal idempotency item: %w", err)
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           &s.idempotencyTable,
					Item:                idempMap,
					ConditionExpression: awsString("attribute_not_exists(idempotency_key)"),
				},
			},
			{
				Put: &types.Put{
					TableName:           &s.tableName,
					Item:                orderMap,
					ConditionExpression: awsString("attribute_not_exists(order_id)"),
				},
			},
		},
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			return fmt.Errorf("%w: %s", ErrDuplicateRequest, idempotencyKey)
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            orderKey(orderID),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// Delete removes an order, and its idempotency record when idempotencyKey is set.
// It only backs out a creation whose follow-up failed.
func (s *Store) Delete(ctx context.Context, orderID, idempotencyKey string) error {
	if idempotencyKey == "" {
		if _, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
			TableName: &s.tableName,
			Key:       orderKey(orderID),
		}); err != nil {
			return fmt.Errorf("delete item: %w", err)
		}
		return nil
	}

	_, err := s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Delete: &types.Delete{TableName: &s.tableName, Key: orderKey(orderID)}},
			{Delete: &types.Delete{
				TableName: &s.idempotencyTable,
				Key: map[string]types.AttributeValue{
					"idempotency_key": &types.AttributeValueMemberS{Value: idempotencyKey},
				},
			}},
		},
	})
	if err != nil {
		return fmt.Errorf("transact delete: %w", err)
	}
	return nil
}

// Transition writes the handshake fields of next only if the stored status still equals
// expected. Returns ErrStatusMismatch if another writer got there first.
// Snapshot, amount, parties and type are never part of the update.
func (s *Store) Transition(ctx context.Context, next Order, expected Status) (Order, error) {
	next.UpdatedAt = s.nowFunc()

	pickup, err := attributevalue.Marshal(next.PickupCode)
	if err != nil {
		return Order{}, fmt.Errorf("marshal pickup code: %w", err)
	}
	updatedAt, err := attributevalue.Marshal(next.UpdatedAt)
	if err != nil {
		return Order{}, fmt.Errorf("marshal updated_at: %w", err)
	}

	updateExpr := "SET #s = :new, pickup_code = :pc, updated_at = :ua"
	values := map[string]types.AttributeValue{
		":new":      &types.AttributeValueMemberS{Value: string(next.Status)},
		":pc":       pickup,
		":ua":       updatedAt,
		":expected": &types.AttributeValueMemberS{Value: string(expected)},
	}
	if next.ReturnCode != nil {
		rc, err := attributevalue.Marshal(next.ReturnCode)
		if err != nil {
			return Order{}, fmt.Errorf("marshal return code: %w", err)
		}
		updateExpr += ", return_code = :rc"
		values[":rc"] = rc
	}

	_, err = s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       orderKey(next.OrderID),
		UpdateExpression:          &updateExpr,
		ConditionExpression:       awsString("#s = :expected"),
		ExpressionAttributeNames:  map[string]string{"#s": "status"},
		ExpressionAttributeValues: values,
	})
	if err != nil {
		var sc *types.ConditionalCheckFailedException
		if errors.As(err, &sc) {
			return Order{}, ErrStatusMismatch
		}
		return Order{}, fmt.Errorf("update item: %w", err)
	}
	return next, nil
}

// ListByParty returns every order where userID is the buyer or the seller, newest first.
func (s *Store) ListByParty(ctx context.Context, userID string) ([]Order, error) {
	seen := map[string]struct{}{}
	var out []Order
	for _, idx := range []struct{ name, attr string }{
		{BuyerIndex, "buyer_id"},
		{SellerIndex, "seller_id"},
	} {
		rows, err := s.queryIndex(ctx, idx.name, idx.attr, userID)
		if err != nil {
			return nil, err
		}
		for _, o := range rows {
			if _, dup := seen[o.OrderID]; dup {
				continue
			}
			seen[o.OrderID] = struct{}{}
			out = append(out, o)
		}
	}
	SortNewestFirst(out)
	return out, nil
}

func (s *Store) queryIndex(ctx context.Context, index, attr, userID string) ([]Order, error) {
	var (
		out   []Order
		start map[string]types.AttributeValue
	)
	for {
		resp, err := s.client.Query(ctx, &dyn.QueryInput{
			TableName:              &s.tableName,
			IndexName:              &index,
			KeyConditionExpression: awsString(attr + " = :uid"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":uid": &types.AttributeValueMemberS{Value: userID},
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", index, err)
		}
		var page []Order
		if err := attributevalue.UnmarshalListOfMaps(resp.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal orders: %w", err)
		}
		out = append(out, page...)
		if len(resp.LastEvaluatedKey) == 0 {
			return out, nil
		}
		start = resp.LastEvaluatedKey
	}
}

// SortNewestFirst orders by created_at descending, ties broken by id for stable output.
func SortNewestFirst(list []Order) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].OrderID < list[j].OrderID
	})
}

func orderKey(orderID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
