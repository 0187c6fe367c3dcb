// Package catalog reads marketplace listings and flips their availability.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/campus-handshake/internal/aws"
)

// Image is a hosted picture of a listing.
type Image struct {
	URL string `dynamodbav:"url" json:"url"`
}

// SellOption describes the sale offer of a listing.
type SellOption struct {
	Enabled bool    `dynamodbav:"enabled"`
	Price   float64 `dynamodbav:"price"`
}

// RentOption describes the rental offer of a listing.
type RentOption struct {
	Enabled bool    `dynamodbav:"enabled"`
	Price   float64 `dynamodbav:"price"`
	Period  string  `dynamodbav:"period,omitempty"`
	Deposit string  `dynamodbav:"deposit,omitempty"`
}

// Item is a listing as stored in the items table.
type Item struct {
	ItemID      string     `dynamodbav:"item_id"` // PK
	OwnerID     string     `dynamodbav:"owner_id"`
	Title       string     `dynamodbav:"title"`
	Images      []Image    `dynamodbav:"images"`
	Sell        SellOption `dynamodbav:"sell"`
	Rent        RentOption `dynamodbav:"rent"`
	IsAvailable bool       `dynamodbav:"is_available"`
}

// FirstImage returns the first image URL or "".
func (i Item) FirstImage() string {
	if len(i.Images) == 0 {
		return ""
	}
	return i.Images[0].URL
}

// DepositDescription returns the rental deposit, or def when none is set.
func (i Item) DepositDescription(def string) string {
	if d := strings.TrimSpace(i.Rent.Deposit); d != "" {
		return d
	}
	return def
}

// Store is the DynamoDB backed item catalog.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
}

func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName}
}

// Get fetches an item by id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, itemID string) (*Item, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       itemKey(itemID),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var it Item
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &it, nil
}

// SetAvailable sets is_available on an existing item. A missing item is not an error.
func (s *Store) SetAvailable(ctx context.Context, itemID string, available bool) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 itemKey(itemID),
		UpdateExpression:    awsString("SET is_available = :a"),
		ConditionExpression: awsString("attribute_exists(item_id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":a": &types.AttributeValueMemberBOOL{Value: available},
		},
	})
	if err != nil {
		var cf *types.ConditionalCheckFailedException
		if errors.As(err, &cf) {
			return nil
		}
		return fmt.Errorf("update item availability: %w", err)
	}
	return nil
}

func itemKey(itemID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"item_id": &types.AttributeValueMemberS{Value: itemID},
	}
}

func awsString(s string) *string { return &s }
