// Package users resolves user ids to display names and contact addresses.
package users

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/campus-handshake/internal/aws"
)

// User is the subset of a profile this service reads.
type User struct {
	UserID string `dynamodbav:"user_id" json:"id"`
	Name   string `dynamodbav:"name" json:"name"`
	Email  string `dynamodbav:"email" json:"email"`
}

// Directory reads the users table.
type Directory struct {
	client    aws.DynamoDBAPI
	tableName string
}

func NewDirectory(client aws.DynamoDBAPI, tableName string) *Directory {
	return &Directory{client: client, tableName: tableName}
}

// Get returns the user or (nil, nil) when unknown.
func (d *Directory) Get(ctx context.Context, userID string) (*User, error) {
	out, err := d.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &d.tableName,
		Key: map[string]types.AttributeValue{
			"user_id": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var u User
	if err := attributevalue.UnmarshalMap(out.Item, &u); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}
	return &u, nil
}
