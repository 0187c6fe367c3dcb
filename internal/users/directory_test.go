package users

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/campus-handshake/internal/aws/awstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectoryGet(t *testing.T) {
	fake := awstest.NewFakeDynamo()
	fake.CreateTable("users", "user_id")
	fake.Seed("users", map[string]types.AttributeValue{
		"user_id": &types.AttributeValueMemberS{Value: "u1"},
		"name":    &types.AttributeValueMemberS{Value: "Asha"},
		"email":   &types.AttributeValueMemberS{Value: "asha@campus.edu"},
	})
	d := NewDirectory(fake, "users")

	u, err := d.Get(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, User{UserID: "u1", Name: "Asha", Email: "asha@campus.edu"}, *u)

	missing, err := d.Get(context.Background(), "u2")
	require.NoError(t, err)
	assert.Nil(t, missing)

	fake.FailNext("GetItem", errors.New("boom"))
	_, err = d.Get(context.Background(), "u1")
	assert.Error(t, err)
}
