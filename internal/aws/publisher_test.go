package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSQS struct {
	input *sqs.SendMessageInput
	err   error
}

func (m *mockSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.input = params
	if m.err != nil {
		return nil, m.err
	}
	return &sqs.SendMessageOutput{MessageId: awsString("msg-1")}, nil
}

func TestPublisher_SendCopiesAttributes(t *testing.T) {
	m := &mockSQS{}
	p := NewPublisher(m, "https://sqs.local/000000000000/notifications")

	id, err := p.Send(context.Background(), `{"to":"a@b.c"}`, map[string]string{
		"order_id":       "order-1",
		"correlation_id": "",
	})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)

	require.NotNil(t, m.input)
	assert.Equal(t, `{"to":"a@b.c"}`, *m.input.MessageBody)
	require.Contains(t, m.input.MessageAttributes, "order_id")
	assert.Equal(t, "order-1", *m.input.MessageAttributes["order_id"].StringValue)
	assert.NotContains(t, m.input.MessageAttributes, "correlation_id")
}

func TestPublisher_SendWrapsError(t *testing.T) {
	boom := errors.New("throttled")
	p := NewPublisher(&mockSQS{err: boom}, "https://sqs.local/q")

	_, err := p.Send(context.Background(), "{}", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestPublisher_SendRequiresQueue(t *testing.T) {
	p := NewPublisher(&mockSQS{}, "")
	_, err := p.Send(context.Background(), "{}", nil)
	assert.Error(t, err)
}
