package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/imrishuroy/campus-handshake/internal/aws"
)

// TopicNotifier publishes messages to an SNS topic.
type TopicNotifier struct {
	client   aws.SNSAPI
	topicARN string
}

func NewTopicNotifier(client aws.SNSAPI, topicARN string) *TopicNotifier {
	return &TopicNotifier{client: client, topicARN: topicARN}
}

func (t *TopicNotifier) Notify(ctx context.Context, msg Message) error {
	if t.topicARN == "" {
		return fmt.Errorf("empty topicArn")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	kind := string(msg.Kind)
	_, err = t.client.Publish(ctx, &sns.PublishInput{
		TopicArn: &t.topicARN,
		Message:  awsString(string(body)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"kind": {DataType: awsString("String"), StringValue: &kind},
		},
	})
	if err != nil {
		return fmt.Errorf("sns publish failed for topic %s: %w", t.topicARN, err)
	}
	return nil
}

func awsString(s string) *string { return &s }
