package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/imrishuroy/campus-handshake/internal/aws"
)

// QueueNotifier enqueues messages for the notification worker.
type QueueNotifier struct {
	publisher *aws.Publisher
}

func NewQueueNotifier(publisher *aws.Publisher) *QueueNotifier {
	return &QueueNotifier{publisher: publisher}
}

// Notify succeeds once the message is accepted by SQS; delivery happens in the worker.
func (q *QueueNotifier) Notify(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if _, err := q.publisher.Send(ctx, string(body), map[string]string{
		"kind":     string(msg.Kind),
		"order_id": msg.OrderID,
	}); err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}
