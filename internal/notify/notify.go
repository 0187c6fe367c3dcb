// Package notify delivers handshake emails: straight over SMTP, through an SNS topic, or
// onto the SQS queue drained by the notification worker.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind names the purpose of a message.
type Kind string

const (
	KindPickupCode       Kind = "pickup_code"
	KindPickupCodeResent Kind = "pickup_code_resent"
	KindHandoverReceipt  Kind = "handover_receipt"
	KindReturnCode       Kind = "return_code"
	KindReturnCodeResent Kind = "return_code_resent"
	KindItemSold         Kind = "item_sold"
	KindReturnCompleted  Kind = "return_completed"
	KindOrderCancelled   Kind = "order_cancelled"
)

// Message is one email. It is also the JSON body of queued and published notifications.
type Message struct {
	Kind    Kind   `json:"kind"`
	OrderID string `json:"order_id,omitempty"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

var (
	ErrNoRecipient  = errors.New("notify: message has no recipient")
	ErrBadRecipient = errors.New("notify: recipient contains a line break")
)

// Validate checks the fields every transport needs.
func (m Message) Validate() error {
	if strings.TrimSpace(m.To) == "" {
		return ErrNoRecipient
	}
	if strings.ContainsAny(m.To, "\r\n") {
		return ErrBadRecipient
	}
	if m.Subject == "" {
		return fmt.Errorf("notify: empty subject for %s", m.Kind)
	}
	return nil
}

// Decode parses a queued message body. Bodies delivered through an SNS subscription
// arrive wrapped in the SNS envelope and are unwrapped first.
func Decode(body string) (Message, error) {
	var envelope struct {
		Type    string `json:"Type"`
		Message string `json:"Message"`
	}
	if err := json.Unmarshal([]byte(body), &envelope); err != nil {
		return Message{}, fmt.Errorf("decode notification: %w", err)
	}
	if envelope.Type == "Notification" && envelope.Message != "" {
		body = envelope.Message
	}

	var msg Message
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return Message{}, fmt.Errorf("decode notification: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// Notifier delivers a message or reports why it could not.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}
