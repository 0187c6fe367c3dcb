package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/imrishuroy/campus-handshake/internal/idempotency"
	"github.com/imrishuroy/campus-handshake/internal/metrics"
	"github.com/imrishuroy/campus-handshake/internal/notify"
)

// DedupStore records which queue messages were already delivered.
type DedupStore interface {
	CreateIfNotExists(ctx context.Context, key, orderID string) (bool, error)
	Get(ctx context.Context, key string) (*idempotency.IdempotencyRecord, error)
	MarkDone(ctx context.Context, key, responseBody string, responseStatus int) error
	MarkFailed(ctx context.Context, key, note string) error
	Reacquire(ctx context.Context, key string) error
}

// errBusy means another invocation owns the message right now; SQS will redeliver it.
var errBusy = errors.New("message is being delivered by another invocation")

// Processor delivers queued notifications at most once per SQS message id.
type Processor struct {
	sender  notify.Notifier
	dedup   DedupStore
	metrics metrics.Recorder
	log     *zap.Logger
}

// NewProcessor creates a new worker processor.
func NewProcessor(sender notify.Notifier, dedup DedupStore, rec metrics.Recorder, log *zap.Logger) *Processor {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Processor{sender: sender, dedup: dedup, metrics: rec, log: log}
}

// Handle receives an SQS batch event and processes each message. Failed messages are
// reported individually so the rest of the batch is not redelivered.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.log.Warn("notification not delivered, will retry",
				zap.String("message_id", rec.MessageId), zap.Error(err))
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func dedupKey(messageID string) string {
	return "notification:" + messageID
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	msg, err := notify.Decode(rec.Body)
	if err != nil {
		// retrying cannot fix a malformed body
		p.log.Error("dropping undecodable notification",
			zap.String("message_id", rec.MessageId), zap.Error(err))
		return nil
	}
	log := p.log.With(
		zap.String("message_id", rec.MessageId),
		zap.String("order_id", msg.OrderID),
		zap.String("kind", string(msg.Kind)))

	key := dedupKey(rec.MessageId)
	if err := p.acquire(ctx, key, msg.OrderID); err != nil {
		if errors.Is(err, errSkip) {
			log.Info("duplicate delivery ignored")
			return nil
		}
		return err
	}

	if err := p.sender.Notify(ctx, msg); err != nil {
		p.count(ctx, metrics.NotificationsFailed, msg.Kind)
		if mErr := p.dedup.MarkFailed(ctx, key, err.Error()); mErr != nil {
			log.Error("mark failed", zap.Error(mErr))
		}
		return fmt.Errorf("deliver: %w", err)
	}

	if err := p.dedup.MarkDone(ctx, key, "", http.StatusOK); err != nil {
		// delivered; a redelivery would only be caught while the record says IN_PROGRESS
		log.Error("mark done", zap.Error(err))
	}
	p.count(ctx, metrics.NotificationsDelivered, msg.Kind)
	log.Info("notification delivered")
	return nil
}

var errSkip = errors.New("already delivered")

// acquire claims key for this invocation. errSkip means the message was already delivered.
func (p *Processor) acquire(ctx context.Context, key, orderID string) error {
	created, err := p.dedup.CreateIfNotExists(ctx, key, orderID)
	if err != nil {
		return fmt.Errorf("dedup create: %w", err)
	}
	if created {
		return nil
	}

	existing, err := p.dedup.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("dedup get: %w", err)
	}
	if existing == nil {
		// expired between the two calls
		return errBusy
	}
	switch existing.Status {
	case idempotency.StatusDone:
		return errSkip
	case idempotency.StatusFailed:
		if err := p.dedup.Reacquire(ctx, key); err != nil {
			if errors.Is(err, idempotency.ErrConditionFailed) {
				return errBusy
			}
			return fmt.Errorf("dedup reacquire: %w", err)
		}
		return nil
	default:
		return errBusy
	}
}

func (p *Processor) count(ctx context.Context, name string, kind notify.Kind) {
	if err := p.metrics.RecordCount(ctx, name, map[string]string{"kind": string(kind)}); err != nil {
		p.log.Debug("metric not recorded", zap.String("metric", name), zap.Error(err))
	}
}
