package main

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/imrishuroy/campus-handshake/internal/aws/awstest"
	"github.com/imrishuroy/campus-handshake/internal/idempotency"
	"github.com/imrishuroy/campus-handshake/internal/metrics"
	"github.com/imrishuroy/campus-handshake/internal/notify"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (f *fakeSender) Notify(ctx context.Context, msg notify.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func newTestProcessor(t *testing.T) (*Processor, *fakeSender, *idempotency.Store, *awstest.FakeCloudWatch) {
	t.Helper()
	fake := awstest.NewFakeDynamo()
	fake.CreateTable("idempotency", "idempotency_key")
	store := idempotency.NewStore(fake, "idempotency", time.Hour)
	sender := &fakeSender{}
	cw := &awstest.FakeCloudWatch{}
	return NewProcessor(sender, store, metrics.NewCloudWatch(cw, "Test", true), zap.NewNop()), sender, store, cw
}

func sqsMessage(t *testing.T, id string, msg notify.Message) events.SQSMessage {
	t.Helper()
	b, err := json.Marshal(msg)
	require.NoError(t, err)
	return events.SQSMessage{MessageId: id, Body: string(b)}
}

func sampleMessage() notify.Message {
	return notify.Compose(notify.KindReturnCode, "o1", "ravi@campus.edu", notify.Details{Title: "Lab Coat", BuyerName: "Asha", Code: "222222"})
}

func TestWorkerProcess_Success(t *testing.T) {
	p, sender, store, cw := newTestProcessor(t)

	resp, err := p.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{sqsMessage(t, "m1", sampleMessage())}})
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, sampleMessage(), sender.sent[0])

	rec, err := store.Get(context.Background(), dedupKey("m1"))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, idempotency.StatusDone, rec.Status)
	assert.Equal(t, "o1", rec.OrderID)
	assert.Contains(t, cw.MetricNames(), metrics.NotificationsDelivered)
}

func TestWorkerProcess_DuplicateDeliveryIsSkipped(t *testing.T) {
	p, sender, _, _ := newTestProcessor(t)
	ev := events.SQSEvent{Records: []events.SQSMessage{sqsMessage(t, "m1", sampleMessage())}}

	_, err := p.Handle(context.Background(), ev)
	require.NoError(t, err)
	resp, err := p.Handle(context.Background(), ev)
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
	assert.Len(t, sender.sent, 1)
}

func TestWorkerProcess_FailureIsRetried(t *testing.T) {
	p, sender, store, cw := newTestProcessor(t)
	sender.err = errors.New("421 service not available")
	ev := events.SQSEvent{Records: []events.SQSMessage{
		sqsMessage(t, "m1", sampleMessage()),
		{MessageId: "m2", Body: "garbage"},
	}}

	resp, err := p.Handle(context.Background(), ev)
	require.NoError(t, err)
	require.Len(t, resp.BatchItemFailures, 1, "malformed message is dropped, not retried")
	assert.Equal(t, "m1", resp.BatchItemFailures[0].ItemIdentifier)
	assert.Contains(t, cw.MetricNames(), metrics.NotificationsFailed)

	rec, err := store.Get(context.Background(), dedupKey("m1"))
	require.NoError(t, err)
	assert.Equal(t, idempotency.StatusFailed, rec.Status)

	// redelivery after the mail server recovers
	sender.err = nil
	resp, err = p.Handle(context.Background(), events.SQSEvent{Records: ev.Records[:1]})
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
	assert.Len(t, sender.sent, 1)
}

func TestWorkerProcess_InProgressIsRetriedLater(t *testing.T) {
	p, sender, store, _ := newTestProcessor(t)
	created, err := store.CreateIfNotExists(context.Background(), dedupKey("m1"), "o1")
	require.NoError(t, err)
	require.True(t, created)

	resp, err := p.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{sqsMessage(t, "m1", sampleMessage())}})
	require.NoError(t, err)
	require.Len(t, resp.BatchItemFailures, 1)
	assert.Empty(t, sender.sent)
}

func TestWorkerProcess_SNSEnvelope(t *testing.T) {
	p, sender, _, _ := newTestProcessor(t)
	inner, err := json.Marshal(sampleMessage())
	require.NoError(t, err)
	outer, err := json.Marshal(map[string]string{"Type": "Notification", "Message": string(inner)})
	require.NoError(t, err)

	resp, err := p.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{{MessageId: "m9", Body: string(outer)}}})
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "ravi@campus.edu", sender.sent[0].To)
}

func TestLocalEvent(t *testing.T) {
	ev, err := localEvent("")
	require.NoError(t, err)
	require.Len(t, ev.Records, 1)
	msg, err := notify.Decode(ev.Records[0].Body)
	require.NoError(t, err)
	assert.Equal(t, notify.KindPickupCode, msg.Kind)

	ev, err = localEvent(`{"to":"a@b","subject":"s"}`)
	require.NoError(t, err)
	assert.Equal(t, `{"to":"a@b","subject":"s"}`, ev.Records[0].Body)
}
