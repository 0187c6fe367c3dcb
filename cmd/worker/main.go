package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/imrishuroy/campus-handshake/internal/aws"
	"github.com/imrishuroy/campus-handshake/internal/config"
	"github.com/imrishuroy/campus-handshake/internal/idempotency"
	"github.com/imrishuroy/campus-handshake/internal/logger"
	"github.com/imrishuroy/campus-handshake/internal/metrics"
	"github.com/imrishuroy/campus-handshake/internal/notify"
)

func main() {
	cfg, err := config.Process()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	zl, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	sender, err := notify.NewSMTPSender(cfg.SMTP)
	if err != nil {
		zl.Fatal("smtp sender", zap.Error(err))
	}

	ctx := context.Background()
	clients, err := aws.NewAWSClients(ctx)
	if err != nil {
		zl.Fatal("failed to init aws clients", zap.Error(err))
	}

	p := NewProcessor(
		sender,
		idempotency.NewStore(clients.DynamoDB, cfg.Tables.Idempotency, cfg.Handshake.IdempotencyTTL),
		metrics.NewCloudWatch(clients.CloudWatch, cfg.Metrics.Namespace, cfg.Metrics.Enabled),
		zl,
	)

	// If RUN_LOCAL=true, process a single simulated SQS event and exit.
	if cfg.App.RunLocal {
		event, err := localEvent(os.Getenv("LOCAL_SQS_BODY"))
		if err != nil {
			zl.Fatal("local event", zap.Error(err))
		}
		resp, err := p.Handle(ctx, event)
		if err != nil || len(resp.BatchItemFailures) > 0 {
			zl.Fatal("local handler error", zap.Error(err), zap.Int("failures", len(resp.BatchItemFailures)))
		}
		return
	}

	lambda.Start(p.Handle)
}

func localEvent(body string) (events.SQSEvent, error) {
	if body == "" {
		b, err := json.Marshal(notify.Compose(notify.KindPickupCode, "local-order-1", "student@localhost", notify.Details{
			Title: "Local Item", SellerName: "Local Seller", Code: "123456", Deposit: "None",
		}))
		if err != nil {
			return events.SQSEvent{}, fmt.Errorf("marshal sample: %w", err)
		}
		body = string(b)
	}
	return events.SQSEvent{
		Records: []events.SQSMessage{{MessageId: "local-1", Body: body}},
	}, nil
}
