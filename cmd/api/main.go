package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/campus-handshake/internal/auth"
	"github.com/imrishuroy/campus-handshake/internal/aws"
	"github.com/imrishuroy/campus-handshake/internal/catalog"
	"github.com/imrishuroy/campus-handshake/internal/config"
	"github.com/imrishuroy/campus-handshake/internal/handlers"
	"github.com/imrishuroy/campus-handshake/internal/handshake"
	"github.com/imrishuroy/campus-handshake/internal/idempotency"
	"github.com/imrishuroy/campus-handshake/internal/logger"
	"github.com/imrishuroy/campus-handshake/internal/metrics"
	"github.com/imrishuroy/campus-handshake/internal/notify"
	"github.com/imrishuroy/campus-handshake/internal/orders"
	"github.com/imrishuroy/campus-handshake/internal/users"
)

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	r := gin.New()
	r.Use(gin.Recovery(), logger.RequestLogger(cfg.Logger))

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterOrdersRoutes(r, cfg)

	return r
}

// newNotifier picks the delivery path for handshake emails.
func newNotifier(cfg *config.Config, clients *aws.AWSClients) (notify.Notifier, error) {
	switch cfg.Notify.Driver {
	case config.NotifyDriverQueue:
		return notify.NewQueueNotifier(aws.NewPublisher(clients.SQS, cfg.Notify.QueueURL)), nil
	case config.NotifyDriverSNS:
		return notify.NewTopicNotifier(clients.SNS, cfg.Notify.TopicARN), nil
	case config.NotifyDriverSMTP:
		return notify.NewSMTPSender(cfg.SMTP)
	default:
		return nil, fmt.Errorf("unknown notify driver %q", cfg.Notify.Driver)
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	zl, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	clients, err := aws.NewAWSClients(context.Background())
	if err != nil {
		zl.Fatal("failed to init aws clients", zap.Error(err))
	}

	notifier, err := newNotifier(cfg, clients)
	if err != nil {
		zl.Fatal("failed to init notifier", zap.Error(err))
	}

	svc := handshake.NewService(handshake.Deps{
		Orders:        orders.NewStore(clients.DynamoDB, cfg.Tables.Orders, cfg.Tables.Idempotency, cfg.Handshake.IdempotencyTTL),
		Items:         catalog.NewStore(clients.DynamoDB, cfg.Tables.Items),
		Users:         users.NewDirectory(clients.DynamoDB, cfg.Tables.Users),
		Notifier:      notifier,
		Metrics:       metrics.NewCloudWatch(clients.CloudWatch, cfg.Metrics.Namespace, cfg.Metrics.Enabled),
		Logger:        zl,
		PendingWindow: cfg.Handshake.HistoryPendingWindow,
	})

	r := setupRouter(handlers.HandlerConfig{
		Service:     svc,
		Idempotency: idempotency.NewStore(clients.DynamoDB, cfg.Tables.Idempotency, cfg.Handshake.IdempotencyTTL),
		Auth: auth.Config{
			JWTSecret:       cfg.Auth.JWTSecret,
			TrustUserHeader: cfg.Auth.TrustUserHeader,
		},
		Logger: zl,
	})

	// if RUN_LOCAL=true, run a local HTTP server for development.
	if cfg.App.RunLocal {
		zl.Info("running local server", zap.String("addr", cfg.App.HTTPAddr), zap.String("notify_driver", cfg.Notify.Driver))
		if err := r.Run(cfg.App.HTTPAddr); err != nil {
			zl.Fatal("failed to run local server", zap.Error(err))
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
