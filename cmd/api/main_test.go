package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/campus-handshake/internal/auth"
	"github.com/imrishuroy/campus-handshake/internal/aws"
	"github.com/imrishuroy/campus-handshake/internal/aws/awstest"
	"github.com/imrishuroy/campus-handshake/internal/config"
	"github.com/imrishuroy/campus-handshake/internal/handlers"
	"github.com/imrishuroy/campus-handshake/internal/handshake"
	"github.com/imrishuroy/campus-handshake/internal/notify"
)

// historyService answers history requests; the other operations are not reached here.
type historyService struct {
	handlers.OrderService
	caller string
}

func (s *historyService) GetHistory(ctx context.Context, userID string) ([]handshake.HistoryEntry, error) {
	s.caller = userID
	return nil, nil
}

func TestSetupRouter_Health(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := setupRouter(handlers.HandlerConfig{Service: &historyService{}, Auth: auth.Config{TrustUserHeader: true}})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestSetupRouter_OrdersRequireIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &historyService{}
	r := setupRouter(handlers.HandlerConfig{Service: svc, Auth: auth.Config{JWTSecret: "secret"}})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/orders/history", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, svc.caller)

	tok, err := auth.MintToken("secret", "buyer-1", time.Now(), time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/orders/history", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
	assert.Equal(t, "buyer-1", svc.caller)
}

func TestSetupRouter_NilServiceDoesNotPanic(t *testing.T) {
	gin.SetMode(gin.TestMode)
	assert.NotPanics(t, func() { setupRouter(handlers.HandlerConfig{}) })
}

func TestNewNotifier(t *testing.T) {
	clients := &aws.AWSClients{SQS: &awstest.FakeSQS{}, SNS: &awstest.FakeSNS{}}

	cases := []struct {
		cfg  config.Config
		want notify.Notifier
	}{
		{config.Config{Notify: config.NotifyConfig{Driver: config.NotifyDriverQueue, QueueURL: "q"}}, &notify.QueueNotifier{}},
		{config.Config{Notify: config.NotifyConfig{Driver: config.NotifyDriverSNS, TopicARN: "arn"}}, &notify.TopicNotifier{}},
		{config.Config{
			Notify: config.NotifyConfig{Driver: config.NotifyDriverSMTP},
			SMTP:   config.SMTPConfig{Host: "smtp.example.com", Port: "587", Username: "u", Password: "p"},
		}, &notify.SMTPSender{}},
	}
	for _, tc := range cases {
		t.Run(tc.cfg.Notify.Driver, func(t *testing.T) {
			n, err := newNotifier(&tc.cfg, clients)
			require.NoError(t, err)
			assert.IsType(t, tc.want, n)
		})
	}

	_, err := newNotifier(&config.Config{Notify: config.NotifyConfig{Driver: "pigeon"}}, clients)
	assert.Error(t, err)
}
