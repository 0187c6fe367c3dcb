package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/campus-handshake/internal/apperr"
	"github.com/imrishuroy/campus-handshake/internal/auth"
	"github.com/imrishuroy/campus-handshake/internal/handshake"
	"github.com/imrishuroy/campus-handshake/internal/idempotency"
	"github.com/imrishuroy/campus-handshake/internal/logger"
	"github.com/imrishuroy/campus-handshake/internal/orders"
	"github.com/imrishuroy/campus-handshake/internal/validation"
)

const IdempotencyKeyHeader = "Idempotency-Key"

// OrderService is the handshake API the routes call.
type OrderService interface {
	CreateOrder(ctx context.Context, in handshake.CreateOrderInput) (handshake.CreateOrderResult, error)
	VerifyPickup(ctx context.Context, orderID, callerID, code string) (orders.Status, error)
	VerifyReturn(ctx context.Context, orderID, callerID, code string) (orders.Status, error)
	CancelOrder(ctx context.Context, orderID, callerID string) error
	ResendCode(ctx context.Context, orderID, callerID string) error
	GetHistory(ctx context.Context, userID string) ([]handshake.HistoryEntry, error)
}

// IdempotencyStore looks up and completes create-order idempotency records.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*idempotency.IdempotencyRecord, error)
	MarkDone(ctx context.Context, key, responseBody string, responseStatus int) error
}

// HandlerConfig groups dependencies for the orders handler.
type HandlerConfig struct {
	Service     OrderService
	Idempotency IdempotencyStore
	Auth        auth.Config
	Logger      *zap.Logger
}

type ordersHandler struct {
	svc   OrderService
	idemp IdempotencyStore
	log   *zap.Logger
}

// verifyOp is a code-checking method of OrderService, bound to the service per request.
type verifyOp func(svc OrderService, ctx context.Context, orderID, callerID, code string) (orders.Status, error)

type createOrderResponse struct {
	OrderID string `json:"orderId"`
	Message string `json:"message"`
}

// RegisterOrdersRoutes registers routes for order API. Every route requires a caller identity.
func RegisterOrdersRoutes(r gin.IRouter, cfg HandlerConfig) {
	h := &ordersHandler{svc: cfg.Service, idemp: cfg.Idempotency, log: cfg.Logger}
	if h.log == nil {
		h.log = zap.NewNop()
	}
	v := validation.New()

	g := r.Group("/orders", auth.Middleware(cfg.Auth))

	g.POST("", func(c *gin.Context) {
		var req validation.CreateOrderRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}
		h.createOrder(c, req)
	})

	verify := func(op verifyOp, message func(orders.Status) string) gin.HandlerFunc {
		return func(c *gin.Context) {
			var req validation.VerifyCodeRequest
			if err := validation.BindAndValidate(c, &req, v); err != nil {
				return
			}
			callerID, _ := auth.UserID(c)
			status, err := op(h.svc, c.Request.Context(), c.Param("id"), callerID, req.Code)
			if err != nil {
				h.writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": status, "message": message(status)})
		}
	}
	g.POST("/:id/verify-pickup", verify(OrderService.VerifyPickup, func(s orders.Status) string {
		if s == orders.StatusActive {
			return "Handover confirmed. The return code was sent to the owner."
		}
		return "Handover confirmed. The item is marked as sold."
	}))
	g.POST("/:id/verify-return", verify(OrderService.VerifyReturn, func(orders.Status) string {
		return "Return confirmed. The rental is complete."
	}))

	resend := func(c *gin.Context) {
		callerID, _ := auth.UserID(c)
		if err := h.svc.ResendCode(c.Request.Context(), c.Param("id"), callerID); err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "The code has been re-sent to the registered email."})
	}
	g.POST("/:id/resend-code", resend)
	g.POST("/:id/resend-otp", resend)

	cancel := func(c *gin.Context) {
		callerID, _ := auth.UserID(c)
		if err := h.svc.CancelOrder(c.Request.Context(), c.Param("id"), callerID); err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Order cancelled."})
	}
	g.DELETE("/:id", cancel)
	g.DELETE("/:id/cancel", cancel)

	history := func(c *gin.Context) {
		callerID, _ := auth.UserID(c)
		entries, err := h.svc.GetHistory(c.Request.Context(), callerID)
		if err != nil {
			h.writeError(c, err)
			return
		}
		if entries == nil {
			entries = []handshake.HistoryEntry{}
		}
		c.JSON(http.StatusOK, entries)
	}
	g.GET("/history", history)
	g.GET("/history/me", history)
}

func (h *ordersHandler) createOrder(c *gin.Context, req validation.CreateOrderRequest) {
	ctx := c.Request.Context()
	buyerID, _ := auth.UserID(c)

	// optional; when present a retried request replays the first outcome
	idempKey := scopedIdempotencyKey(buyerID, c.GetHeader(IdempotencyKeyHeader))
	if idempKey != "" && h.replay(c, idempKey) {
		return
	}

	res, err := h.svc.CreateOrder(ctx, handshake.CreateOrderInput{
		ItemID:         req.ItemID,
		BuyerID:        buyerID,
		Type:           orders.TransactionType(req.TransactionType),
		Amount:         req.Amount,
		IdempotencyKey: idempKey,
	})
	if errors.Is(err, orders.ErrDuplicateRequest) && h.replay(c, idempKey) {
		// lost the race against a concurrent request with the same key
		return
	}
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := createOrderResponse{OrderID: res.OrderID, Message: res.Message}
	if idempKey != "" {
		body, _ := json.Marshal(resp)
		if err := h.idemp.MarkDone(ctx, idempKey, string(body), http.StatusCreated); err != nil {
			logger.For(ctx, h.log).Warn("mark idempotency done failed",
				zap.String("idempotency_key", idempKey), zap.Error(err))
		}
	}

	c.Header("Location", fmt.Sprintf("/orders/%s", res.OrderID))
	c.JSON(http.StatusCreated, resp)
}

// scopedIdempotencyKey prefixes the client key with the caller so two users sending the same
// key never share a record.
func scopedIdempotencyKey(callerID, key string) string {
	if key == "" {
		return ""
	}
	return callerID + ":" + key
}

// replay answers from an existing idempotency record. Returns false when there is none.
func (h *ordersHandler) replay(c *gin.Context, key string) bool {
	rec, err := h.idemp.Get(c.Request.Context(), key)
	if err != nil {
		h.writeError(c, apperr.Wrap(apperr.CodeInternal, err, "idempotency check failed"))
		return true
	}
	if rec == nil {
		return false
	}
	switch rec.Status {
	case idempotency.StatusDone:
		if rec.ResponseBody != "" && json.Valid([]byte(rec.ResponseBody)) {
			c.Data(rec.ResponseStatus, "application/json", []byte(rec.ResponseBody))
			return true
		}
		c.JSON(http.StatusOK, gin.H{"orderId": rec.OrderID})
	case idempotency.StatusInProgress:
		c.JSON(http.StatusAccepted, gin.H{"message": "request already in progress", "orderId": rec.OrderID})
	case idempotency.StatusFailed:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   apperr.CodeInternal,
			"message": "previous attempt failed",
			"orderId": rec.OrderID,
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": apperr.CodeInternal, "message": "unknown idempotency status"})
	}
	return true
}

// writeError maps err to its status. Domain messages are returned as-is; internal causes are not.
func (h *ordersHandler) writeError(c *gin.Context, err error) {
	code := apperr.CodeOf(err)
	md := apperr.MetadataFor(code)
	message := md.PublicMessage
	if te := apperr.As(err); te != nil && code != apperr.CodeInternal && code != apperr.CodeNotificationDelivery {
		message = te.Message()
	}

	log := logger.For(c.Request.Context(), h.log)
	if md.HTTPStatus >= http.StatusInternalServerError {
		log.Error("request failed", zap.String("code", string(code)), zap.Error(err))
	} else {
		log.Debug("request rejected", zap.String("code", string(code)), zap.Error(err))
	}
	c.JSON(md.HTTPStatus, gin.H{"error": code, "message": message})
}
