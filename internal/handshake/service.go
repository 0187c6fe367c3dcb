package handshake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imrishuroy/campus-handshake/internal/apperr"
	"github.com/imrishuroy/campus-handshake/internal/catalog"
	"github.com/imrishuroy/campus-handshake/internal/codes"
	"github.com/imrishuroy/campus-handshake/internal/logger"
	"github.com/imrishuroy/campus-handshake/internal/metrics"
	"github.com/imrishuroy/campus-handshake/internal/notify"
	"github.com/imrishuroy/campus-handshake/internal/orders"
	"github.com/imrishuroy/campus-handshake/internal/users"
)

// DefaultPendingWindow is how long a pending order stays visible in history.
const DefaultPendingWindow = 7 * 24 * time.Hour

// Repository persists orders. Transition must be a compare-and-set on the status.
type Repository interface {
	Create(ctx context.Context, order orders.Order, idempotencyKey string) error
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	Delete(ctx context.Context, orderID, idempotencyKey string) error
	Transition(ctx context.Context, next orders.Order, expected orders.Status) (orders.Order, error)
	ListByParty(ctx context.Context, userID string) ([]orders.Order, error)
}

// Catalog reads listings and toggles their availability. SetAvailable on a missing item is a no-op.
type Catalog interface {
	Get(ctx context.Context, itemID string) (*catalog.Item, error)
	SetAvailable(ctx context.Context, itemID string, available bool) error
}

// Directory resolves user ids; Get returns (nil, nil) for unknown users.
type Directory interface {
	Get(ctx context.Context, userID string) (*users.User, error)
}

// Deps wires a Service.
type Deps struct {
	Orders        Repository
	Items         Catalog
	Users         Directory
	Notifier      notify.Notifier
	Metrics       metrics.Recorder
	Logger        *zap.Logger
	PendingWindow time.Duration
}

// Service runs handshake operations: load, authorize, check, persist with compare-and-set,
// then execute the transition's effects.
type Service struct {
	orders        Repository
	items         Catalog
	users         Directory
	notifier      notify.Notifier
	metrics       metrics.Recorder
	log           *zap.Logger
	pendingWindow time.Duration

	nowFunc func() time.Time
	newCode func() string
	newID   func() string
}

func NewService(d Deps) *Service {
	s := &Service{
		orders:        d.Orders,
		items:         d.Items,
		users:         d.Users,
		notifier:      d.Notifier,
		metrics:       d.Metrics,
		log:           d.Logger,
		pendingWindow: d.PendingWindow,
		nowFunc:       time.Now,
		newCode:       codes.Generate,
		newID:         uuid.NewString,
	}
	if s.metrics == nil {
		s.metrics = metrics.Nop{}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.pendingWindow <= 0 {
		s.pendingWindow = DefaultPendingWindow
	}
	return s
}

// CreateOrderInput is a buyer's request to buy or rent an item.
type CreateOrderInput struct {
	ItemID         string
	BuyerID        string
	Type           orders.TransactionType
	Amount         float64
	IdempotencyKey string
}

// CreateOrderResult never carries the codes; they only travel by email.
type CreateOrderResult struct {
	OrderID string
	Message string
}

// CreateOrder stores a pending order and emails the pickup code to the buyer. If that email
// cannot be handed off the order is removed again and NOTIFICATION_DELIVERY is returned.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (CreateOrderResult, error) {
	log := logger.For(ctx, s.log)

	if !in.Type.Valid() {
		return CreateOrderResult{}, apperr.Newf(apperr.CodeValidation, "unknown transaction type %q", in.Type)
	}
	item, err := s.items.Get(ctx, in.ItemID)
	if err != nil {
		return CreateOrderResult{}, apperr.Wrap(apperr.CodeInternal, err, "load item")
	}
	if item == nil {
		return CreateOrderResult{}, apperr.New(apperr.CodeNotFound, "item not found")
	}
	buyer, err := s.users.Get(ctx, in.BuyerID)
	if err != nil {
		return CreateOrderResult{}, apperr.Wrap(apperr.CodeInternal, err, "load buyer")
	}
	if buyer == nil {
		return CreateOrderResult{}, apperr.New(apperr.CodeNotFound, "buyer not found")
	}
	sellerName := "the owner"
	if seller, err := s.users.Get(ctx, item.OwnerID); err == nil && seller != nil {
		sellerName = seller.Name
	}

	deposit := orders.NoDeposit
	if in.Type == orders.TypeRent {
		deposit = item.DepositDescription(orders.NoDeposit)
	}
	order := orders.Order{
		OrderID:         s.newID(),
		BuyerID:         in.BuyerID,
		SellerID:        item.OwnerID,
		ItemID:          item.ItemID,
		Snapshot:        orders.Snapshot{Title: item.Title, Image: item.FirstImage(), Deposit: deposit},
		Amount:          in.Amount,
		TransactionType: in.Type,
		Status:          orders.StatusPending,
		PickupCode:      orders.HandshakeCode{Value: s.newCode()},
		CreatedAt:       s.nowFunc(),
	}
	if in.Type == orders.TypeRent {
		order.ReturnCode = &orders.HandshakeCode{Value: s.newCode()}
	}

	if err := s.orders.Create(ctx, order, in.IdempotencyKey); err != nil {
		return CreateOrderResult{}, apperr.Wrap(apperr.CodeInternal, err, "create order")
	}

	msg := notify.Compose(notify.KindPickupCode, order.OrderID, buyer.Email, notify.Details{
		Title:      order.Snapshot.Title,
		SellerName: sellerName,
		Code:       order.PickupCode.Value,
		Deposit:    deposit,
	})
	if err := s.notifier.Notify(ctx, msg); err != nil {
		log.Warn("pickup code delivery failed, removing order",
			zap.String("order_id", order.OrderID), zap.Error(err))
		s.count(ctx, metrics.NotificationsFailed, map[string]string{"kind": string(msg.Kind)})
		if derr := s.orders.Delete(ctx, order.OrderID, in.IdempotencyKey); derr != nil {
			log.Error("rollback of undeliverable order failed",
				zap.String("order_id", order.OrderID), zap.Error(derr))
		}
		return CreateOrderResult{}, apperr.Wrap(apperr.CodeNotificationDelivery, err, "could not deliver the pickup code")
	}

	s.count(ctx, metrics.OrdersCreated, map[string]string{"type": string(order.TransactionType)})
	log.Info("order created",
		zap.String("order_id", order.OrderID),
		zap.String("item_id", order.ItemID),
		zap.String("type", string(order.TransactionType)))
	return CreateOrderResult{
		OrderID: order.OrderID,
		Message: "Order initiated. Pickup code sent to your email.",
	}, nil
}

// VerifyPickup confirms the handover. Returns the new status.
func (s *Service) VerifyPickup(ctx context.Context, orderID, callerID, code string) (orders.Status, error) {
	o, err := s.apply(ctx, orderID, func(o orders.Order) (Transition, error) {
		return Pickup(o, callerID, code)
	})
	if err != nil {
		return "", err
	}
	s.count(ctx, metrics.PickupsVerified, map[string]string{"type": string(o.TransactionType)})
	return o.Status, nil
}

// VerifyReturn confirms that a rented item came back. Returns the new status.
func (s *Service) VerifyReturn(ctx context.Context, orderID, callerID, code string) (orders.Status, error) {
	o, err := s.apply(ctx, orderID, func(o orders.Order) (Transition, error) {
		return Return(o, callerID, code)
	})
	if err != nil {
		return "", err
	}
	s.count(ctx, metrics.ReturnsVerified, nil)
	return o.Status, nil
}

// CancelOrder aborts a pending order.
func (s *Service) CancelOrder(ctx context.Context, orderID, callerID string) error {
	if _, err := s.apply(ctx, orderID, func(o orders.Order) (Transition, error) {
		return Cancel(o, callerID)
	}); err != nil {
		return err
	}
	s.count(ctx, metrics.OrdersCancelled, nil)
	return nil
}

// ResendCode re-delivers the code the order is waiting for. Delivery is the whole operation,
// so a failure is returned instead of swallowed.
func (s *Service) ResendCode(ctx context.Context, orderID, callerID string) error {
	o, err := s.load(ctx, orderID)
	if err != nil {
		return err
	}
	tr, err := Resend(*o, callerID)
	if err != nil {
		return err
	}
	ec := s.newEffectContext(*o)
	for _, eff := range tr.Effects {
		n, ok := eff.(Notify)
		if !ok {
			continue
		}
		if err := s.deliver(ctx, ec, n); err != nil {
			s.count(ctx, metrics.NotificationsFailed, map[string]string{"kind": string(n.Kind)})
			return apperr.Wrap(apperr.CodeNotificationDelivery, err, "could not re-send the code")
		}
	}
	s.count(ctx, metrics.CodesResent, nil)
	return nil
}

func (s *Service) load(ctx context.Context, orderID string) (*orders.Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "load order")
	}
	if o == nil {
		return nil, apperr.New(apperr.CodeNotFound, "order not found")
	}
	return o, nil
}

// apply runs one state-changing operation. Effects run only when this call won the
// compare-and-set, so a concurrent duplicate sees INVALID_STATE and triggers nothing.
func (s *Service) apply(ctx context.Context, orderID string, fn func(orders.Order) (Transition, error)) (orders.Order, error) {
	o, err := s.load(ctx, orderID)
	if err != nil {
		return orders.Order{}, err
	}
	tr, err := fn(*o)
	if err != nil {
		if errors.Is(err, apperr.ErrInvalidCode) {
			s.count(ctx, metrics.InvalidCodeAttempts, nil)
		}
		return orders.Order{}, err
	}

	saved, err := s.orders.Transition(ctx, tr.Next, tr.From)
	if errors.Is(err, orders.ErrStatusMismatch) {
		s.count(ctx, metrics.TransitionConflicts, nil)
		return orders.Order{}, apperr.Wrap(apperr.CodeInvalidState, err, "order was changed by another request")
	}
	if err != nil {
		return orders.Order{}, apperr.Wrap(apperr.CodeInternal, err, "save order")
	}

	logger.For(ctx, s.log).Info("order transitioned",
		zap.String("order_id", saved.OrderID),
		zap.String("from", string(tr.From)),
		zap.String("to", string(saved.Status)))
	s.runEffects(ctx, saved, tr.Effects)
	return saved, nil
}

// runEffects executes effects in order. Failures are logged and counted, never returned:
// the stored state is already authoritative.
func (s *Service) runEffects(ctx context.Context, o orders.Order, effects []Effect) {
	log := logger.For(ctx, s.log)
	ec := s.newEffectContext(o)
	for _, eff := range effects {
		var err error
		switch e := eff.(type) {
		case SetAvailability:
			err = s.items.SetAvailable(ctx, e.ItemID, e.Available)
		case Notify:
			err = s.deliver(ctx, ec, e)
			if err != nil {
				s.count(ctx, metrics.NotificationsFailed, map[string]string{"kind": string(e.Kind)})
			}
		}
		if err != nil {
			log.Warn("post-commit effect failed",
				zap.String("order_id", o.OrderID),
				zap.String("effect", fmt.Sprintf("%T", eff)),
				zap.Error(err))
			s.count(ctx, metrics.EffectFailures, nil)
		}
	}
}

// effectContext caches lookups shared by the effects of one operation.
type effectContext struct {
	order  orders.Order
	people map[string]*users.User
	title  string
}

func (s *Service) newEffectContext(o orders.Order) *effectContext {
	return &effectContext{order: o, people: map[string]*users.User{}}
}

func (s *Service) person(ctx context.Context, ec *effectContext, userID string) (*users.User, error) {
	if u, ok := ec.people[userID]; ok {
		return u, nil
	}
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	ec.people[userID] = u
	return u, nil
}

// displayTitle prefers the live listing title and falls back to the snapshot.
func (s *Service) displayTitle(ctx context.Context, ec *effectContext) string {
	if ec.title != "" {
		return ec.title
	}
	ec.title = ec.order.Snapshot.Title
	if ec.order.ItemID != "" {
		if it, err := s.items.Get(ctx, ec.order.ItemID); err == nil && it != nil && it.Title != "" {
			ec.title = it.Title
		}
	}
	return ec.title
}

func (s *Service) deliver(ctx context.Context, ec *effectContext, n Notify) error {
	o := ec.order
	buyer, err := s.person(ctx, ec, o.BuyerID)
	if err != nil {
		return fmt.Errorf("load buyer: %w", err)
	}
	seller, err := s.person(ctx, ec, o.SellerID)
	if err != nil {
		return fmt.Errorf("load seller: %w", err)
	}

	to := buyer
	if n.Recipient == Seller {
		to = seller
	}
	if to == nil {
		return fmt.Errorf("%s of order %s not found", n.Recipient, o.OrderID)
	}

	d := notify.Details{
		Title:   s.displayTitle(ctx, ec),
		Deposit: o.Snapshot.Deposit,
		Type:    string(o.TransactionType),
		Amount:  o.Amount,
	}
	if buyer != nil {
		d.BuyerName = buyer.Name
	}
	if seller != nil {
		d.SellerName = seller.Name
	}
	switch n.Kind {
	case notify.KindPickupCode, notify.KindPickupCodeResent:
		d.Code = o.PickupCode.Value
	case notify.KindReturnCode, notify.KindReturnCodeResent:
		if o.ReturnCode != nil {
			d.Code = o.ReturnCode.Value
		}
	}

	return s.notifier.Notify(ctx, notify.Compose(n.Kind, o.OrderID, to.Email, d))
}

func (s *Service) count(ctx context.Context, name string, dims map[string]string) {
	if err := s.metrics.RecordCount(ctx, name, dims); err != nil {
		logger.For(ctx, s.log).Debug("metric not recorded", zap.String("metric", name), zap.Error(err))
	}
}
