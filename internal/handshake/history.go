package handshake

import (
	"context"
	"time"

	"github.com/imrishuroy/campus-handshake/internal/apperr"
	"github.com/imrishuroy/campus-handshake/internal/orders"
	"github.com/imrishuroy/campus-handshake/internal/users"
)

// ItemSummary is the live listing behind an order, when it still exists.
type ItemSummary struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Image string `json:"image,omitempty"`
}

// HistoryEntry is an order as shown to one of its parties. Codes are never included.
type HistoryEntry struct {
	OrderID         string                 `json:"orderId"`
	Buyer           *users.User            `json:"buyer"`
	Seller          *users.User            `json:"seller"`
	Item            *ItemSummary           `json:"item"`
	Title           string                 `json:"title"`
	Image           string                 `json:"image"`
	Deposit         string                 `json:"deposit"`
	Amount          float64                `json:"amount"`
	TransactionType orders.TransactionType `json:"transactionType"`
	Status          orders.Status          `json:"status"`
	PickupVerified  bool                   `json:"pickupVerified"`
	ReturnVerified  *bool                  `json:"returnVerified,omitempty"`
	CreatedAt       time.Time              `json:"createdAt"`
	UpdatedAt       time.Time              `json:"updatedAt"`
}

// Visible reports whether o shows up in history at now. Pending orders older than window
// are hidden but kept.
func Visible(o orders.Order, now time.Time, window time.Duration) bool {
	switch o.Status {
	case orders.StatusActive, orders.StatusCompleted, orders.StatusCancelled:
		return true
	case orders.StatusPending:
		return !o.CreatedAt.Before(now.Add(-window))
	}
	return false
}

// GetHistory lists the orders where userID is buyer or seller, newest first.
func (s *Service) GetHistory(ctx context.Context, userID string) ([]HistoryEntry, error) {
	list, err := s.orders.ListByParty(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "list orders")
	}
	now := s.nowFunc()

	visible := list[:0]
	for _, o := range list {
		if Visible(o, now, s.pendingWindow) {
			visible = append(visible, o)
		}
	}
	orders.SortNewestFirst(visible)

	people := map[string]*users.User{}
	items := map[string]*ItemSummary{}
	lookupUser := func(id string) (*users.User, error) {
		if u, ok := people[id]; ok {
			return u, nil
		}
		u, err := s.users.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		people[id] = u
		return u, nil
	}
	lookupItem := func(id string) (*ItemSummary, error) {
		if id == "" {
			return nil, nil
		}
		if it, ok := items[id]; ok {
			return it, nil
		}
		it, err := s.items.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		var sum *ItemSummary
		if it != nil {
			sum = &ItemSummary{ID: it.ItemID, Title: it.Title, Image: it.FirstImage()}
		}
		items[id] = sum
		return sum, nil
	}

	out := make([]HistoryEntry, 0, len(visible))
	for _, o := range visible {
		buyer, err := lookupUser(o.BuyerID)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeInternal, err, "load buyer")
		}
		seller, err := lookupUser(o.SellerID)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeInternal, err, "load seller")
		}
		item, err := lookupItem(o.ItemID)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeInternal, err, "load item")
		}
		out = append(out, newHistoryEntry(o, buyer, seller, item))
	}
	return out, nil
}

func newHistoryEntry(o orders.Order, buyer, seller *users.User, item *ItemSummary) HistoryEntry {
	e := HistoryEntry{
		OrderID:         o.OrderID,
		Buyer:           buyer,
		Seller:          seller,
		Item:            item,
		Title:           o.Snapshot.Title,
		Image:           o.Snapshot.Image,
		Deposit:         o.Snapshot.Deposit,
		Amount:          o.Amount,
		TransactionType: o.TransactionType,
		Status:          o.Status,
		PickupVerified:  o.PickupCode.Verified,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
	if item != nil && item.Title != "" {
		e.Title = item.Title
	}
	if e.Title == "" {
		e.Title = "Your Item"
	}
	if o.ReturnCode != nil {
		v := o.ReturnCode.Verified
		e.ReturnVerified = &v
	}
	return e
}
