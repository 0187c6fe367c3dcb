// Package handshake implements the order handshake: a buyer and a seller confirm the physical
// handover (and, for rentals, the return) of an item by reciting one-time codes.
//
// The functions in this file are pure. Each takes the current order and returns the next
// state plus the side effects to run once that state has been persisted.
package handshake

import (
	"fmt"

	"github.com/imrishuroy/campus-handshake/internal/apperr"
	"github.com/imrishuroy/campus-handshake/internal/codes"
	"github.com/imrishuroy/campus-handshake/internal/notify"
	"github.com/imrishuroy/campus-handshake/internal/orders"
)

// AllowedTransitions lists the structurally valid status changes. Who may trigger each one
// is decided by the transition functions below.
var AllowedTransitions = map[orders.Status][]orders.Status{
	orders.StatusPending: {orders.StatusActive, orders.StatusCompleted, orders.StatusCancelled},
	orders.StatusActive:  {orders.StatusCompleted},
}

var allowedTransitionSet = buildTransitionSet(AllowedTransitions)

func buildTransitionSet(transitions map[orders.Status][]orders.Status) map[orders.Status]map[orders.Status]struct{} {
	set := make(map[orders.Status]map[orders.Status]struct{}, len(transitions))
	for from, tos := range transitions {
		next := make(map[orders.Status]struct{}, len(tos))
		for _, to := range tos {
			next[to] = struct{}{}
		}
		set[from] = next
	}
	return set
}

// CanTransition reports whether from -> to is a valid status change.
func CanTransition(from, to orders.Status) bool {
	next, ok := allowedTransitionSet[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// Recipient selects which party of an order a notification goes to.
type Recipient string

const (
	Buyer  Recipient = "buyer"
	Seller Recipient = "seller"
)

// Effect is a command executed after the new state is stored.
type Effect interface {
	isEffect()
}

// SetAvailability flips the listing flag of an item.
type SetAvailability struct {
	ItemID    string
	Available bool
}

// Notify sends a message of Kind to one party.
type Notify struct {
	Recipient Recipient
	Kind      notify.Kind
}

func (SetAvailability) isEffect() {}
func (Notify) isEffect()          {}

// Transition is the outcome of a successful transition function. From is the status the
// stored order must still have for Next to be written.
type Transition struct {
	From    orders.Status
	Next    orders.Order
	Effects []Effect
}

// Pickup is called by the seller with the code the buyer recited on handover.
func Pickup(o orders.Order, callerID, code string) (Transition, error) {
	if callerID != o.SellerID {
		return Transition{}, apperr.New(apperr.CodeForbidden, "only the seller can verify pickup")
	}
	if o.Status != orders.StatusPending {
		return Transition{}, apperr.Newf(apperr.CodeInvalidState, "order is %s, pickup can only be verified while pending", o.Status)
	}
	if !codes.Valid(code) || code != o.PickupCode.Value {
		return Transition{}, apperr.New(apperr.CodeInvalidCode, "invalid pickup code")
	}

	next := o.Clone()
	next.PickupCode.Verified = true
	next.Status = orders.StatusCompleted
	if o.TransactionType == orders.TypeRent {
		next.Status = orders.StatusActive
	}

	var effects []Effect
	if o.ItemID != "" {
		effects = append(effects, SetAvailability{ItemID: o.ItemID, Available: false})
	}
	effects = append(effects, Notify{Recipient: Buyer, Kind: notify.KindHandoverReceipt})
	if o.TransactionType == orders.TypeRent {
		effects = append(effects, Notify{Recipient: Seller, Kind: notify.KindReturnCode})
	} else {
		effects = append(effects, Notify{Recipient: Seller, Kind: notify.KindItemSold})
	}
	return build(o, next, effects)
}

// Return is called by the renter with the code the owner recited when taking the item back.
func Return(o orders.Order, callerID, code string) (Transition, error) {
	if callerID != o.BuyerID {
		return Transition{}, apperr.New(apperr.CodeForbidden, "only the buyer can verify the return")
	}
	if o.TransactionType != orders.TypeRent || o.Status != orders.StatusActive || o.ReturnCode == nil {
		return Transition{}, apperr.New(apperr.CodeInvalidState, "only active rent orders can be returned")
	}
	if !codes.Valid(code) || code != o.ReturnCode.Value {
		return Transition{}, apperr.New(apperr.CodeInvalidCode, "invalid return code")
	}

	next := o.Clone()
	next.ReturnCode.Verified = true
	next.Status = orders.StatusCompleted

	var effects []Effect
	if o.ItemID != "" {
		effects = append(effects, SetAvailability{ItemID: o.ItemID, Available: true})
	}
	effects = append(effects,
		Notify{Recipient: Buyer, Kind: notify.KindReturnCompleted},
		Notify{Recipient: Seller, Kind: notify.KindReturnCompleted},
	)
	return build(o, next, effects)
}

// Cancel aborts a pending order on behalf of either party.
func Cancel(o orders.Order, callerID string) (Transition, error) {
	if !o.IsParty(callerID) {
		return Transition{}, apperr.New(apperr.CodeForbidden, "only the buyer or the seller can cancel this order")
	}
	if o.Status != orders.StatusPending {
		return Transition{}, apperr.Newf(apperr.CodeInvalidState, "order is %s, only pending orders can be cancelled", o.Status)
	}

	next := o.Clone()
	next.Status = orders.StatusCancelled

	var effects []Effect
	if o.ItemID != "" {
		effects = append(effects, SetAvailability{ItemID: o.ItemID, Available: true})
	}
	other := Seller
	if callerID == o.SellerID && callerID != o.BuyerID {
		other = Buyer
	}
	effects = append(effects, Notify{Recipient: other, Kind: notify.KindOrderCancelled})
	return build(o, next, effects)
}

// Resend re-delivers whichever code the current status waits for. Nothing is persisted, so
// Next equals the input order.
func Resend(o orders.Order, callerID string) (Transition, error) {
	if !o.IsParty(callerID) {
		return Transition{}, apperr.New(apperr.CodeForbidden, "only the buyer or the seller can request a code")
	}
	var eff Notify
	switch {
	case o.Status == orders.StatusPending:
		eff = Notify{Recipient: Buyer, Kind: notify.KindPickupCodeResent}
	case o.Status == orders.StatusActive && o.TransactionType == orders.TypeRent && o.ReturnCode != nil:
		eff = Notify{Recipient: Seller, Kind: notify.KindReturnCodeResent}
	default:
		return Transition{}, apperr.Newf(apperr.CodeInvalidState, "nothing to resend for a %s %s order", o.Status, o.TransactionType)
	}
	return Transition{From: o.Status, Next: o.Clone(), Effects: []Effect{eff}}, nil
}

func build(cur, next orders.Order, effects []Effect) (Transition, error) {
	if !CanTransition(cur.Status, next.Status) {
		return Transition{}, apperr.Newf(apperr.CodeInvalidState, "transition %s -> %s is not allowed", cur.Status, next.Status)
	}
	if err := next.CheckInvariants(); err != nil {
		return Transition{}, apperr.Wrap(apperr.CodeInternal, err, fmt.Sprintf("order %s would break an invariant", cur.OrderID))
	}
	return Transition{From: cur.Status, Next: next, Effects: effects}, nil
}
