package orders

import (
	"errors"
	"time"
)

// Status is the lifecycle state of an order.
type Status string

// Order statuses
const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further change is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// TransactionType distinguishes a sale from a rental.
type TransactionType string

const (
	TypeSale TransactionType = "sale"
	TypeRent TransactionType = "rent"
)

func (t TransactionType) Valid() bool {
	return t == TypeSale || t == TypeRent
}

// HandshakeCode is a one-time code and whether it has been recited back.
type HandshakeCode struct {
	Value    string `dynamodbav:"value"`
	Verified bool   `dynamodbav:"verified"`
}

// Snapshot holds item display values copied at creation; never re-derived.
type Snapshot struct {
	Title   string `dynamodbav:"title"`
	Image   string `dynamodbav:"image"`
	Deposit string `dynamodbav:"deposit"`
}

// NoDeposit is the deposit description used when none applies.
const NoDeposit = "None"

// Order represents the item stored in the Orders DynamoDB table.
type Order struct {
	OrderID         string          `dynamodbav:"order_id"`  // PK
	BuyerID         string          `dynamodbav:"buyer_id"`  // GSI buyer_id-index
	SellerID        string          `dynamodbav:"seller_id"` // GSI seller_id-index
	ItemID          string          `dynamodbav:"item_id,omitempty"`
	Snapshot        Snapshot        `dynamodbav:"snapshot"`
	Amount          float64         `dynamodbav:"amount"`
	TransactionType TransactionType `dynamodbav:"transaction_type"`
	Status          Status          `dynamodbav:"status"`
	PickupCode      HandshakeCode   `dynamodbav:"pickup_code"`
	ReturnCode      *HandshakeCode  `dynamodbav:"return_code,omitempty"` // rent only
	CreatedAt       time.Time       `dynamodbav:"created_at"`
	UpdatedAt       time.Time       `dynamodbav:"updated_at"`
}

// Clone returns a deep copy.
func (o Order) Clone() Order {
	c := o
	if o.ReturnCode != nil {
		rc := *o.ReturnCode
		c.ReturnCode = &rc
	}
	return c
}

// IsParty reports whether userID is the buyer or the seller.
func (o Order) IsParty(userID string) bool {
	return userID != "" && (userID == o.BuyerID || userID == o.SellerID)
}

var (
	ErrReturnCodeMismatch = errors.New("return code must be present exactly for rent orders")
	ErrPickupNotVerified  = errors.New("pickup code must be verified once the order left pending")
	ErrReturnNotVerified  = errors.New("completed rent order must have a verified return code")
	ErrSaleActive         = errors.New("sale orders never become active")
	ErrUnknownStatus      = errors.New("unknown status")
	ErrUnknownType        = errors.New("unknown transaction type")
)

// CheckInvariants validates the structural rules every persisted order obeys.
func (o Order) CheckInvariants() error {
	if !o.Status.Valid() {
		return ErrUnknownStatus
	}
	if !o.TransactionType.Valid() {
		return ErrUnknownType
	}
	if (o.ReturnCode != nil) != (o.TransactionType == TypeRent) {
		return ErrReturnCodeMismatch
	}
	if (o.Status == StatusActive || o.Status == StatusCompleted) && !o.PickupCode.Verified {
		return ErrPickupNotVerified
	}
	if o.TransactionType == TypeSale && o.Status == StatusActive {
		return ErrSaleActive
	}
	if o.TransactionType == TypeRent && o.Status == StatusCompleted && !o.ReturnCode.Verified {
		return ErrReturnNotVerified
	}
	return nil
}
