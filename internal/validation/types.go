package validation

// CreateOrderRequest is the payload for POST /orders
type CreateOrderRequest struct {
	ItemID          string  `json:"itemId" validate:"required"` // listing to buy or rent
	TransactionType string  `json:"transactionType" validate:"required,oneof=sale rent"`
	Amount          float64 `json:"amount" validate:"gte=0"` // agreed price, display only
}

// VerifyCodeRequest is the payload for verify-pickup and verify-return. A code of the wrong
// shape is left to the handshake, which answers INVALID_CODE like any other mismatch.
type VerifyCodeRequest struct {
	Code string `json:"code" validate:"required"`
}
