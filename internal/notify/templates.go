package notify

import (
	"fmt"
	"strconv"
	"strings"
)

// Details carries the values interpolated into handshake emails.
type Details struct {
	Title      string
	BuyerName  string
	SellerName string
	Code       string
	Deposit    string
	Type       string
	Amount     float64
}

func (d Details) title() string {
	if d.Title == "" {
		return "Your Item"
	}
	return d.Title
}

// Compose renders the subject and body for kind and addresses them to to.
func Compose(kind Kind, orderID, to string, d Details) Message {
	msg := Message{Kind: kind, OrderID: orderID, To: to}
	title := d.title()

	switch kind {
	case KindPickupCode:
		msg.Subject = "Pickup OTP for " + title
		msg.Body = fmt.Sprintf("Your Pickup OTP is: %s. Provide this to %s ONLY when you physically receive the item.\n\nRequired Deposit: %s",
			d.Code, d.SellerName, d.Deposit)
	case KindPickupCodeResent:
		msg.Subject = "RE-SENT: Pickup OTP for " + title
		msg.Body = fmt.Sprintf("Your Pickup OTP is: %s. Show this to the seller at meetup.", d.Code)
	case KindHandoverReceipt:
		msg.Subject = "Receipt - Handover Confirmed: " + title
		msg.Body = fmt.Sprintf("Hi %s, the handover for %q has been confirmed by the seller.\n\nTransaction Type: %s\nAmount Paid: ₹%s\n\nThank you for trading on campus!",
			d.BuyerName, title, strings.ToUpper(d.Type), formatAmount(d.Amount))
	case KindReturnCode:
		msg.Subject = "Return Handshake Code for " + title
		msg.Body = fmt.Sprintf("Item %q handed over to %s.\n\nIMPORTANT: When they return the item to you, give them this Return OTP: %s.",
			title, d.BuyerName, d.Code)
	case KindReturnCodeResent:
		msg.Subject = "RE-SENT: Return OTP for " + title
		msg.Body = fmt.Sprintf("Your Return OTP is: %s. Give this to the buyer when they return your item.", d.Code)
	case KindItemSold:
		msg.Subject = "Success! Item Sold: " + title
		msg.Body = fmt.Sprintf("Congratulations! Your item %q has been marked as SOLD to %s.\n\nThis item has been removed from the public listings. You can still view the transaction details in your History page.",
			title, d.BuyerName)
	case KindReturnCompleted:
		msg.Subject = "Return Confirmed: " + title
		msg.Body = fmt.Sprintf("The rental of %q between %s and %s is complete. The item is listed as available again.",
			title, d.BuyerName, d.SellerName)
	case KindOrderCancelled:
		msg.Subject = "Order Cancelled: " + title
		msg.Body = fmt.Sprintf("The pending order for %q has been cancelled. No handover will take place.", title)
	default:
		msg.Subject = "Order update: " + title
	}
	msg.Subject = singleLine(msg.Subject)
	return msg
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// singleLine folds CR and LF into spaces; titles are user input and end up in mail headers.
func singleLine(s string) string {
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool { return r == '\r' || r == '\n' }), " ")
}
