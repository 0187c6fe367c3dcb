package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/smtp"
	"strings"
	"testing"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/imrishuroy/campus-handshake/internal/aws"
	"github.com/imrishuroy/campus-handshake/internal/aws/awstest"
	"github.com/imrishuroy/campus-handshake/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompose_PickupCode(t *testing.T) {
	msg := Compose(KindPickupCode, "o1", "buyer@campus.edu", Details{
		Title: "Calculus", SellerName: "Ravi", Code: "123456", Deposit: "None",
	})
	assert.Equal(t, "Pickup OTP for Calculus", msg.Subject)
	assert.Contains(t, msg.Body, "Your Pickup OTP is: 123456.")
	assert.Contains(t, msg.Body, "Provide this to Ravi ONLY")
	assert.Contains(t, msg.Body, "Required Deposit: None")
	assert.Equal(t, "o1", msg.OrderID)
}

func TestCompose_Receipt(t *testing.T) {
	msg := Compose(KindHandoverReceipt, "o1", "b@x", Details{Title: "Lab Coat", BuyerName: "Asha", Type: "rent", Amount: 120.5})
	assert.Equal(t, "Receipt - Handover Confirmed: Lab Coat", msg.Subject)
	assert.Contains(t, msg.Body, "Transaction Type: RENT")
	assert.Contains(t, msg.Body, "Amount Paid: ₹120.5")
}

func TestCompose_ResentPrefixAndTitleFallback(t *testing.T) {
	assert.Equal(t, "RE-SENT: Pickup OTP for Your Item", Compose(KindPickupCodeResent, "", "a@b", Details{}).Subject)
	assert.Equal(t, "RE-SENT: Return OTP for Drafter", Compose(KindReturnCodeResent, "", "a@b", Details{Title: "Drafter"}).Subject)
}

func TestDecode(t *testing.T) {
	msg := Compose(KindItemSold, "o9", "s@x", Details{Title: "Bike", BuyerName: "Asha"})
	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	got, err := Decode(string(raw))
	require.NoError(t, err)
	assert.Equal(t, msg, got)

	envelope, err := json.Marshal(map[string]string{"Type": "Notification", "Message": string(raw)})
	require.NoError(t, err)
	got, err = Decode(string(envelope))
	require.NoError(t, err)
	assert.Equal(t, msg, got)

	_, err = Decode("not json")
	assert.Error(t, err)

	_, err = Decode(`{"kind":"item_sold","subject":"x"}`)
	assert.ErrorIs(t, err, ErrNoRecipient)
}

func TestQueueNotifier(t *testing.T) {
	fake := &awstest.FakeSQS{}
	n := NewQueueNotifier(aws.NewPublisher(fake, "https://sqs.local/queue"))
	msg := Compose(KindPickupCode, "o1", "b@x", Details{Code: "111111"})

	require.NoError(t, n.Notify(context.Background(), msg))
	require.Len(t, fake.Sent, 1)
	assert.Equal(t, "pickup_code", sdkaws.ToString(fake.Sent[0].MessageAttributes["kind"].StringValue))

	got, err := Decode(sdkaws.ToString(fake.Sent[0].MessageBody))
	require.NoError(t, err)
	assert.Equal(t, msg, got)

	fake.Err = errors.New("queue down")
	assert.Error(t, n.Notify(context.Background(), msg))
	assert.ErrorIs(t, n.Notify(context.Background(), Message{Subject: "x"}), ErrNoRecipient)
}

func TestTopicNotifier(t *testing.T) {
	fake := &awstest.FakeSNS{}
	n := NewTopicNotifier(fake, "arn:aws:sns:us-east-1:000000000000:handshake")
	msg := Compose(KindOrderCancelled, "o1", "s@x", Details{Title: "Bike"})

	require.NoError(t, n.Notify(context.Background(), msg))
	require.Len(t, fake.Published, 1)
	got, err := Decode(sdkaws.ToString(fake.Published[0].Message))
	require.NoError(t, err)
	assert.Equal(t, msg, got)

	assert.Error(t, NewTopicNotifier(fake, "").Notify(context.Background(), msg))
}

func TestSMTPSender(t *testing.T) {
	_, err := NewSMTPSender(config.SMTPConfig{})
	require.Error(t, err)

	s, err := NewSMTPSender(config.SMTPConfig{Host: "smtp.local", Port: "2525", Username: "bot@campus.edu", Password: "pw"})
	require.NoError(t, err)

	var gotAddr, gotFrom string
	var gotTo []string
	var gotRaw []byte
	s.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotRaw = addr, from, to, msg
		return nil
	}

	msg := Compose(KindReturnCode, "o1", "seller@campus.edu", Details{Title: "Drafter", BuyerName: "Asha", Code: "222222"})
	require.NoError(t, s.Notify(context.Background(), msg))
	assert.Equal(t, "smtp.local:2525", gotAddr)
	assert.Equal(t, "bot@campus.edu", gotFrom)
	assert.Equal(t, []string{"seller@campus.edu"}, gotTo)
	assert.True(t, strings.Contains(string(gotRaw), "Subject: Return Handshake Code for Drafter\r\n"))
	assert.True(t, strings.HasSuffix(string(gotRaw), msg.Body))

	s.sendMail = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("421 try later") }
	assert.Error(t, s.Notify(context.Background(), msg))
}

func TestSMTPSender_HeadersStaySingleLine(t *testing.T) {
	s, err := NewSMTPSender(config.SMTPConfig{Host: "smtp.local", Port: "2525", Username: "bot@campus.edu", Password: "pw"})
	require.NoError(t, err)
	var raw string
	s.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		raw = string(msg)
		return nil
	}

	msg := Compose(KindPickupCode, "o1", "asha@campus.edu", Details{Title: "Calc\r\nBcc: attacker@evil", Code: "111111"})
	assert.Equal(t, "Pickup OTP for Calc Bcc: attacker@evil", msg.Subject)
	require.NoError(t, s.Notify(context.Background(), msg))
	headers := raw[:strings.Index(raw, "\r\n\r\n")]
	assert.NotContains(t, headers, "\r\nBcc:")
	assert.Contains(t, headers, "Subject: Pickup OTP for Calc Bcc: attacker@evil\r\n")

	// messages decoded from the queue skip Compose
	queued := Message{Kind: KindItemSold, To: "ravi@campus.edu", Subject: "Sold\nBcc: x@y", Body: "b"}
	require.NoError(t, s.Notify(context.Background(), queued))
	headers = raw[:strings.Index(raw, "\r\n\r\n")]
	assert.NotContains(t, headers, "\nBcc:")

	// non-ASCII titles are encoded
	require.NoError(t, s.Notify(context.Background(), Compose(KindItemSold, "o2", "ravi@campus.edu", Details{Title: "Café table"})))
	assert.Contains(t, raw, "Subject: =?utf-8?q?")

	bad := Message{Kind: KindItemSold, To: "ravi@campus.edu\r\nBcc: x@y", Subject: "s"}
	assert.ErrorIs(t, s.Notify(context.Background(), bad), ErrBadRecipient)
}
