package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/imrishuroy/campus-handshake/internal/aws/awstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	ordersTable = "orders"
	idempTable  = "idempotency"
)

var testNow = time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*Store, *awstest.FakeDynamo) {
	t.Helper()
	fake := awstest.NewFakeDynamo()
	fake.CreateTable(ordersTable, "order_id")
	fake.CreateTable(idempTable, "idempotency_key")
	s := NewStore(fake, ordersTable, idempTable, 24*time.Hour)
	s.nowFunc = func() time.Time { return testNow }
	return s, fake
}

func rentOrder(id string) Order {
	return Order{
		OrderID:         id,
		BuyerID:         "buyer-1",
		SellerID:        "seller-1",
		ItemID:          "item-1",
		Snapshot:        Snapshot{Title: "Calculus", Image: "https://img/1.png", Deposit: "500"},
		Amount:          120,
		TransactionType: TypeRent,
		Status:          StatusPending,
		PickupCode:      HandshakeCode{Value: "123456"},
		ReturnCode:      &HandshakeCode{Value: "654321"},
	}
}

func TestCreateAndGet(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, rentOrder("order-1"), ""))
	assert.Equal(t, 1, fake.Calls("PutItem"))

	got, err := s.Get(ctx, "order-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, "Calculus", got.Snapshot.Title)
	require.NotNil(t, got.ReturnCode)
	assert.Equal(t, "654321", got.ReturnCode.Value)
	assert.True(t, got.CreatedAt.Equal(testNow))
	assert.True(t, got.UpdatedAt.Equal(testNow))
}

func TestCreate_ExistingOrder(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, rentOrder("order-1"), ""))
	err := s.Create(ctx, rentOrder("order-1"), "")
	assert.ErrorIs(t, err, ErrOrderExists)
}

func TestGet_NotFound(t *testing.T) {
	s, _ := newTestStore(t)
	got, err := s.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCreateWithIdempotencyKey(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, rentOrder("order-1"), "key-1"))
	assert.Equal(t, 1, fake.Calls("TransactWriteItems"))
	assert.NotNil(t, fake.Item(ordersTable, "order-1"))
	assert.NotNil(t, fake.Item(idempTable, "key-1"))

	// reusing the key must not create a second order
	err := s.Create(ctx, rentOrder("order-2"), "key-1")
	assert.ErrorIs(t, err, ErrDuplicateRequest)
	assert.Nil(t, fake.Item(ordersTable, "order-2"))
	assert.Equal(t, 1, fake.Len(ordersTable))
}

func TestDelete(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, rentOrder("order-1"), "key-1"))
	require.NoError(t, s.Delete(ctx, "order-1", "key-1"))
	assert.Equal(t, 0, fake.Len(ordersTable))
	assert.Equal(t, 0, fake.Len(idempTable))

	require.NoError(t, s.Create(ctx, rentOrder("order-2"), ""))
	require.NoError(t, s.Delete(ctx, "order-2", ""))
	assert.Equal(t, 0, fake.Len(ordersTable))
}

func TestTransition_ConditionSuccessAndFail(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, rentOrder("order-10"), ""))

	cur, err := s.Get(ctx, "order-10")
	require.NoError(t, err)

	next := cur.Clone()
	next.Status = StatusActive
	next.PickupCode.Verified = true
	_, err = s.Transition(ctx, next, StatusPending)
	require.NoError(t, err)

	stored, err := s.Get(ctx, "order-10")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, stored.Status)
	assert.True(t, stored.PickupCode.Verified)
	assert.False(t, stored.ReturnCode.Verified)
	assert.Equal(t, cur.Snapshot, stored.Snapshot)
	assert.Equal(t, cur.Amount, stored.Amount)

	// stale expectation loses
	stale := cur.Clone()
	stale.Status = StatusCancelled
	_, err = s.Transition(ctx, stale, StatusPending)
	assert.ErrorIs(t, err, ErrStatusMismatch)

	stored, err = s.Get(ctx, "order-10")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, stored.Status)
}

func TestTransition_ConcurrentWritersOneWins(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, rentOrder("order-race"), ""))
	cur, err := s.Get(ctx, "order-race")
	require.NoError(t, err)

	var wins, losses int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next := cur.Clone()
			next.Status = StatusActive
			next.PickupCode.Verified = true
			_, err := s.Transition(ctx, next, StatusPending)
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case errors.Is(err, ErrStatusMismatch):
				atomic.AddInt32(&losses, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
	assert.Equal(t, int32(7), losses)
}

func TestTransition_PropagatesStorageErrors(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, rentOrder("order-1"), ""))

	fake.FailNext("UpdateItem", errors.New("throttled"))
	next := rentOrder("order-1")
	next.Status = StatusCancelled
	_, err := s.Transition(ctx, next, StatusPending)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrStatusMismatch)
}

func TestListByParty_MergesPagesAndSorts(t *testing.T) {
	s, fake := newTestStore(t)
	fake.QueryPageSize = 2
	ctx := context.Background()

	seed := func(id, buyer, seller string, created time.Time) {
		o := rentOrder(id)
		o.BuyerID, o.SellerID = buyer, seller
		o.CreatedAt, o.UpdatedAt = created, created
		item, err := attributevalue.MarshalMap(o)
		require.NoError(t, err)
		fake.Seed(ordersTable, item)
	}
	for i := 0; i < 5; i++ {
		seed(fmt.Sprintf("as-buyer-%d", i), "u1", "other", testNow.Add(time.Duration(i)*time.Hour))
	}
	seed("as-seller", "other", "u1", testNow.Add(-time.Hour))
	seed("self-deal", "u1", "u1", testNow.Add(10*time.Hour))
	seed("unrelated", "x", "y", testNow)

	list, err := s.ListByParty(ctx, "u1")
	require.NoError(t, err)

	ids := make([]string, 0, len(list))
	for _, o := range list {
		ids = append(ids, o.OrderID)
	}
	assert.Equal(t, []string{
		"self-deal", "as-buyer-4", "as-buyer-3", "as-buyer-2", "as-buyer-1", "as-buyer-0", "as-seller",
	}, ids)
	assert.Greater(t, fake.Calls("Query"), 2)
}

func TestCheckInvariants(t *testing.T) {
	sale := rentOrder("s")
	sale.TransactionType = TypeSale
	sale.ReturnCode = nil

	activeSale := sale.Clone()
	activeSale.Status = StatusActive
	activeSale.PickupCode.Verified = true

	unverifiedActive := rentOrder("r")
	unverifiedActive.Status = StatusActive

	completedRent := rentOrder("r2")
	completedRent.Status = StatusCompleted
	completedRent.PickupCode.Verified = true

	saleWithReturn := sale.Clone()
	saleWithReturn.ReturnCode = &HandshakeCode{Value: "111111"}

	tests := []struct {
		name  string
		order Order
		want  error
	}{
		{"pending rent", rentOrder("ok"), nil},
		{"pending sale", sale, nil},
		{"sale with return code", saleWithReturn, ErrReturnCodeMismatch},
		{"active sale", activeSale, ErrSaleActive},
		{"active without pickup", unverifiedActive, ErrPickupNotVerified},
		{"completed rent without return", completedRent, ErrReturnNotVerified},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.order.CheckInvariants()
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}
