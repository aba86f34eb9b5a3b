package escrow_test

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/escrowflow/internal/clock"
	"github.com/joao-fontenele/escrowflow/internal/domain"
	"github.com/joao-fontenele/escrowflow/internal/escrow"
	"github.com/joao-fontenele/escrowflow/internal/ledger"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func paidOrder(t *testing.T, items []domain.LineItem) (*domain.Order, *domain.PaymentIntent) {
	t.Helper()
	order, err := domain.NewOrder("order-1", "buyer-1", "usd", items, nil, t0)
	require.NoError(t, err)
	intent := domain.NewPaymentIntent("intent-1", order, "ref-1", t0)
	intent.Status = domain.IntentStatusSucceeded
	return order, intent
}

func TestSplit(t *testing.T) {
	t.Run("two sellers", func(t *testing.T) {
		order, intent := paidOrder(t, []domain.LineItem{
			{ProductID: "acct-1", SellerID: "seller-a", Price: 3000},
			{ProductID: "acct-2", SellerID: "seller-b", Price: 7000},
		})

		holds, err := escrow.Split(order, intent, t0, escrow.DefaultProtectionWindow)
		require.NoError(t, err)
		require.Len(t, holds, 2)

		assert.Equal(t, "seller-a", holds[0].SellerID)
		assert.Equal(t, int64(3000), holds[0].Amount)
		assert.Equal(t, "seller-b", holds[1].SellerID)
		assert.Equal(t, int64(7000), holds[1].Amount)
		for _, h := range holds {
			assert.Equal(t, domain.HoldStatusHeld, h.Status)
			assert.Equal(t, "buyer-1", h.BuyerID)
			assert.Equal(t, t0.Add(7*24*time.Hour), h.HeldUntil)
		}
	})

	t.Run("groups a seller's items in first-appearance order", func(t *testing.T) {
		order, intent := paidOrder(t, []domain.LineItem{
			{ProductID: "acct-1", SellerID: "seller-b", Price: 1},
			{ProductID: "acct-2", SellerID: "seller-a", Price: 10},
			{ProductID: "acct-3", SellerID: "seller-b", Price: 100},
		})

		holds, err := escrow.Split(order, intent, t0, time.Hour)
		require.NoError(t, err)
		require.Len(t, holds, 2)
		assert.Equal(t, "seller-b", holds[0].SellerID)
		assert.Equal(t, int64(101), holds[0].Amount)
		assert.Equal(t, 0, holds[0].Position)
		assert.Equal(t, "seller-a", holds[1].SellerID)
		assert.Equal(t, int64(10), holds[1].Amount)
		assert.Equal(t, 1, holds[1].Position)
	})

	t.Run("rejects an unpaid intent", func(t *testing.T) {
		order, intent := paidOrder(t, []domain.LineItem{{ProductID: "acct-1", SellerID: "seller-a", Price: 500}})
		intent.Status = domain.IntentStatusPending

		_, err := escrow.Split(order, intent, t0, time.Hour)
		assert.ErrorIs(t, err, domain.ErrInvariantViolation)
	})

	t.Run("rejects an amount mismatch", func(t *testing.T) {
		order, intent := paidOrder(t, []domain.LineItem{{ProductID: "acct-1", SellerID: "seller-a", Price: 500}})
		intent.Amount = 499

		_, err := escrow.Split(order, intent, t0, time.Hour)
		assert.ErrorIs(t, err, domain.ErrInvariantViolation)
	})
}

func TestSplitPartitionsExactly(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 200; run++ {
		sellers := 1 + rng.Intn(6)
		n := 1 + rng.Intn(12)
		items := make([]domain.LineItem, n)
		for i := range items {
			items[i] = domain.LineItem{
				ProductID: fmt.Sprintf("acct-%d", i),
				SellerID:  fmt.Sprintf("seller-%d", rng.Intn(sellers)),
				Price:     1 + rng.Int63n(1_000_000),
			}
		}
		order, intent := paidOrder(t, items)

		holds, err := escrow.Split(order, intent, t0, time.Hour)
		require.NoError(t, err)

		distinct := make(map[string]bool)
		for _, item := range items {
			distinct[item.SellerID] = true
		}
		require.Len(t, holds, len(distinct), "one hold per seller")

		var sum int64
		for _, h := range holds {
			sum += h.Amount
		}
		require.Equal(t, intent.Amount, sum, "run %d", run)
	}
}

func newAllocator(store *ledger.MemoryStore, c clock.Clock) *escrow.Allocator {
	n := 0
	return escrow.NewAllocator(store,
		escrow.WithClock(c),
		escrow.WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("hold-%d", n)
		}),
	)
}

func TestAllocateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	alloc := newAllocator(store, clock.NewManual(t0))
	order, intent := paidOrder(t, []domain.LineItem{
		{ProductID: "acct-1", SellerID: "seller-a", Price: 3000},
		{ProductID: "acct-2", SellerID: "seller-b", Price: 7000},
	})

	first, err := alloc.Allocate(ctx, order, intent)
	require.NoError(t, err)
	second, err := alloc.Allocate(ctx, order, intent)
	require.NoError(t, err)

	assert.Equal(t, first, second)

	stored, err := store.HoldsForOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestResolve(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*escrow.Allocator, *ledger.MemoryStore, []domain.EscrowHold) {
		t.Helper()
		store := ledger.NewMemoryStore()
		alloc := newAllocator(store, clock.NewManual(t0))
		order, intent := paidOrder(t, []domain.LineItem{{ProductID: "acct-1", SellerID: "seller-a", Price: 5000}})
		holds, err := alloc.Allocate(ctx, order, intent)
		require.NoError(t, err)
		return alloc, store, holds
	}

	t.Run("held to released", func(t *testing.T) {
		alloc, _, holds := setup(t)

		hold, err := alloc.Resolve(ctx, holds[0].ID, domain.HoldStatusReleased)
		require.NoError(t, err)
		assert.Equal(t, domain.HoldStatusReleased, hold.Status)
		require.NotNil(t, hold.ResolvedAt)
	})

	t.Run("refund after release fails and keeps released", func(t *testing.T) {
		alloc, store, holds := setup(t)

		_, err := alloc.Resolve(ctx, holds[0].ID, domain.HoldStatusReleased)
		require.NoError(t, err)

		_, err = alloc.Resolve(ctx, holds[0].ID, domain.HoldStatusRefunded)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		stored, err := store.GetHold(ctx, holds[0].ID)
		require.NoError(t, err)
		assert.Equal(t, domain.HoldStatusReleased, stored.Status)
	})

	t.Run("held is not an outcome", func(t *testing.T) {
		alloc, _, holds := setup(t)

		_, err := alloc.Resolve(ctx, holds[0].ID, domain.HoldStatusHeld)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("unknown hold", func(t *testing.T) {
		alloc, _, _ := setup(t)

		_, err := alloc.Resolve(ctx, "missing", domain.HoldStatusReleased)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestOpenDispute(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	clk := clock.NewManual(t0)
	alloc := newAllocator(store, clk)
	order, intent := paidOrder(t, []domain.LineItem{{ProductID: "acct-1", SellerID: "seller-a", Price: 5000}})
	holds, err := alloc.Allocate(ctx, order, intent)
	require.NoError(t, err)

	clk.Advance(time.Hour)
	hold, err := alloc.OpenDispute(ctx, holds[0].ID, "  credentials do not work ")
	require.NoError(t, err)
	assert.True(t, hold.Disputed())
	assert.Equal(t, "credentials do not work", hold.DisputeReason)

	_, err = alloc.OpenDispute(ctx, holds[0].ID, "again")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	clk.Advance(escrow.DefaultProtectionWindow)
	expired, err := store.ExpiredHolds(ctx, clk.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, expired, "disputed holds never auto-release")
}
