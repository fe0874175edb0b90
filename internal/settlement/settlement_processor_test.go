package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/clobx/exchange/internal/eventbus"
	"github.com/clobx/exchange/internal/store"
	"github.com/clobx/exchange/pkg/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	return store.NewMemoryStore(zap.NewNop())
}

func TestProcessor_ConfirmsSufficientBalance(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	bus := eventbus.NewMemoryBus(zap.NewNop())
	defer bus.Close()

	require.NoError(t, st.PutBalance(ctx, models.Balance{Address: "0xfrom", Asset: "USDC", Available: decimal.NewFromInt(100)}))

	settlementID := uuid.New()
	require.NoError(t, st.InsertSettlement(ctx, models.Settlement{
		ID:     settlementID,
		From:   "0xfrom",
		To:     "0xto",
		Amount: decimal.NewFromInt(40),
		Asset:  "USDC",
		Status: models.SettlementStatusPending,
	}))

	confirmed := make(chan struct{}, 1)
	require.NoError(t, bus.Subscribe(ctx, eventbus.TopicSettlementConfirmed, "test", func(ctx context.Context, payload []byte) error {
		confirmed <- struct{}{}
		return nil
	}))

	p := NewProcessor(st, bus, zap.NewNop(), time.Millisecond, 2*time.Millisecond, 1)
	defer p.Stop()
	require.NoError(t, p.Start(ctx))

	require.NoError(t, bus.Publish(ctx, eventbus.TopicSettlementRequests, settlementID.String(), eventbus.SettlementRequestedEvent{
		ID: settlementID.String(), From: "0xfrom", To: "0xto", Amount: "40", Asset: "USDC",
	}))

	select {
	case <-confirmed:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for settlement_confirmed event")
	}

	record, err := st.GetSettlement(ctx, settlementID)
	require.NoError(t, err)
	require.Equal(t, models.SettlementStatusConfirmed, record.Status)

	fromBal, err := st.GetBalance(ctx, "0xfrom", "USDC")
	require.NoError(t, err)
	require.True(t, fromBal.Available.Equal(decimal.NewFromInt(60)))

	toBal, err := st.GetBalance(ctx, "0xto", "USDC")
	require.NoError(t, err)
	require.True(t, toBal.Available.Equal(decimal.NewFromInt(40)))
}

func TestProcessor_FailsInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	bus := eventbus.NewMemoryBus(zap.NewNop())
	defer bus.Close()

	require.NoError(t, st.PutBalance(ctx, models.Balance{Address: "0xfrom", Asset: "USDC", Available: decimal.NewFromInt(10)}))

	settlementID := uuid.New()
	require.NoError(t, st.InsertSettlement(ctx, models.Settlement{
		ID:     settlementID,
		From:   "0xfrom",
		To:     "0xto",
		Amount: decimal.NewFromInt(40),
		Asset:  "USDC",
		Status: models.SettlementStatusPending,
	}))

	failed := make(chan struct{}, 1)
	require.NoError(t, bus.Subscribe(ctx, eventbus.TopicSettlementFailed, "test", func(ctx context.Context, payload []byte) error {
		failed <- struct{}{}
		return nil
	}))

	p := NewProcessor(st, bus, zap.NewNop(), time.Millisecond, 2*time.Millisecond, 1)
	defer p.Stop()
	require.NoError(t, p.Start(ctx))

	require.NoError(t, bus.Publish(ctx, eventbus.TopicSettlementRequests, settlementID.String(), eventbus.SettlementRequestedEvent{
		ID: settlementID.String(), From: "0xfrom", To: "0xto", Amount: "40", Asset: "USDC",
	}))

	select {
	case <-failed:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for settlement_failed event")
	}

	record, err := st.GetSettlement(ctx, settlementID)
	require.NoError(t, err)
	require.Equal(t, models.SettlementStatusFailed, record.Status)

	fromBal, err := st.GetBalance(ctx, "0xfrom", "USDC")
	require.NoError(t, err)
	require.True(t, fromBal.Available.Equal(decimal.NewFromInt(10)))
}

func TestProcessor_IdempotentOnRedelivery(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	bus := eventbus.NewMemoryBus(zap.NewNop())
	defer bus.Close()

	settlementID := uuid.New()
	now := time.Now().UTC()
	require.NoError(t, st.InsertSettlement(ctx, models.Settlement{
		ID:          settlementID,
		From:        "0xfrom",
		To:          "0xto",
		Amount:      decimal.NewFromInt(40),
		Asset:       "USDC",
		Status:      models.SettlementStatusConfirmed,
		ConfirmedAt: &now,
	}))

	p := NewProcessor(st, bus, zap.NewNop(), time.Millisecond, 2*time.Millisecond, 1)
	defer p.Stop()
	require.NoError(t, p.Start(ctx))

	require.NoError(t, bus.Publish(ctx, eventbus.TopicSettlementRequests, settlementID.String(), eventbus.SettlementRequestedEvent{
		ID: settlementID.String(), From: "0xfrom", To: "0xto", Amount: "40", Asset: "USDC",
	}))

	time.Sleep(50 * time.Millisecond)

	record, err := st.GetSettlement(ctx, settlementID)
	require.NoError(t, err)
	require.Equal(t, models.SettlementStatusConfirmed, record.Status)
}
