package query

import (
	"context"
	"testing"
	"time"

	"github.com/clobx/exchange/internal/store"
	"github.com/clobx/exchange/pkg/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestService_TradesCapsAtHundredNewestFirst(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(zap.NewNop())
	svc := New(st, nil, zap.NewNop())

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 120; i++ {
		require.NoError(t, st.InsertTrade(ctx, models.Trade{
			ID:        uuid.New(),
			Asset:     "ETH",
			Amount:    decimal.NewFromInt(1),
			Price:     decimal.NewFromInt(2000),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	trades, err := svc.Trades(ctx, models.TradeFilter{Asset: "ETH"})
	require.NoError(t, err)
	require.Len(t, trades, 100)
	require.True(t, trades[0].CreatedAt.After(trades[1].CreatedAt))
}

func TestService_BalancesSortedByAsset(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(zap.NewNop())
	svc := New(st, nil, zap.NewNop())

	require.NoError(t, st.PutBalance(ctx, models.Balance{Address: "0xa", Asset: "USDC", Available: decimal.NewFromInt(100)}))
	require.NoError(t, st.PutBalance(ctx, models.Balance{Address: "0xa", Asset: "ETH", Available: decimal.NewFromInt(1), Reserved: decimal.NewFromInt(1)}))

	views, err := svc.Balances(ctx, "0xa")
	require.NoError(t, err)
	require.Len(t, views, 2)
	require.Equal(t, "ETH", views[0].Asset)
	require.True(t, views[0].Total.Equal(decimal.NewFromInt(2)))
	require.Equal(t, "USDC", views[1].Asset)
}

func TestService_BookFallsBackToStoreWithoutCache(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(zap.NewNop())
	svc := New(st, nil, zap.NewNop())

	require.NoError(t, st.PutBalance(ctx, models.Balance{Address: "0xa", Asset: "ETH", Available: decimal.NewFromInt(1)}))
	require.NoError(t, st.InsertOrder(ctx, models.Order{
		ID: uuid.New(), Address: "0xa", Asset: "ETH", Side: models.SideSell, Type: models.OrderTypeLimit,
		Amount: decimal.NewFromInt(1), RemainingAmount: decimal.NewFromInt(1), Price: decimal.NewFromInt(2000),
		Status: models.OrderStatusPending, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}))

	bids, asks, err := svc.Book(ctx, "ETH")
	require.NoError(t, err)
	require.Empty(t, bids)
	require.Len(t, asks, 1)
}
