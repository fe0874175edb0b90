package matching

import (
	"context"
	"testing"
	"time"

	"github.com/clobx/exchange/internal/store"
	"github.com/clobx/exchange/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestEngine(t *testing.T) (*Engine, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore(zap.NewNop())
	return NewEngine(st, zap.NewNop()), st
}

func seed(t *testing.T, st *store.MemoryStore, address, asset string, amount decimal.Decimal) {
	t.Helper()
	require.NoError(t, st.PutBalance(context.Background(), models.Balance{
		Address: address, Asset: asset, Available: amount,
	}))
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestProcessOrder_S1_FullFillAtEarlierPrice(t *testing.T) {
	ctx := context.Background()
	engine, st := newTestEngine(t)

	seed(t, st, "0xa", "ETH", dec("2"))
	seed(t, st, "0xb", "USDC", dec("10000"))

	_, trades, remaining, err := engine.ProcessOrder(ctx, OrderRequest{
		Address: "0xa", Asset: "ETH", Side: models.SideSell, Type: models.OrderTypeLimit,
		Amount: dec("1"), Price: dec("1999"),
	})
	require.NoError(t, err)
	require.Empty(t, trades)
	require.True(t, remaining.Equal(dec("1")))

	time.Sleep(time.Millisecond)
	_, trades, remaining, err = engine.ProcessOrder(ctx, OrderRequest{
		Address: "0xb", Asset: "ETH", Side: models.SideBuy, Type: models.OrderTypeLimit,
		Amount: dec("1"), Price: dec("2000"),
	})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.True(t, trades[0].Amount.Equal(dec("1")))
	require.True(t, trades[0].Price.Equal(dec("1999")))
	require.True(t, remaining.IsZero())

	aETH, _ := st.GetBalance(ctx, "0xa", "ETH")
	aUSDC, _ := st.GetBalance(ctx, "0xa", "USDC")
	bETH, _ := st.GetBalance(ctx, "0xb", "ETH")
	bUSDC, _ := st.GetBalance(ctx, "0xb", "USDC")
	require.True(t, aETH.Available.Equal(dec("1")))
	require.True(t, aUSDC.Available.Equal(dec("1999")))
	require.True(t, bETH.Available.Equal(dec("1")))
	require.True(t, bUSDC.Available.Equal(dec("8001")))
}

func TestProcessOrder_S2_PartialFill(t *testing.T) {
	ctx := context.Background()
	engine, st := newTestEngine(t)

	seed(t, st, "0xa", "ETH", dec("0.5"))
	seed(t, st, "0xb", "USDC", dec("10000"))

	aID, _, _, err := engine.ProcessOrder(ctx, OrderRequest{
		Address: "0xa", Asset: "ETH", Side: models.SideSell, Type: models.OrderTypeLimit,
		Amount: dec("0.5"), Price: dec("1999"),
	})
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	_, trades, remaining, err := engine.ProcessOrder(ctx, OrderRequest{
		Address: "0xb", Asset: "ETH", Side: models.SideBuy, Type: models.OrderTypeLimit,
		Amount: dec("1"), Price: dec("2000"),
	})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.True(t, trades[0].Amount.Equal(dec("0.5")))
	require.True(t, remaining.Equal(dec("0.5")))

	aOrder, err := st.GetOrder(ctx, aID)
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusFilled, aOrder.Status)
}

func TestProcessOrder_S3_SameSideNoMatch(t *testing.T) {
	ctx := context.Background()
	engine, st := newTestEngine(t)
	seed(t, st, "0xb1", "USDC", dec("10000"))
	seed(t, st, "0xb2", "USDC", dec("10000"))

	_, trades1, _, err := engine.ProcessOrder(ctx, OrderRequest{
		Address: "0xb1", Asset: "ETH", Side: models.SideBuy, Type: models.OrderTypeLimit,
		Amount: dec("1"), Price: dec("2000"),
	})
	require.NoError(t, err)
	require.Empty(t, trades1)

	_, trades2, _, err := engine.ProcessOrder(ctx, OrderRequest{
		Address: "0xb2", Asset: "ETH", Side: models.SideBuy, Type: models.OrderTypeLimit,
		Amount: dec("1"), Price: dec("2001"),
	})
	require.NoError(t, err)
	require.Empty(t, trades2)

	bids, asks, err := st.Book(ctx, "ETH")
	require.NoError(t, err)
	require.Len(t, bids, 2)
	require.Empty(t, asks)
}

func TestProcessOrder_S4_CrossedPriceNoMatch(t *testing.T) {
	ctx := context.Background()
	engine, st := newTestEngine(t)
	seed(t, st, "0xa", "ETH", dec("1"))
	seed(t, st, "0xb", "USDC", dec("10000"))

	_, trades1, _, err := engine.ProcessOrder(ctx, OrderRequest{
		Address: "0xa", Asset: "ETH", Side: models.SideSell, Type: models.OrderTypeLimit,
		Amount: dec("1"), Price: dec("2001"),
	})
	require.NoError(t, err)
	require.Empty(t, trades1)

	_, trades2, _, err := engine.ProcessOrder(ctx, OrderRequest{
		Address: "0xb", Asset: "ETH", Side: models.SideBuy, Type: models.OrderTypeLimit,
		Amount: dec("1"), Price: dec("2000"),
	})
	require.NoError(t, err)
	require.Empty(t, trades2)
}

func TestProcessOrder_S5_Cancellation(t *testing.T) {
	ctx := context.Background()
	engine, st := newTestEngine(t)
	seed(t, st, "0xb", "USDC", dec("10000"))

	orderID, _, _, err := engine.ProcessOrder(ctx, OrderRequest{
		Address: "0xb", Asset: "ETH", Side: models.SideBuy, Type: models.OrderTypeLimit,
		Amount: dec("1"), Price: dec("2000"),
	})
	require.NoError(t, err)

	ok, order, err := engine.Cancel(ctx, orderID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, models.OrderStatusCancelled, order.Status)

	balance, err := st.GetBalance(ctx, "0xb", "USDC")
	require.NoError(t, err)
	require.True(t, balance.Available.Equal(dec("10000")))
	require.True(t, balance.Reserved.IsZero())

	ok, _, err = engine.Cancel(ctx, orderID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestProcessOrder_S8_RestingPartialFillMatchesAgain(t *testing.T) {
	ctx := context.Background()
	engine, st := newTestEngine(t)
	seed(t, st, "0xa", "ETH", dec("1"))
	seed(t, st, "0xb", "USDC", dec("10000"))
	seed(t, st, "0xc", "USDC", dec("10000"))

	aID, _, _, err := engine.ProcessOrder(ctx, OrderRequest{
		Address: "0xa", Asset: "ETH", Side: models.SideSell, Type: models.OrderTypeLimit,
		Amount: dec("1"), Price: dec("1999"),
	})
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	_, trades, remaining, err := engine.ProcessOrder(ctx, OrderRequest{
		Address: "0xb", Asset: "ETH", Side: models.SideBuy, Type: models.OrderTypeLimit,
		Amount: dec("0.4"), Price: dec("2000"),
	})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.True(t, remaining.IsZero())

	aOrder, err := st.GetOrder(ctx, aID)
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusPartiallyFilled, aOrder.Status)
	require.True(t, aOrder.RemainingAmount.Equal(dec("0.6")))

	time.Sleep(time.Millisecond)
	_, trades2, remaining2, err := engine.ProcessOrder(ctx, OrderRequest{
		Address: "0xc", Asset: "ETH", Side: models.SideBuy, Type: models.OrderTypeLimit,
		Amount: dec("0.6"), Price: dec("2000"),
	})
	require.NoError(t, err)
	require.Len(t, trades2, 1)
	require.True(t, trades2[0].Amount.Equal(dec("0.6")))
	require.True(t, remaining2.IsZero())

	aOrder, err = st.GetOrder(ctx, aID)
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusFilled, aOrder.Status)
}

func TestProcessOrder_MarketBuyWalksBook(t *testing.T) {
	ctx := context.Background()
	engine, st := newTestEngine(t)
	seed(t, st, "0xa", "ETH", dec("2"))
	seed(t, st, "0xb", "USDC", dec("10000"))

	_, _, _, err := engine.ProcessOrder(ctx, OrderRequest{
		Address: "0xa", Asset: "ETH", Side: models.SideSell, Type: models.OrderTypeLimit,
		Amount: dec("1"), Price: dec("2000"),
	})
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	_, trades, remaining, err := engine.ProcessOrder(ctx, OrderRequest{
		Address: "0xb", Asset: "ETH", Side: models.SideBuy, Type: models.OrderTypeMarket,
		Amount: dec("1"),
	})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.True(t, trades[0].Price.Equal(dec("2000")))
	require.True(t, remaining.IsZero())
}

func TestProcessOrder_InsufficientBalanceRejected(t *testing.T) {
	ctx := context.Background()
	engine, st := newTestEngine(t)
	seed(t, st, "0xa", "ETH", dec("0.1"))

	_, _, _, err := engine.ProcessOrder(ctx, OrderRequest{
		Address: "0xa", Asset: "ETH", Side: models.SideSell, Type: models.OrderTypeLimit,
		Amount: dec("1"), Price: dec("2000"),
	})
	require.Error(t, err)

	orders, err := st.ListOrders(ctx, models.OrderFilter{Address: "0xa"})
	require.NoError(t, err)
	require.Empty(t, orders)
}
