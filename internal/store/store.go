// Package store defines the persistence interface shared by the matching
// engine, settlement processor, and query surface, plus two
// implementations: a PostgreSQL-backed store for production and an
// in-process store for tests and no-database standalone runs. Neither the
// engine nor the processor is allowed to assume which implementation is
// behind the interface.
package store

import (
	"context"
	"time"

	"github.com/clobx/exchange/pkg/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderUpdate is the post-match state the engine wants persisted for one
// resting or incoming order as part of an ExecuteTrade call.
type OrderUpdate struct {
	ID              uuid.UUID
	Status          models.OrderStatus
	RemainingAmount decimal.Decimal
	ReservedQuote   decimal.Decimal
	ReservedBase    decimal.Decimal
}

// ExecuteTradeInput bundles every write a single matching step produces.
// Store.ExecuteTrade commits all of it as one atomic unit: the trade
// insert, both order updates, and the four balance mutations of the
// matching engine's trade-settlement rule.
type ExecuteTradeInput struct {
	Trade models.Trade

	BuyOrder  OrderUpdate
	SellOrder OrderUpdate

	// BuyerQuoteSettle is the portion of the buyer's quote reservation
	// consumed by this fill (amount * price). BuyerQuoteRelease is any
	// excess reservation released back to available because the fill
	// price was better than what was reserved (a limit order filling
	// inside its own limit).
	BuyerQuoteSettle  decimal.Decimal
	BuyerQuoteRelease decimal.Decimal

	// SellerBaseSettle is the portion of the seller's base reservation
	// consumed by this fill; for a sell order this always equals
	// Trade.Amount.
	SellerBaseSettle decimal.Decimal
}

// Store is the persistence interface. Implementations must make each method
// below a single logical atomic unit; ExecuteTrade additionally spans
// multiple entities and must commit-or-rollback as a whole.
type Store interface {
	// Balances
	GetBalance(ctx context.Context, address, asset string) (models.Balance, error)
	PutBalance(ctx context.Context, b models.Balance) error
	ListBalances(ctx context.Context, address string) ([]models.Balance, error)
	ReserveBalance(ctx context.Context, address, asset string, amount decimal.Decimal) error
	ReleaseReservation(ctx context.Context, address, asset string, amount decimal.Decimal) error
	SettleReservation(ctx context.Context, address, asset string, amount decimal.Decimal) error

	// Settlements
	InsertSettlement(ctx context.Context, s models.Settlement) error
	UpdateSettlementStatus(ctx context.Context, id uuid.UUID, status models.SettlementStatus, reason string, confirmedAt *time.Time) error
	GetSettlement(ctx context.Context, id uuid.UUID) (models.Settlement, error)
	ListSettlements(ctx context.Context) ([]models.Settlement, error)
	ListSettlementsByAddress(ctx context.Context, address string) ([]models.SettlementView, error)
	// ApplySettlement atomically debits from/credits to (both available
	// balances) and marks the settlement confirmed, as one transaction.
	ApplySettlement(ctx context.Context, id uuid.UUID, from, to, asset string, amount decimal.Decimal, confirmedAt time.Time) error

	// Orders
	InsertOrder(ctx context.Context, o models.Order) error
	GetOrder(ctx context.Context, id uuid.UUID) (models.Order, error)
	ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, error)
	SetOrderStatus(ctx context.Context, id uuid.UUID, status models.OrderStatus) error
	SetOrderRemaining(ctx context.Context, id uuid.UUID, value decimal.Decimal) error
	// CancelOrder transitions an order to cancelled iff it is currently
	// pending or partially_filled, releasing its outstanding reservation
	// back to available in the same transaction. ok is false (with a nil
	// error) if the order was already terminal.
	CancelOrder(ctx context.Context, id uuid.UUID) (ok bool, order models.Order, err error)

	// Trades
	InsertTrade(ctx context.Context, t models.Trade) error
	ListTrades(ctx context.Context, filter models.TradeFilter) ([]models.Trade, error)
	// LastTradePrice returns the price of the most recent trade on asset,
	// used only to price a both-market crossing (§4.4.4).
	LastTradePrice(ctx context.Context, asset string) (decimal.Decimal, bool, error)

	// Order book aggregation
	Book(ctx context.Context, asset string) (bids, asks []models.BookLevel, err error)

	// MatchCandidates returns every order on the opposite side of a match
	// for (asset, side) with status in {pending, partially_filled}, sorted
	// best-price-first (bids descending, asks ascending) with ties broken
	// by created_at ascending. side is the side of the CANDIDATES, i.e.
	// the matching engine calls this with the opposite side of the
	// incoming order.
	MatchCandidates(ctx context.Context, asset string, side models.Side) ([]models.Order, error)

	// ExecuteTrade commits one matched pair atomically.
	ExecuteTrade(ctx context.Context, in ExecuteTradeInput) error

	Close() error
}
