// Package query implements the read-only projections behind the HTTP book,
// trade history, and balance endpoints. It never mutates the store; the book
// query is the only one fronted by a cache.
package query

import (
	"context"
	"sort"

	"github.com/clobx/exchange/internal/cache"
	"github.com/clobx/exchange/internal/store"
	"github.com/clobx/exchange/pkg/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxTradeHistory = 100

// Service answers read queries against a Store, optionally fronted by a
// BookCache for the order book projection.
type Service struct {
	store  store.Store
	cache  *cache.BookCache
	logger *zap.Logger
}

func New(st store.Store, c *cache.BookCache, logger *zap.Logger) *Service {
	return &Service{store: st, cache: c, logger: logger}
}

// Book returns the aggregated bid and ask levels for asset, checking the
// cache first when one is attached.
func (s *Service) Book(ctx context.Context, asset string) (bids, asks []models.BookLevel, err error) {
	if bids, asks, ok := s.cache.Get(ctx, asset); ok {
		return bids, asks, nil
	}
	bids, asks, err = s.store.Book(ctx, asset)
	if err != nil {
		return nil, nil, err
	}
	s.cache.Put(ctx, asset, bids, asks)
	return bids, asks, nil
}

// Trades returns the newest trades matching filter, capped at 100 and
// ordered newest first.
func (s *Service) Trades(ctx context.Context, filter models.TradeFilter) ([]models.Trade, error) {
	trades, err := s.store.ListTrades(ctx, filter)
	if err != nil {
		return nil, err
	}
	sort.Slice(trades, func(i, j int) bool { return trades[i].CreatedAt.After(trades[j].CreatedAt) })
	if len(trades) > maxTradeHistory {
		trades = trades[:maxTradeHistory]
	}
	return trades, nil
}

// Orders returns orders matching filter, newest first.
func (s *Service) Orders(ctx context.Context, filter models.OrderFilter) ([]models.Order, error) {
	orders, err := s.store.ListOrders(ctx, filter)
	if err != nil {
		return nil, err
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })
	return orders, nil
}

// BalanceView is one asset's available/reserved/total for an address.
type BalanceView struct {
	Asset     string          `json:"asset"`
	Available decimal.Decimal `json:"available"`
	Reserved  decimal.Decimal `json:"reserved"`
	Total     decimal.Decimal `json:"total"`
}

// Balances returns every balance row the store holds for address, sorted by
// asset. Only (address, asset) pairs that have been written have a row; a
// row whose amounts are zero is still returned.
func (s *Service) Balances(ctx context.Context, address string) ([]BalanceView, error) {
	balances, err := s.store.ListBalances(ctx, address)
	if err != nil {
		return nil, err
	}
	views := make([]BalanceView, 0, len(balances))
	for _, b := range balances {
		views = append(views, BalanceView{
			Asset:     b.Asset,
			Available: b.Available,
			Reserved:  b.Reserved,
			Total:     b.Total(),
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Asset < views[j].Asset })
	return views, nil
}

// Settlements returns every settlement in which address played sender or
// receiver, newest first.
func (s *Service) Settlements(ctx context.Context, address string) ([]models.SettlementView, error) {
	views, err := s.store.ListSettlementsByAddress(ctx, address)
	if err != nil {
		return nil, err
	}
	sort.Slice(views, func(i, j int) bool { return views[i].CreatedAt.After(views[j].CreatedAt) })
	return views, nil
}

// Settlement returns a single settlement by id.
func (s *Service) Settlement(ctx context.Context, id uuid.UUID) (models.Settlement, error) {
	return s.store.GetSettlement(ctx, id)
}

// Order returns a single order by id.
func (s *Service) Order(ctx context.Context, id uuid.UUID) (models.Order, error) {
	return s.store.GetOrder(ctx, id)
}
