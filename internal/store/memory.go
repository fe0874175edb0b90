package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	exerrors "github.com/clobx/exchange/pkg/errors"
	"github.com/clobx/exchange/pkg/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
	"go.uber.org/zap"
)

// MemoryStore is an in-process Store used for tests and for running the
// service with no database configured (STORE_DRIVER=memory). It guards all
// state with a single mutex — the matching engine's per-asset locks bound
// concurrency at a coarser grain, so this does not need to be lock-free.
type MemoryStore struct {
	mu sync.Mutex

	balances    map[string]*models.Balance
	orders      map[uuid.UUID]*models.Order
	trades      []*models.Trade
	settlements map[uuid.UUID]*models.Settlement

	// bookIndex[asset|side] -> sortKey -> orderID, keyed so that an
	// ascending Scan yields best-price-first for that side.
	bookIndex map[string]*btree.Map[string, uuid.UUID]
	// indexKeys remembers which sort key an order was inserted under, so
	// it can be located for deletion after its price never changes but
	// its presence in the book does.
	indexKeys map[uuid.UUID]string

	lastTradePrice map[string]decimal.Decimal

	logger *zap.Logger
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		balances:       make(map[string]*models.Balance),
		orders:         make(map[uuid.UUID]*models.Order),
		settlements:    make(map[uuid.UUID]*models.Settlement),
		bookIndex:      make(map[string]*btree.Map[string, uuid.UUID]),
		indexKeys:      make(map[uuid.UUID]string),
		lastTradePrice: make(map[string]decimal.Decimal),
		logger:         logger,
	}
}

func balanceKey(address, asset string) string { return address + "|" + asset }

func bookIndexKey(asset string, side models.Side) string { return asset + "|" + string(side) }

func (s *MemoryStore) bookIndexFor(asset string, side models.Side) *btree.Map[string, uuid.UUID] {
	key := bookIndexKey(asset, side)
	idx, ok := s.bookIndex[key]
	if !ok {
		idx = btree.NewMap[string, uuid.UUID](32)
		s.bookIndex[key] = idx
	}
	return idx
}

func (s *MemoryStore) sortKey(o *models.Order) string {
	var priceKey string
	if o.Side == models.SideBuy {
		priceKey = invertedPriceSortKey(o.Price)
	} else {
		priceKey = priceSortKey(o.Price)
	}
	return fmt.Sprintf("%s|%020d|%s", priceKey, o.CreatedAt.UnixNano(), o.ID.String())
}

// indexInsert adds o to its side's book index iff it is open (pending or
// partially_filled); it is a no-op for terminal orders.
func (s *MemoryStore) indexInsert(o *models.Order) {
	if !o.Status.IsOpen() {
		return
	}
	key := s.sortKey(o)
	s.bookIndexFor(o.Asset, o.Side).Set(key, o.ID)
	s.indexKeys[o.ID] = key
}

func (s *MemoryStore) indexRemove(o *models.Order) {
	key, ok := s.indexKeys[o.ID]
	if !ok {
		return
	}
	s.bookIndexFor(o.Asset, o.Side).Delete(key)
	delete(s.indexKeys, o.ID)
}

// indexRefresh removes then re-adds o, keeping the book index in sync with
// o's current status after a mutation.
func (s *MemoryStore) indexRefresh(o *models.Order) {
	s.indexRemove(o)
	s.indexInsert(o)
}

func (s *MemoryStore) GetBalance(_ context.Context, address, asset string) (models.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.balances[balanceKey(address, asset)]; ok {
		return *b, nil
	}
	return models.Balance{Address: address, Asset: asset, Available: decimal.Zero, Reserved: decimal.Zero}, nil
}

func (s *MemoryStore) PutBalance(_ context.Context, b models.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b.UpdatedAt = time.Now().UTC()
	cp := b
	s.balances[balanceKey(b.Address, b.Asset)] = &cp
	return nil
}

func (s *MemoryStore) ListBalances(_ context.Context, address string) ([]models.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Balance, 0)
	for _, b := range s.balances {
		if b.Address == address {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

func (s *MemoryStore) getOrCreateBalanceLocked(address, asset string) *models.Balance {
	key := balanceKey(address, asset)
	b, ok := s.balances[key]
	if !ok {
		b = &models.Balance{Address: address, Asset: asset, Available: decimal.Zero, Reserved: decimal.Zero}
		s.balances[key] = b
	}
	return b
}

func (s *MemoryStore) ReserveBalance(_ context.Context, address, asset string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.getOrCreateBalanceLocked(address, asset)
	if b.Available.LessThan(amount) {
		return exerrors.Newf(exerrors.KindInsufficientBalance, "insufficient balance: required %s, available %s", amount, b.Available)
	}
	b.Available = b.Available.Sub(amount)
	b.Reserved = b.Reserved.Add(amount)
	b.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ReleaseReservation(_ context.Context, address, asset string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.getOrCreateBalanceLocked(address, asset)
	b.Reserved = b.Reserved.Sub(amount)
	b.Available = b.Available.Add(amount)
	b.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) SettleReservation(_ context.Context, address, asset string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.getOrCreateBalanceLocked(address, asset)
	b.Reserved = b.Reserved.Sub(amount)
	b.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) InsertSettlement(_ context.Context, settlement models.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := settlement
	s.settlements[settlement.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateSettlementStatus(_ context.Context, id uuid.UUID, status models.SettlementStatus, reason string, confirmedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	settlement, ok := s.settlements[id]
	if !ok {
		return exerrors.Newf(exerrors.KindNotFound, "settlement %s not found", id)
	}
	settlement.Status = status
	settlement.Reason = reason
	settlement.ConfirmedAt = confirmedAt
	return nil
}

func (s *MemoryStore) GetSettlement(_ context.Context, id uuid.UUID) (models.Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	settlement, ok := s.settlements[id]
	if !ok {
		return models.Settlement{}, exerrors.Newf(exerrors.KindNotFound, "settlement %s not found", id)
	}
	return *settlement, nil
}

func (s *MemoryStore) ListSettlements(_ context.Context) ([]models.Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Settlement, 0, len(s.settlements))
	for _, settlement := range s.settlements {
		out = append(out, *settlement)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListSettlementsByAddress(_ context.Context, address string) ([]models.SettlementView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SettlementView, 0)
	for _, settlement := range s.settlements {
		switch {
		case settlement.From == address:
			out = append(out, models.SettlementView{Settlement: *settlement, Role: models.SettlementRoleSender})
		case settlement.To == address:
			out = append(out, models.SettlementView{Settlement: *settlement, Role: models.SettlementRoleReceiver})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ApplySettlement(_ context.Context, id uuid.UUID, from, to, asset string, amount decimal.Decimal, confirmedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	settlement, ok := s.settlements[id]
	if !ok {
		return exerrors.Newf(exerrors.KindNotFound, "settlement %s not found", id)
	}
	fromBal := s.getOrCreateBalanceLocked(from, asset)
	toBal := s.getOrCreateBalanceLocked(to, asset)
	fromBal.Available = fromBal.Available.Sub(amount)
	fromBal.UpdatedAt = confirmedAt
	toBal.Available = toBal.Available.Add(amount)
	toBal.UpdatedAt = confirmedAt
	settlement.Status = models.SettlementStatusConfirmed
	settlement.Reason = ""
	ts := confirmedAt
	settlement.ConfirmedAt = &ts
	return nil
}

func (s *MemoryStore) InsertOrder(_ context.Context, order models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := order
	s.orders[order.ID] = &cp
	s.indexInsert(&cp)
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id uuid.UUID) (models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return models.Order{}, exerrors.Newf(exerrors.KindNotFound, "order %s not found", id)
	}
	return *order, nil
}

func (s *MemoryStore) ListOrders(_ context.Context, filter models.OrderFilter) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Order, 0)
	for _, order := range s.orders {
		if filter.Address != "" && order.Address != filter.Address {
			continue
		}
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		out = append(out, *order)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) SetOrderStatus(_ context.Context, id uuid.UUID, status models.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return exerrors.Newf(exerrors.KindNotFound, "order %s not found", id)
	}
	order.Status = status
	order.UpdatedAt = time.Now().UTC()
	s.indexRefresh(order)
	return nil
}

func (s *MemoryStore) SetOrderRemaining(_ context.Context, id uuid.UUID, value decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return exerrors.Newf(exerrors.KindNotFound, "order %s not found", id)
	}
	order.RemainingAmount = value
	order.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) CancelOrder(_ context.Context, id uuid.UUID) (bool, models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return false, models.Order{}, exerrors.Newf(exerrors.KindNotFound, "order %s not found", id)
	}
	if !order.Status.IsOpen() {
		return false, *order, nil
	}
	if order.Side == models.SideBuy && order.ReservedQuote.IsPositive() {
		s.releaseLocked(order.Address, models.QuoteAsset, order.ReservedQuote)
		order.ReservedQuote = decimal.Zero
	}
	if order.Side == models.SideSell && order.ReservedBase.IsPositive() {
		s.releaseLocked(order.Address, order.Asset, order.ReservedBase)
		order.ReservedBase = decimal.Zero
	}
	order.Status = models.OrderStatusCancelled
	order.UpdatedAt = time.Now().UTC()
	s.indexRefresh(order)
	return true, *order, nil
}

func (s *MemoryStore) releaseLocked(address, asset string, amount decimal.Decimal) {
	b := s.getOrCreateBalanceLocked(address, asset)
	b.Reserved = b.Reserved.Sub(amount)
	b.Available = b.Available.Add(amount)
	b.UpdatedAt = time.Now().UTC()
}

func (s *MemoryStore) InsertTrade(_ context.Context, trade models.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := trade
	s.trades = append(s.trades, &cp)
	s.lastTradePrice[trade.Asset] = trade.Price
	return nil
}

func (s *MemoryStore) ListTrades(_ context.Context, filter models.TradeFilter) ([]models.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Trade, 0)
	for i := len(s.trades) - 1; i >= 0 && len(out) < 100; i-- {
		t := s.trades[i]
		if filter.Asset != "" && t.Asset != filter.Asset {
			continue
		}
		if filter.Address != "" && t.BuyerAddress != filter.Address && t.SellerAddress != filter.Address {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

func (s *MemoryStore) LastTradePrice(_ context.Context, asset string) (decimal.Decimal, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.lastTradePrice[asset]
	return p, ok, nil
}

func (s *MemoryStore) Book(_ context.Context, asset string) ([]models.BookLevel, []models.BookLevel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bids := s.aggregateLocked(asset, models.SideBuy)
	asks := s.aggregateLocked(asset, models.SideSell)
	return bids, asks, nil
}

// aggregateLocked groups open orders on (asset, side) by price into the
// top 10 levels, in the book-index's already-correct priority order.
func (s *MemoryStore) aggregateLocked(asset string, side models.Side) []models.BookLevel {
	idx, ok := s.bookIndex[bookIndexKey(asset, side)]
	if !ok {
		return []models.BookLevel{}
	}
	levels := make([]models.BookLevel, 0, 10)
	byPrice := make(map[string]int)
	idx.Scan(func(_ string, orderID uuid.UUID) bool {
		order, ok := s.orders[orderID]
		if !ok || !order.Status.IsOpen() {
			return true
		}
		priceKey := priceSortKey(order.Price)
		if i, exists := byPrice[priceKey]; exists {
			levels[i].TotalRemaining = levels[i].TotalRemaining.Add(order.RemainingAmount)
			levels[i].OrderCount++
			return true
		}
		if len(levels) >= 10 {
			return true
		}
		byPrice[priceKey] = len(levels)
		levels = append(levels, models.BookLevel{
			Price:          order.Price,
			TotalRemaining: order.RemainingAmount,
			OrderCount:     1,
		})
		return true
	})
	return levels
}

func (s *MemoryStore) MatchCandidates(_ context.Context, asset string, side models.Side) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.bookIndex[bookIndexKey(asset, side)]
	if !ok {
		return []models.Order{}, nil
	}
	out := make([]models.Order, 0)
	idx.Scan(func(_ string, orderID uuid.UUID) bool {
		if order, ok := s.orders[orderID]; ok && order.Status.IsOpen() {
			out = append(out, *order)
		}
		return true
	})
	return out, nil
}

func (s *MemoryStore) ExecuteTrade(_ context.Context, in ExecuteTradeInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buyOrder, ok := s.orders[in.BuyOrder.ID]
	if !ok {
		return exerrors.Newf(exerrors.KindNotFound, "order %s not found", in.BuyOrder.ID)
	}
	sellOrder, ok := s.orders[in.SellOrder.ID]
	if !ok {
		return exerrors.Newf(exerrors.KindNotFound, "order %s not found", in.SellOrder.ID)
	}

	cp := in.Trade
	s.trades = append(s.trades, &cp)
	s.lastTradePrice[in.Trade.Asset] = in.Trade.Price

	buyOrder.Status = in.BuyOrder.Status
	buyOrder.RemainingAmount = in.BuyOrder.RemainingAmount
	buyOrder.ReservedQuote = in.BuyOrder.ReservedQuote
	buyOrder.UpdatedAt = time.Now().UTC()
	s.indexRefresh(buyOrder)

	sellOrder.Status = in.SellOrder.Status
	sellOrder.RemainingAmount = in.SellOrder.RemainingAmount
	sellOrder.ReservedBase = in.SellOrder.ReservedBase
	sellOrder.UpdatedAt = time.Now().UTC()
	s.indexRefresh(sellOrder)

	// Seller: settle reserved base, credit buyer's available base.
	sellerBase := s.getOrCreateBalanceLocked(in.Trade.SellerAddress, in.Trade.Asset)
	sellerBase.Reserved = sellerBase.Reserved.Sub(in.SellerBaseSettle)
	sellerBase.UpdatedAt = time.Now().UTC()
	buyerBase := s.getOrCreateBalanceLocked(in.Trade.BuyerAddress, in.Trade.Asset)
	buyerBase.Available = buyerBase.Available.Add(in.Trade.Amount)
	buyerBase.UpdatedAt = time.Now().UTC()

	// Buyer: settle (and possibly release) reserved quote, credit seller.
	buyerQuote := s.getOrCreateBalanceLocked(in.Trade.BuyerAddress, models.QuoteAsset)
	buyerQuote.Reserved = buyerQuote.Reserved.Sub(in.BuyerQuoteSettle).Sub(in.BuyerQuoteRelease)
	if in.BuyerQuoteRelease.IsPositive() {
		buyerQuote.Available = buyerQuote.Available.Add(in.BuyerQuoteRelease)
	}
	buyerQuote.UpdatedAt = time.Now().UTC()
	sellerQuote := s.getOrCreateBalanceLocked(in.Trade.SellerAddress, models.QuoteAsset)
	sellerQuote.Available = sellerQuote.Available.Add(in.Trade.Amount.Mul(in.Trade.Price))
	sellerQuote.UpdatedAt = time.Now().UTC()

	return nil
}

func (s *MemoryStore) Close() error { return nil }
