// Package matching implements the order admission and matching engine: the
// component that turns an incoming order request into zero or more trades
// against the resting book, enforcing price-time priority and the escrow
// accounting that keeps balances from drifting.
package matching

import (
	"context"
	"sync"
	"time"

	"github.com/clobx/exchange/internal/cache"
	"github.com/clobx/exchange/internal/store"
	exerrors "github.com/clobx/exchange/pkg/errors"
	"github.com/clobx/exchange/pkg/metrics"
	"github.com/clobx/exchange/pkg/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderRequest is the admission input, already parsed and struct-validated
// by the request surface.
type OrderRequest struct {
	Address string
	Asset   string
	Side    models.Side
	Type    models.OrderType
	Amount  decimal.Decimal
	Price   decimal.Decimal // ignored for Type == market
}

// Engine matches incoming orders against the resting book one asset at a
// time, serializing concurrent ProcessOrder/Cancel calls per asset via a
// map of per-asset mutexes.
type Engine struct {
	store  store.Store
	cache  *cache.BookCache
	logger *zap.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewEngine(st store.Store, logger *zap.Logger) *Engine {
	return &Engine{
		store:  st,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// WithCache attaches an order-book cache whose asset entry is invalidated on
// every admitted order and every executed trade. Passing nil disables
// invalidation; an Engine with no cache attached behaves identically since
// every cache method is a documented no-op on a nil receiver.
func (e *Engine) WithCache(c *cache.BookCache) *Engine {
	e.cache = c
	return e
}

func (e *Engine) lockFor(asset string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	l, ok := e.locks[asset]
	if !ok {
		l = &sync.Mutex{}
		e.locks[asset] = l
	}
	return l
}

// ProcessOrder admits req, matches it against the book, and returns the
// engine-issued order id, the trades it produced (in execution order), and
// the order's final remaining amount.
func (e *Engine) ProcessOrder(ctx context.Context, req OrderRequest) (uuid.UUID, []models.Trade, decimal.Decimal, error) {
	start := time.Now()
	defer func() { metrics.MatchLatency.Observe(time.Since(start).Seconds()) }()

	if err := validateRequest(req); err != nil {
		return uuid.Nil, nil, decimal.Zero, err
	}

	lock := e.lockFor(req.Asset)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()
	order := models.Order{
		ID:              uuid.New(),
		Address:         req.Address,
		Asset:           req.Asset,
		Side:            req.Side,
		Type:            req.Type,
		Amount:          req.Amount,
		RemainingAmount: req.Amount,
		Price:           req.Price,
		Status:          models.OrderStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := e.reserve(ctx, &order); err != nil {
		return uuid.Nil, nil, decimal.Zero, err
	}
	persisted := false

	opposite := models.SideSell
	if req.Side == models.SideSell {
		opposite = models.SideBuy
	}
	candidates, err := e.store.MatchCandidates(ctx, req.Asset, opposite)
	if err != nil {
		return uuid.Nil, nil, decimal.Zero, exerrors.Wrap(exerrors.KindInternal, err, "failed to load match candidates")
	}

	trades := make([]models.Trade, 0)
	for i := range candidates {
		if order.RemainingAmount.IsZero() {
			break
		}
		candidate := candidates[i]
		if !matches(order, candidate) {
			continue
		}

		tradeAmount := decimal.Min(order.RemainingAmount, candidate.RemainingAmount)
		price, err := e.tradePrice(ctx, order, candidate)
		if err != nil {
			return uuid.Nil, nil, decimal.Zero, err
		}

		buyOrder, sellOrder := &order, &candidate
		if order.Side == models.SideSell {
			buyOrder, sellOrder = &candidate, &order
		}

		trade := models.Trade{
			ID:            uuid.New(),
			BuyOrderID:    buyOrder.ID,
			SellOrderID:   sellOrder.ID,
			Asset:         req.Asset,
			Amount:        tradeAmount,
			Price:         price,
			BuyerAddress:  buyOrder.Address,
			SellerAddress: sellOrder.Address,
			CreatedAt:     time.Now().UTC(),
		}

		buyOrder.RemainingAmount = buyOrder.RemainingAmount.Sub(tradeAmount)
		sellOrder.RemainingAmount = sellOrder.RemainingAmount.Sub(tradeAmount)

		buyerQuoteSettle := tradeAmount.Mul(price)
		buyerQuoteRelease := decimal.Zero
		if buyOrder.ReservedQuote.GreaterThan(decimal.Zero) {
			consumedAtReservedRate := tradeAmount.Mul(reservationUnitPrice(*buyOrder, price))
			if consumedAtReservedRate.GreaterThan(buyerQuoteSettle) {
				buyerQuoteRelease = consumedAtReservedRate.Sub(buyerQuoteSettle)
			} else {
				buyerQuoteSettle = consumedAtReservedRate
			}
			buyOrder.ReservedQuote = buyOrder.ReservedQuote.Sub(consumedAtReservedRate)
			if buyOrder.ReservedQuote.LessThan(decimal.Zero) {
				buyOrder.ReservedQuote = decimal.Zero
			}
		}

		sellerBaseSettle := tradeAmount
		if sellOrder.ReservedBase.GreaterThan(decimal.Zero) {
			sellOrder.ReservedBase = sellOrder.ReservedBase.Sub(tradeAmount)
			if sellOrder.ReservedBase.LessThan(decimal.Zero) {
				sellOrder.ReservedBase = decimal.Zero
			}
		}

		buyStatus := statusFor(*buyOrder)
		sellStatus := statusFor(*sellOrder)

		in := store.ExecuteTradeInput{
			Trade: trade,
			BuyOrder: store.OrderUpdate{
				ID:              buyOrder.ID,
				Status:          buyStatus,
				RemainingAmount: buyOrder.RemainingAmount,
				ReservedQuote:   buyOrder.ReservedQuote,
			},
			SellOrder: store.OrderUpdate{
				ID:              sellOrder.ID,
				Status:          sellStatus,
				RemainingAmount: sellOrder.RemainingAmount,
				ReservedBase:    sellOrder.ReservedBase,
			},
			BuyerQuoteSettle:  buyerQuoteSettle,
			BuyerQuoteRelease: buyerQuoteRelease,
			SellerBaseSettle:  sellerBaseSettle,
		}

		// The new order is not yet persisted on its first match; ExecuteTrade
		// only ever mutates resting rows that already exist in the store, so
		// insert the incoming order before its first fill.
		if !persisted {
			if err := e.store.InsertOrder(ctx, order); err != nil {
				return uuid.Nil, nil, decimal.Zero, exerrors.Wrap(exerrors.KindInternal, err, "failed to persist incoming order")
			}
			persisted = true
		}

		if err := e.store.ExecuteTrade(ctx, in); err != nil {
			return uuid.Nil, nil, decimal.Zero, exerrors.Wrap(exerrors.KindInternal, err, "failed to execute trade")
		}

		buyOrder.Status = buyStatus
		sellOrder.Status = sellStatus
		trades = append(trades, trade)
		metrics.TradesExecuted.WithLabelValues(req.Asset).Inc()
	}

	order.Status = statusFor(order)
	if !persisted {
		if err := e.store.InsertOrder(ctx, order); err != nil {
			return uuid.Nil, nil, decimal.Zero, exerrors.Wrap(exerrors.KindInternal, err, "failed to persist order")
		}
	} else {
		if err := e.store.SetOrderStatus(ctx, order.ID, order.Status); err != nil {
			return uuid.Nil, nil, decimal.Zero, exerrors.Wrap(exerrors.KindInternal, err, "failed to finalize order status")
		}
	}

	if req.Side == models.SideBuy && req.Type == models.OrderTypeMarket && order.ReservedQuote.GreaterThan(decimal.Zero) {
		if err := e.store.ReleaseReservation(ctx, req.Address, models.QuoteAsset, order.ReservedQuote); err != nil {
			e.logger.Warn("matching: failed to release unused market-buy reservation", zap.Error(err))
		}
	}

	e.cache.Invalidate(ctx, req.Asset)
	metrics.OrdersProcessed.WithLabelValues(string(req.Side)).Inc()
	return order.ID, trades, order.RemainingAmount, nil
}

func validateRequest(req OrderRequest) error {
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return exerrors.New(exerrors.KindValidation, "amount must be positive")
	}
	if req.Side != models.SideBuy && req.Side != models.SideSell {
		return exerrors.New(exerrors.KindValidation, "side must be buy or sell")
	}
	if req.Type != models.OrderTypeLimit && req.Type != models.OrderTypeMarket {
		return exerrors.New(exerrors.KindValidation, "type must be limit or market")
	}
	if req.Type == models.OrderTypeLimit && req.Price.LessThanOrEqual(decimal.Zero) {
		return exerrors.New(exerrors.KindValidation, "price must be positive for limit orders")
	}
	if !models.IsKnownAsset(req.Asset) {
		return exerrors.Newf(exerrors.KindValidation, "unknown asset %q", req.Asset)
	}
	return nil
}

// reserve performs the balance precheck and reservation of §4.4.1, mutating
// order.ReservedBase/ReservedQuote in place.
func (e *Engine) reserve(ctx context.Context, order *models.Order) error {
	switch order.Side {
	case models.SideSell:
		if err := e.store.ReserveBalance(ctx, order.Address, order.Asset, order.Amount); err != nil {
			return err
		}
		order.ReservedBase = order.Amount
		return nil

	case models.SideBuy:
		if order.Type == models.OrderTypeLimit {
			quoteNeeded := order.Amount.Mul(order.Price)
			if err := e.store.ReserveBalance(ctx, order.Address, models.QuoteAsset, quoteNeeded); err != nil {
				return err
			}
			order.ReservedQuote = quoteNeeded
			return nil
		}
		return e.reserveMarketBuy(ctx, order)
	}
	return exerrors.New(exerrors.KindValidation, "invalid side")
}

// reserveMarketBuy walks the ask book to size a reservation for a market
// buy, whose final fill price is not known at admission time.
func (e *Engine) reserveMarketBuy(ctx context.Context, order *models.Order) error {
	asks, err := e.store.MatchCandidates(ctx, order.Asset, models.SideSell)
	if err != nil {
		return exerrors.Wrap(exerrors.KindInternal, err, "failed to load ask book for market buy sizing")
	}

	stillNeeded := order.Amount
	quoteNeeded := decimal.Zero
	for _, ask := range asks {
		if stillNeeded.IsZero() {
			break
		}
		take := decimal.Min(stillNeeded, ask.RemainingAmount)
		quoteNeeded = quoteNeeded.Add(take.Mul(ask.Price))
		stillNeeded = stillNeeded.Sub(take)
	}

	if quoteNeeded.IsZero() {
		return nil
	}

	balance, err := e.store.GetBalance(ctx, order.Address, models.QuoteAsset)
	if err != nil {
		return exerrors.Wrap(exerrors.KindInternal, err, "failed to read balance for market buy sizing")
	}
	if balance.Available.LessThan(quoteNeeded) {
		quoteNeeded = balance.Available
	}
	if quoteNeeded.LessThanOrEqual(decimal.Zero) {
		return exerrors.Newf(exerrors.KindInsufficientBalance, "insufficient balance: required %s, available %s", order.Amount, balance.Available)
	}

	if err := e.store.ReserveBalance(ctx, order.Address, models.QuoteAsset, quoteNeeded); err != nil {
		return err
	}
	order.ReservedQuote = quoteNeeded
	return nil
}

// reservationUnitPrice returns the per-unit price at which a fill consumes a
// buyer's reservation. Limit orders reserved at their own price, so a fill
// below the limit frees the difference; market orders reserved the walked
// cost of the asks they fill, so a fill consumes exactly fillPrice and any
// unused remainder is released after the match loop.
func reservationUnitPrice(o models.Order, fillPrice decimal.Decimal) decimal.Decimal {
	if o.Type == models.OrderTypeLimit {
		return o.Price
	}
	return fillPrice
}

func matches(a, b models.Order) bool {
	if a.Side == b.Side {
		return false
	}
	if a.Type == models.OrderTypeMarket || b.Type == models.OrderTypeMarket {
		return true
	}
	buy, sell := a, b
	if a.Side == models.SideSell {
		buy, sell = b, a
	}
	return buy.Price.GreaterThanOrEqual(sell.Price)
}

// tradePrice implements §4.4.4's four-case pricing rule.
func (e *Engine) tradePrice(ctx context.Context, a, b models.Order) (decimal.Decimal, error) {
	buy, sell := a, b
	if a.Side == models.SideSell {
		buy, sell = b, a
	}

	switch {
	case buy.Type == models.OrderTypeLimit && sell.Type == models.OrderTypeLimit:
		if buy.CreatedAt.Before(sell.CreatedAt) {
			return buy.Price, nil
		}
		return sell.Price, nil

	case buy.Type == models.OrderTypeMarket && sell.Type == models.OrderTypeLimit:
		return sell.Price, nil

	case buy.Type == models.OrderTypeLimit && sell.Type == models.OrderTypeMarket:
		return buy.Price, nil

	default: // both market
		buyPrice, err := e.marketReferencePrice(ctx, buy)
		if err != nil {
			return decimal.Zero, err
		}
		sellPrice, err := e.marketReferencePrice(ctx, sell)
		if err != nil {
			return decimal.Zero, err
		}
		return buyPrice.Add(sellPrice).Div(decimal.NewFromInt(2)), nil
	}
}

// marketReferencePrice resolves a market order's notional "price" for the
// both-market averaging case: the asset's last trade price, or absent any
// prior trade, o.Price — the order's own price field as the request carried
// it, which is zero when the request omitted it. On a cold asset the trade
// price is therefore the average of the two orders' price fields.
func (e *Engine) marketReferencePrice(ctx context.Context, o models.Order) (decimal.Decimal, error) {
	last, ok, err := e.store.LastTradePrice(ctx, o.Asset)
	if err != nil {
		return decimal.Zero, exerrors.Wrap(exerrors.KindInternal, err, "failed to read last trade price")
	}
	if ok {
		return last, nil
	}
	return o.Price, nil
}

func statusFor(o models.Order) models.OrderStatus {
	switch {
	case o.RemainingAmount.IsZero():
		return models.OrderStatusFilled
	case o.RemainingAmount.LessThan(o.Amount):
		return models.OrderStatusPartiallyFilled
	default:
		return models.OrderStatusPending
	}
}

// Cancel transitions orderID to cancelled if it is currently open,
// releasing its outstanding reservation back to available.
func (e *Engine) Cancel(ctx context.Context, orderID uuid.UUID) (bool, models.Order, error) {
	order, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return false, models.Order{}, err
	}

	lock := e.lockFor(order.Asset)
	lock.Lock()
	defer lock.Unlock()

	ok, cancelled, err := e.store.CancelOrder(ctx, orderID)
	if err == nil && ok {
		e.cache.Invalidate(ctx, order.Asset)
	}
	return ok, cancelled, err
}
