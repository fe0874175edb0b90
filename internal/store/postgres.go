package store

import (
	"context"
	"time"

	exerrors "github.com/clobx/exchange/pkg/errors"
	"github.com/clobx/exchange/pkg/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// PostgresStore is the production Store backend, using gorm's Transaction
// helper to give ExecuteTrade and ApplySettlement their atomicity boundary.
type PostgresStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewPostgresStore opens dsn and auto-migrates the four entity tables.
func NewPostgresStore(dsn string, logger *zap.Logger) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, exerrors.Wrap(exerrors.KindInternal, err, "failed to connect to postgres")
	}
	if err := db.AutoMigrate(&models.Balance{}, &models.Settlement{}, &models.Order{}, &models.Trade{}); err != nil {
		return nil, exerrors.Wrap(exerrors.KindInternal, err, "failed to migrate schema")
	}
	return &PostgresStore{db: db, logger: logger}, nil
}

// DB exposes the underlying gorm handle, e.g. for connection pool metrics.
func (s *PostgresStore) DB() *gorm.DB { return s.db }

func (s *PostgresStore) GetBalance(ctx context.Context, address, asset string) (models.Balance, error) {
	var b models.Balance
	err := s.db.WithContext(ctx).Where("address = ? AND asset = ?", address, asset).First(&b).Error
	if err == gorm.ErrRecordNotFound {
		return models.Balance{Address: address, Asset: asset, Available: decimal.Zero, Reserved: decimal.Zero}, nil
	}
	if err != nil {
		return models.Balance{}, exerrors.Wrap(exerrors.KindInternal, err, "get balance")
	}
	return b, nil
}

func (s *PostgresStore) PutBalance(ctx context.Context, b models.Balance) error {
	b.UpdatedAt = time.Now().UTC()
	err := s.db.WithContext(ctx).Save(&b).Error
	if err != nil {
		return exerrors.Wrap(exerrors.KindInternal, err, "put balance")
	}
	return nil
}

func (s *PostgresStore) ListBalances(ctx context.Context, address string) ([]models.Balance, error) {
	var out []models.Balance
	err := s.db.WithContext(ctx).Where("address = ?", address).Order("asset").Find(&out).Error
	if err != nil {
		return nil, exerrors.Wrap(exerrors.KindInternal, err, "list balances")
	}
	return out, nil
}

func getOrCreateBalanceTx(tx *gorm.DB, address, asset string) (*models.Balance, error) {
	var b models.Balance
	err := tx.Where("address = ? AND asset = ?", address, asset).First(&b).Error
	if err == gorm.ErrRecordNotFound {
		b = models.Balance{Address: address, Asset: asset, Available: decimal.Zero, Reserved: decimal.Zero, UpdatedAt: time.Now().UTC()}
		if err := tx.Create(&b).Error; err != nil {
			return nil, err
		}
		return &b, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *PostgresStore) ReserveBalance(ctx context.Context, address, asset string, amount decimal.Decimal) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := getOrCreateBalanceTx(tx, address, asset)
		if err != nil {
			return err
		}
		if b.Available.LessThan(amount) {
			return exerrors.Newf(exerrors.KindInsufficientBalance, "insufficient balance: required %s, available %s", amount, b.Available)
		}
		b.Available = b.Available.Sub(amount)
		b.Reserved = b.Reserved.Add(amount)
		b.UpdatedAt = time.Now().UTC()
		return tx.Save(b).Error
	})
}

func (s *PostgresStore) ReleaseReservation(ctx context.Context, address, asset string, amount decimal.Decimal) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := getOrCreateBalanceTx(tx, address, asset)
		if err != nil {
			return err
		}
		b.Reserved = b.Reserved.Sub(amount)
		b.Available = b.Available.Add(amount)
		b.UpdatedAt = time.Now().UTC()
		return tx.Save(b).Error
	})
}

func (s *PostgresStore) SettleReservation(ctx context.Context, address, asset string, amount decimal.Decimal) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := getOrCreateBalanceTx(tx, address, asset)
		if err != nil {
			return err
		}
		b.Reserved = b.Reserved.Sub(amount)
		b.UpdatedAt = time.Now().UTC()
		return tx.Save(b).Error
	})
}

func (s *PostgresStore) InsertSettlement(ctx context.Context, settlement models.Settlement) error {
	if err := s.db.WithContext(ctx).Create(&settlement).Error; err != nil {
		return exerrors.Wrap(exerrors.KindInternal, err, "insert settlement")
	}
	return nil
}

func (s *PostgresStore) UpdateSettlementStatus(ctx context.Context, id uuid.UUID, status models.SettlementStatus, reason string, confirmedAt *time.Time) error {
	err := s.db.WithContext(ctx).Model(&models.Settlement{}).Where("id = ?", id).
		Updates(map[string]any{"status": status, "reason": reason, "confirmed_at": confirmedAt}).Error
	if err != nil {
		return exerrors.Wrap(exerrors.KindInternal, err, "update settlement status")
	}
	return nil
}

func (s *PostgresStore) GetSettlement(ctx context.Context, id uuid.UUID) (models.Settlement, error) {
	var out models.Settlement
	err := s.db.WithContext(ctx).First(&out, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return models.Settlement{}, exerrors.Newf(exerrors.KindNotFound, "settlement %s not found", id)
	}
	if err != nil {
		return models.Settlement{}, exerrors.Wrap(exerrors.KindInternal, err, "get settlement")
	}
	return out, nil
}

func (s *PostgresStore) ListSettlements(ctx context.Context) ([]models.Settlement, error) {
	var out []models.Settlement
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&out).Error
	if err != nil {
		return nil, exerrors.Wrap(exerrors.KindInternal, err, "list settlements")
	}
	return out, nil
}

func (s *PostgresStore) ListSettlementsByAddress(ctx context.Context, address string) ([]models.SettlementView, error) {
	var rows []models.Settlement
	err := s.db.WithContext(ctx).Where("\"from\" = ? OR \"to\" = ?", address, address).
		Order("created_at DESC").Find(&rows).Error
	if err != nil {
		return nil, exerrors.Wrap(exerrors.KindInternal, err, "list settlements by address")
	}
	out := make([]models.SettlementView, 0, len(rows))
	for _, settlement := range rows {
		role := models.SettlementRoleReceiver
		if settlement.From == address {
			role = models.SettlementRoleSender
		}
		out = append(out, models.SettlementView{Settlement: settlement, Role: role})
	}
	return out, nil
}

func (s *PostgresStore) ApplySettlement(ctx context.Context, id uuid.UUID, from, to, asset string, amount decimal.Decimal, confirmedAt time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fromBal, err := getOrCreateBalanceTx(tx, from, asset)
		if err != nil {
			return err
		}
		toBal, err := getOrCreateBalanceTx(tx, to, asset)
		if err != nil {
			return err
		}
		fromBal.Available = fromBal.Available.Sub(amount)
		fromBal.UpdatedAt = confirmedAt
		if err := tx.Save(fromBal).Error; err != nil {
			return err
		}
		toBal.Available = toBal.Available.Add(amount)
		toBal.UpdatedAt = confirmedAt
		if err := tx.Save(toBal).Error; err != nil {
			return err
		}
		return tx.Model(&models.Settlement{}).Where("id = ?", id).
			Updates(map[string]any{"status": models.SettlementStatusConfirmed, "reason": "", "confirmed_at": confirmedAt}).Error
	})
}

func (s *PostgresStore) InsertOrder(ctx context.Context, order models.Order) error {
	if err := s.db.WithContext(ctx).Create(&order).Error; err != nil {
		return exerrors.Wrap(exerrors.KindInternal, err, "insert order")
	}
	return nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, id uuid.UUID) (models.Order, error) {
	var out models.Order
	err := s.db.WithContext(ctx).First(&out, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return models.Order{}, exerrors.Newf(exerrors.KindNotFound, "order %s not found", id)
	}
	if err != nil {
		return models.Order{}, exerrors.Wrap(exerrors.KindInternal, err, "get order")
	}
	return out, nil
}

func (s *PostgresStore) ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, error) {
	q := s.db.WithContext(ctx).Model(&models.Order{})
	if filter.Address != "" {
		q = q.Where("address = ?", filter.Address)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	var out []models.Order
	if err := q.Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, exerrors.Wrap(exerrors.KindInternal, err, "list orders")
	}
	return out, nil
}

func (s *PostgresStore) SetOrderStatus(ctx context.Context, id uuid.UUID, status models.OrderStatus) error {
	err := s.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", id).
		Updates(map[string]any{"status": status, "updated_at": time.Now().UTC()}).Error
	if err != nil {
		return exerrors.Wrap(exerrors.KindInternal, err, "set order status")
	}
	return nil
}

func (s *PostgresStore) SetOrderRemaining(ctx context.Context, id uuid.UUID, value decimal.Decimal) error {
	err := s.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", id).
		Updates(map[string]any{"remaining_amount": value, "updated_at": time.Now().UTC()}).Error
	if err != nil {
		return exerrors.Wrap(exerrors.KindInternal, err, "set order remaining")
	}
	return nil
}

func (s *PostgresStore) CancelOrder(ctx context.Context, id uuid.UUID) (bool, models.Order, error) {
	var result models.Order
	ok := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := tx.Clauses().First(&order, "id = ?", id).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return exerrors.Newf(exerrors.KindNotFound, "order %s not found", id)
			}
			return err
		}
		if !order.Status.IsOpen() {
			result = order
			return nil
		}
		if order.Side == models.SideBuy && order.ReservedQuote.IsPositive() {
			bal, err := getOrCreateBalanceTx(tx, order.Address, models.QuoteAsset)
			if err != nil {
				return err
			}
			bal.Reserved = bal.Reserved.Sub(order.ReservedQuote)
			bal.Available = bal.Available.Add(order.ReservedQuote)
			bal.UpdatedAt = time.Now().UTC()
			if err := tx.Save(bal).Error; err != nil {
				return err
			}
			order.ReservedQuote = decimal.Zero
		}
		if order.Side == models.SideSell && order.ReservedBase.IsPositive() {
			bal, err := getOrCreateBalanceTx(tx, order.Address, order.Asset)
			if err != nil {
				return err
			}
			bal.Reserved = bal.Reserved.Sub(order.ReservedBase)
			bal.Available = bal.Available.Add(order.ReservedBase)
			bal.UpdatedAt = time.Now().UTC()
			if err := tx.Save(bal).Error; err != nil {
				return err
			}
			order.ReservedBase = decimal.Zero
		}
		order.Status = models.OrderStatusCancelled
		order.UpdatedAt = time.Now().UTC()
		if err := tx.Save(&order).Error; err != nil {
			return err
		}
		result = order
		ok = true
		return nil
	})
	if err != nil {
		return false, models.Order{}, err
	}
	return ok, result, nil
}

func (s *PostgresStore) InsertTrade(ctx context.Context, trade models.Trade) error {
	if err := s.db.WithContext(ctx).Create(&trade).Error; err != nil {
		return exerrors.Wrap(exerrors.KindInternal, err, "insert trade")
	}
	return nil
}

func (s *PostgresStore) ListTrades(ctx context.Context, filter models.TradeFilter) ([]models.Trade, error) {
	q := s.db.WithContext(ctx).Model(&models.Trade{})
	if filter.Asset != "" {
		q = q.Where("asset = ?", filter.Asset)
	}
	if filter.Address != "" {
		q = q.Where("buyer_address = ? OR seller_address = ?", filter.Address, filter.Address)
	}
	var out []models.Trade
	if err := q.Order("created_at DESC").Limit(100).Find(&out).Error; err != nil {
		return nil, exerrors.Wrap(exerrors.KindInternal, err, "list trades")
	}
	return out, nil
}

func (s *PostgresStore) LastTradePrice(ctx context.Context, asset string) (decimal.Decimal, bool, error) {
	var trade models.Trade
	err := s.db.WithContext(ctx).Where("asset = ?", asset).Order("created_at DESC").First(&trade).Error
	if err == gorm.ErrRecordNotFound {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, exerrors.Wrap(exerrors.KindInternal, err, "last trade price")
	}
	return trade.Price, true, nil
}

func (s *PostgresStore) Book(ctx context.Context, asset string) ([]models.BookLevel, []models.BookLevel, error) {
	bids, err := s.aggregateSide(ctx, asset, models.SideBuy)
	if err != nil {
		return nil, nil, err
	}
	asks, err := s.aggregateSide(ctx, asset, models.SideSell)
	if err != nil {
		return nil, nil, err
	}
	return bids, asks, nil
}

type bookRow struct {
	Price      decimal.Decimal
	Remaining  decimal.Decimal
	OrderCount int
}

func (s *PostgresStore) aggregateSide(ctx context.Context, asset string, side models.Side) ([]models.BookLevel, error) {
	order := "price ASC"
	if side == models.SideBuy {
		order = "price DESC"
	}
	var rows []bookRow
	err := s.db.WithContext(ctx).Model(&models.Order{}).
		Select("price AS price, SUM(remaining_amount) AS remaining, COUNT(*) AS order_count").
		Where("asset = ? AND side = ? AND status IN ?", asset, side, []models.OrderStatus{models.OrderStatusPending, models.OrderStatusPartiallyFilled}).
		Group("price").Order(order).Limit(10).Scan(&rows).Error
	if err != nil {
		return nil, exerrors.Wrap(exerrors.KindInternal, err, "aggregate book")
	}
	out := make([]models.BookLevel, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.BookLevel{Price: r.Price, TotalRemaining: r.Remaining, OrderCount: r.OrderCount})
	}
	return out, nil
}

func (s *PostgresStore) MatchCandidates(ctx context.Context, asset string, side models.Side) ([]models.Order, error) {
	order := "price ASC, created_at ASC"
	if side == models.SideBuy {
		order = "price DESC, created_at ASC"
	}
	var out []models.Order
	err := s.db.WithContext(ctx).
		Where("asset = ? AND side = ? AND status IN ?", asset, side, []models.OrderStatus{models.OrderStatusPending, models.OrderStatusPartiallyFilled}).
		Order(order).Find(&out).Error
	if err != nil {
		return nil, exerrors.Wrap(exerrors.KindInternal, err, "match candidates")
	}
	return out, nil
}

func (s *PostgresStore) ExecuteTrade(ctx context.Context, in ExecuteTradeInput) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&in.Trade).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Order{}).Where("id = ?", in.BuyOrder.ID).Updates(map[string]any{
			"status":           in.BuyOrder.Status,
			"remaining_amount": in.BuyOrder.RemainingAmount,
			"reserved_quote":   in.BuyOrder.ReservedQuote,
			"updated_at":       time.Now().UTC(),
		}).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Order{}).Where("id = ?", in.SellOrder.ID).Updates(map[string]any{
			"status":           in.SellOrder.Status,
			"remaining_amount": in.SellOrder.RemainingAmount,
			"reserved_base":    in.SellOrder.ReservedBase,
			"updated_at":       time.Now().UTC(),
		}).Error; err != nil {
			return err
		}

		sellerBase, err := getOrCreateBalanceTx(tx, in.Trade.SellerAddress, in.Trade.Asset)
		if err != nil {
			return err
		}
		sellerBase.Reserved = sellerBase.Reserved.Sub(in.SellerBaseSettle)
		sellerBase.UpdatedAt = time.Now().UTC()
		if err := tx.Save(sellerBase).Error; err != nil {
			return err
		}

		buyerBase, err := getOrCreateBalanceTx(tx, in.Trade.BuyerAddress, in.Trade.Asset)
		if err != nil {
			return err
		}
		buyerBase.Available = buyerBase.Available.Add(in.Trade.Amount)
		buyerBase.UpdatedAt = time.Now().UTC()
		if err := tx.Save(buyerBase).Error; err != nil {
			return err
		}

		buyerQuote, err := getOrCreateBalanceTx(tx, in.Trade.BuyerAddress, models.QuoteAsset)
		if err != nil {
			return err
		}
		buyerQuote.Reserved = buyerQuote.Reserved.Sub(in.BuyerQuoteSettle).Sub(in.BuyerQuoteRelease)
		if in.BuyerQuoteRelease.IsPositive() {
			buyerQuote.Available = buyerQuote.Available.Add(in.BuyerQuoteRelease)
		}
		buyerQuote.UpdatedAt = time.Now().UTC()
		if err := tx.Save(buyerQuote).Error; err != nil {
			return err
		}

		sellerQuote, err := getOrCreateBalanceTx(tx, in.Trade.SellerAddress, models.QuoteAsset)
		if err != nil {
			return err
		}
		sellerQuote.Available = sellerQuote.Available.Add(in.Trade.Amount.Mul(in.Trade.Price))
		sellerQuote.UpdatedAt = time.Now().UTC()
		return tx.Save(sellerQuote).Error
	})
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
