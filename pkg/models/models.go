// Package models defines the exchange's four first-class entities — Balance,
// Settlement, Order, and Trade — and the enums that drive their state
// machines. All monetary fields use shopspring/decimal rather than binary
// floating point so the conservation invariants of the matching engine hold
// exactly.
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType distinguishes a price-bounded order from one that seeks
// immediate execution.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrderStatus is the order lifecycle state. pending -> partially_filled ->
// filled is the fill path; cancelled is reachable from pending or
// partially_filled only.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
)

// IsTerminal reports whether an order in this status can ever transition
// again.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled
}

// IsOpen reports whether an order in this status is eligible to be matched
// against, or cancelled.
func (s OrderStatus) IsOpen() bool {
	return s == OrderStatusPending || s == OrderStatusPartiallyFilled
}

// SettlementStatus is the lifecycle of an out-of-book transfer.
type SettlementStatus string

const (
	SettlementStatusPending   SettlementStatus = "pending"
	SettlementStatusConfirmed SettlementStatus = "confirmed"
	SettlementStatusFailed    SettlementStatus = "failed"
)

// QuoteAsset is the fixed quote currency every order and trade is priced in.
const QuoteAsset = "USDC"

// Balance is keyed by (Address, Asset). Available is free to trade or
// withdraw; Reserved is escrowed against an open order or an in-flight
// settlement debit. A caller asking for "the balance" without reservation
// context means Available.
type Balance struct {
	Address   string          `json:"address" gorm:"primaryKey;column:address"`
	Asset     string          `json:"asset" gorm:"primaryKey;column:asset;index"`
	Available decimal.Decimal `json:"available" gorm:"type:numeric(36,18)"`
	Reserved  decimal.Decimal `json:"reserved" gorm:"type:numeric(36,18)"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Total is the sum a caller sees as the account's total holding of Asset.
func (b Balance) Total() decimal.Decimal {
	return b.Available.Add(b.Reserved)
}

// Settlement is an asynchronous, out-of-book credit/debit between two
// addresses for a single asset. It is created pending and transitions
// exactly once to confirmed or failed.
type Settlement struct {
	ID          uuid.UUID        `json:"id" gorm:"primaryKey;type:uuid"`
	From        string           `json:"from" gorm:"index"`
	To          string           `json:"to" gorm:"index"`
	Amount      decimal.Decimal  `json:"amount" gorm:"type:numeric(36,18)"`
	Asset       string           `json:"asset" gorm:"index"`
	Status      SettlementStatus `json:"status" gorm:"index"`
	Reason      string           `json:"reason,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	ConfirmedAt *time.Time       `json:"confirmedAt,omitempty"`
}

// SettlementRole annotates a Settlement in an address-scoped listing with
// which side of the transfer the queried address played.
type SettlementRole string

const (
	SettlementRoleSender   SettlementRole = "sender"
	SettlementRoleReceiver SettlementRole = "receiver"
)

// SettlementView pairs a Settlement with the role the queried address held
// in it, for ListSettlementsByAddress.
type SettlementView struct {
	Settlement
	Role SettlementRole `json:"role"`
}

// Order is an engine-admitted limit or market order. ReservedQuote and
// ReservedBase hold whatever portion of the order's escrow has not yet been
// settled or released; at most one of the two is ever non-zero, depending on
// Side (buy orders escrow quote, sell orders escrow base), and both are zero
// once the escrow is used up.
type Order struct {
	ID              uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	Address         string          `json:"address" gorm:"index"`
	Asset           string          `json:"asset" gorm:"index"`
	Side            Side            `json:"side" gorm:"index"`
	Type            OrderType       `json:"type"`
	Amount          decimal.Decimal `json:"amount" gorm:"type:numeric(36,18)"`
	RemainingAmount decimal.Decimal `json:"remainingAmount" gorm:"type:numeric(36,18)"`
	Price           decimal.Decimal `json:"price" gorm:"type:numeric(36,18)"`
	ReservedQuote   decimal.Decimal `json:"reservedQuote" gorm:"type:numeric(36,18)"`
	ReservedBase    decimal.Decimal `json:"reservedBase" gorm:"type:numeric(36,18)"`
	Status          OrderStatus     `json:"status" gorm:"index"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Trade is the immutable record of one match between a buy and a sell order.
type Trade struct {
	ID            uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	BuyOrderID    uuid.UUID       `json:"buyOrderId" gorm:"index"`
	SellOrderID   uuid.UUID       `json:"sellOrderId" gorm:"index"`
	Asset         string          `json:"asset" gorm:"index"`
	Amount        decimal.Decimal `json:"amount" gorm:"type:numeric(36,18)"`
	Price         decimal.Decimal `json:"price" gorm:"type:numeric(36,18)"`
	BuyerAddress  string          `json:"buyerAddress" gorm:"index"`
	SellerAddress string          `json:"sellerAddress" gorm:"index"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// OrderFilter narrows ListOrders. Zero values mean "no filter on this field".
type OrderFilter struct {
	Address string
	Status  OrderStatus
}

// TradeFilter narrows ListTrades; Address matches either the buyer or the
// seller side of the trade.
type TradeFilter struct {
	Asset   string
	Address string
}

// BookLevel is one aggregated price level of the order book.
type BookLevel struct {
	Price          decimal.Decimal `json:"price"`
	TotalRemaining decimal.Decimal `json:"totalRemaining"`
	OrderCount     int             `json:"orderCount"`
}
