// Package dto defines the request and response bodies the HTTP surface
// binds and renders, separate from the domain types in pkg/models.
package dto

import (
	"time"

	"github.com/clobx/exchange/pkg/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AddressPattern is the 0x-prefixed 20-byte hex address format, registered
// as the "address" validator tag by the request surface.
const AddressPattern = `^0x[0-9a-fA-F]{40}$`

// OrderRequest is the POST /orders body.
type OrderRequest struct {
	Address string          `json:"address" binding:"required,address"`
	Asset   string          `json:"asset" binding:"required,min=3,max=10"`
	Side    string          `json:"side" binding:"required,oneof=buy sell"`
	Type    string          `json:"type" binding:"required,oneof=limit market"`
	Amount  decimal.Decimal `json:"amount" binding:"required"`
	Price   decimal.Decimal `json:"price"`
}

// OrderResult is the data payload of POST /orders's 201 response.
type OrderResult struct {
	OrderID         uuid.UUID       `json:"orderId"`
	Trades          []models.Trade  `json:"trades"`
	RemainingAmount decimal.Decimal `json:"remainingAmount"`
}

// SettleRequest is the POST /settle body.
type SettleRequest struct {
	From   string          `json:"from" binding:"required,address"`
	To     string          `json:"to" binding:"required,address"`
	Amount decimal.Decimal `json:"amount" binding:"required"`
	Asset  string          `json:"asset" binding:"required,min=3,max=10"`
}

// SettleResult is the data payload of POST /settle's 202 response.
type SettleResult struct {
	SettlementID uuid.UUID               `json:"settlementId"`
	Status       models.SettlementStatus `json:"status"`
}

// BalanceResult is the body of GET /balance/:address.
type BalanceResult struct {
	Address string          `json:"address"`
	Asset   string          `json:"asset"`
	Balance decimal.Decimal `json:"balance"`
}

// BookResult is the data payload of GET /orders/book/:asset.
type BookResult struct {
	Asset     string             `json:"asset"`
	Bids      []models.BookLevel `json:"bids"`
	Asks      []models.BookLevel `json:"asks"`
	Timestamp time.Time          `json:"timestamp"`
}
