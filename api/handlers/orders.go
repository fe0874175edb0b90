package handlers

import (
	"net/http"
	"time"

	"github.com/clobx/exchange/api/dto"
	"github.com/clobx/exchange/api/responses"
	"github.com/clobx/exchange/internal/matching"
	"github.com/clobx/exchange/internal/query"
	exerrors "github.com/clobx/exchange/pkg/errors"
	"github.com/clobx/exchange/pkg/metrics"
	"github.com/clobx/exchange/pkg/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Orders groups the order admission, lookup, cancellation, and book
// handlers, all rendered through the {success, data}/{success, error}
// envelope.
type Orders struct {
	engine *matching.Engine
	query  *query.Service
}

func NewOrders(engine *matching.Engine, q *query.Service) *Orders {
	return &Orders{engine: engine, query: q}
}

// Create handles POST /orders.
func (h *Orders) Create(c *gin.Context) {
	start := time.Now()
	defer func() { metrics.OrderLatency.Observe(time.Since(start).Seconds()) }()

	var req dto.OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.Fail(c, exerrors.Wrap(exerrors.KindValidation, err, "invalid order request"))
		return
	}

	orderID, trades, remaining, err := h.engine.ProcessOrder(c.Request.Context(), matching.OrderRequest{
		Address: req.Address,
		Asset:   req.Asset,
		Side:    models.Side(req.Side),
		Type:    models.OrderType(req.Type),
		Amount:  req.Amount,
		Price:   req.Price,
	})
	if err != nil {
		responses.Fail(c, err)
		return
	}

	responses.OK(c, http.StatusCreated, dto.OrderResult{
		OrderID:         orderID,
		Trades:          trades,
		RemainingAmount: remaining,
	})
}

// List handles GET /orders.
func (h *Orders) List(c *gin.Context) {
	filter := models.OrderFilter{
		Address: c.Query("address"),
		Status:  models.OrderStatus(c.Query("status")),
	}
	orders, err := h.query.Orders(c.Request.Context(), filter)
	if err != nil {
		responses.Fail(c, err)
		return
	}
	responses.OK(c, http.StatusOK, orders)
}

// Get handles GET /orders/:id.
func (h *Orders) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		responses.Fail(c, exerrors.New(exerrors.KindValidation, "malformed order id"))
		return
	}
	order, err := h.query.Order(c.Request.Context(), id)
	if err != nil {
		responses.Fail(c, exerrors.Wrap(exerrors.KindNotFound, err, "order not found"))
		return
	}
	responses.OK(c, http.StatusOK, order)
}

// Cancel handles POST /orders/:id/cancel.
func (h *Orders) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		responses.Fail(c, exerrors.New(exerrors.KindValidation, "malformed order id"))
		return
	}
	ok, order, err := h.engine.Cancel(c.Request.Context(), id)
	if err != nil {
		responses.Fail(c, exerrors.Wrap(exerrors.KindNotFound, err, "order not found"))
		return
	}
	if !ok {
		responses.Fail(c, exerrors.Newf(exerrors.KindCannotCancel, "Order cannot be cancelled. Current status: %s", order.Status))
		return
	}
	responses.OK(c, http.StatusOK, gin.H{"message": "order cancelled"})
}

// Book handles GET /orders/book/:asset.
func (h *Orders) Book(c *gin.Context) {
	asset := c.Param("asset")
	bids, asks, err := h.query.Book(c.Request.Context(), asset)
	if err != nil {
		responses.Fail(c, err)
		return
	}
	responses.OK(c, http.StatusOK, dto.BookResult{
		Asset:     asset,
		Bids:      bids,
		Asks:      asks,
		Timestamp: time.Now().UTC(),
	})
}
