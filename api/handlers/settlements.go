package handlers

import (
	"net/http"
	"time"

	"github.com/clobx/exchange/api/dto"
	"github.com/clobx/exchange/api/responses"
	"github.com/clobx/exchange/internal/eventbus"
	"github.com/clobx/exchange/internal/query"
	"github.com/clobx/exchange/internal/store"
	exerrors "github.com/clobx/exchange/pkg/errors"
	"github.com/clobx/exchange/pkg/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Settlements handles out-of-book transfer requests and their read
// projections, rendered through the flat {error, message, statusCode}
// problem shape.
type Settlements struct {
	store store.Store
	bus   eventbus.Bus
	query *query.Service
}

func NewSettlements(st store.Store, bus eventbus.Bus, q *query.Service) *Settlements {
	return &Settlements{store: st, bus: bus, query: q}
}

// Create handles POST /settle.
func (h *Settlements) Create(c *gin.Context) {
	var req dto.SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.Problem(c, exerrors.Wrap(exerrors.KindValidation, err, "invalid settlement request"))
		return
	}
	if !models.IsKnownAsset(req.Asset) {
		responses.Problem(c, exerrors.Newf(exerrors.KindValidation, "unknown asset %q", req.Asset))
		return
	}

	ctx := c.Request.Context()
	settlement := models.Settlement{
		ID:        uuid.New(),
		From:      req.From,
		To:        req.To,
		Amount:    req.Amount,
		Asset:     req.Asset,
		Status:    models.SettlementStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.InsertSettlement(ctx, settlement); err != nil {
		responses.Problem(c, exerrors.Wrap(exerrors.KindInternal, err, "failed to record settlement"))
		return
	}

	if err := h.bus.Publish(ctx, eventbus.TopicSettlementRequests, settlement.ID.String(), eventbus.SettlementRequestedEvent{
		ID:     settlement.ID.String(),
		From:   settlement.From,
		To:     settlement.To,
		Amount: settlement.Amount.String(),
		Asset:  settlement.Asset,
	}); err != nil {
		responses.Problem(c, exerrors.Wrap(exerrors.KindInternal, err, "failed to publish settlement request"))
		return
	}

	c.JSON(http.StatusAccepted, dto.SettleResult{SettlementID: settlement.ID, Status: settlement.Status})
}

// List handles GET /settlements.
func (h *Settlements) List(c *gin.Context) {
	settlements, err := h.store.ListSettlements(c.Request.Context())
	if err != nil {
		responses.Problem(c, err)
		return
	}
	c.JSON(http.StatusOK, settlements)
}

// Get handles GET /settlements/:id.
func (h *Settlements) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		responses.Problem(c, exerrors.New(exerrors.KindValidation, "malformed settlement id"))
		return
	}
	settlement, err := h.query.Settlement(c.Request.Context(), id)
	if err != nil {
		responses.Problem(c, exerrors.Wrap(exerrors.KindNotFound, err, "settlement not found"))
		return
	}
	c.JSON(http.StatusOK, settlement)
}

// ByAddress handles GET /settlements/address/:address.
func (h *Settlements) ByAddress(c *gin.Context) {
	address := c.Param("address")
	views, err := h.query.Settlements(c.Request.Context(), address)
	if err != nil {
		responses.Problem(c, err)
		return
	}
	c.JSON(http.StatusOK, responses.Timestamped(gin.H{
		"address":     address,
		"settlements": views,
		"total":       len(views),
	}))
}
