package handlers

import (
	"net/http"

	"github.com/clobx/exchange/api/responses"
	"github.com/clobx/exchange/internal/query"
	"github.com/clobx/exchange/pkg/models"
	"github.com/gin-gonic/gin"
)

// Trades handles the read-only trade history endpoint.
type Trades struct {
	query *query.Service
}

func NewTrades(q *query.Service) *Trades {
	return &Trades{query: q}
}

// List handles GET /trades.
func (h *Trades) List(c *gin.Context) {
	filter := models.TradeFilter{
		Asset:   c.Query("asset"),
		Address: c.Query("address"),
	}
	trades, err := h.query.Trades(c.Request.Context(), filter)
	if err != nil {
		responses.Fail(c, err)
		return
	}
	responses.OK(c, http.StatusOK, trades)
}
