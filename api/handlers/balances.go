package handlers

import (
	"net/http"
	"time"

	"github.com/clobx/exchange/api/dto"
	"github.com/clobx/exchange/api/responses"
	"github.com/clobx/exchange/internal/query"
	"github.com/clobx/exchange/internal/store"
	exerrors "github.com/clobx/exchange/pkg/errors"
	"github.com/clobx/exchange/pkg/models"
	"github.com/gin-gonic/gin"
)

// Balances handles balance lookups and the fixed asset catalogue, both
// rendered through the flat problem shape.
type Balances struct {
	store store.Store
	query *query.Service
}

func NewBalances(st store.Store, q *query.Service) *Balances {
	return &Balances{store: st, query: q}
}

// Get handles GET /balance/:address?asset=X.
func (h *Balances) Get(c *gin.Context) {
	address := c.Param("address")
	asset := c.Query("asset")
	if asset == "" {
		responses.Problem(c, exerrors.New(exerrors.KindValidation, "asset query parameter is required"))
		return
	}
	balance, err := h.store.GetBalance(c.Request.Context(), address, asset)
	if err != nil {
		responses.Problem(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.BalanceResult{Address: address, Asset: asset, Balance: balance.Available})
}

// All handles GET /balance/:address/all.
func (h *Balances) All(c *gin.Context) {
	address := c.Param("address")
	balances, err := h.query.Balances(c.Request.Context(), address)
	if err != nil {
		responses.Problem(c, err)
		return
	}
	c.JSON(http.StatusOK, responses.Timestamped(gin.H{
		"address":  address,
		"balances": balances,
		"total":    len(balances),
	}))
}

// Assets handles GET /assets.
func Assets(c *gin.Context) {
	c.JSON(http.StatusOK, responses.Timestamped(gin.H{
		"assets": models.Catalogue,
		"total":  len(models.Catalogue),
	}))
}

// Health handles GET /health.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
