// Package api wires the HTTP transport: gin router, middleware chain, and
// the route table matching the request surface's external interface.
package api

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/clobx/exchange/api/dto"
	"github.com/clobx/exchange/api/handlers"
	"github.com/clobx/exchange/internal/eventbus"
	"github.com/clobx/exchange/internal/matching"
	"github.com/clobx/exchange/internal/query"
	"github.com/clobx/exchange/internal/store"
	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	_ "github.com/clobx/exchange/docs"
)

var addressRegexp = regexp.MustCompile(dto.AddressPattern)

// Server is the HTTP transport over the engine, store, and query service.
type Server struct {
	router *gin.Engine
	logger *zap.Logger
	http   *http.Server
}

// NewServer builds the router, registers middleware and routes, but does
// not start listening; call Start for that.
func NewServer(logger *zap.Logger, engine *matching.Engine, st store.Store, bus eventbus.Bus, q *query.Service) *Server {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("address", func(fl validator.FieldLevel) bool {
			return addressRegexp.MatchString(fl.Field().String())
		})
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(otelgin.Middleware("exchange-api"))
	router.Use(traceIDMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Trace-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Trace-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/health", handlers.Health)

	ordersH := handlers.NewOrders(engine, q)
	tradesH := handlers.NewTrades(q)
	settlementsH := handlers.NewSettlements(st, bus, q)
	balancesH := handlers.NewBalances(st, q)

	api := router.Group("/api")
	{
		api.POST("/settle", settlementsH.Create)
		api.GET("/settlements", settlementsH.List)
		api.GET("/settlements/:id", settlementsH.Get)
		api.GET("/settlements/address/:address", settlementsH.ByAddress)

		api.GET("/balance/:address", balancesH.Get)
		api.GET("/balance/:address/all", balancesH.All)
		api.GET("/assets", handlers.Assets)

		api.POST("/orders", ordersH.Create)
		api.GET("/orders", ordersH.List)
		api.GET("/orders/:id", ordersH.Get)
		api.POST("/orders/:id/cancel", ordersH.Cancel)
		api.GET("/orders/book/:asset", ordersH.Book)

		api.GET("/trades", tradesH.List)
		api.GET("/health", handlers.Health)
	}

	return &Server{
		router: router,
		logger: logger,
	}
}

// traceIDMiddleware reuses an inbound X-Trace-ID header or mints a new one,
// stores it in the gin context for handlers, and echoes it back. The
// ginzap access log lines do not include it.
func traceIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader("X-Trace-ID")
		if traceID == "" {
			traceID = uuid.New().String()
		}
		c.Set("trace_id", traceID)
		c.Header("X-Trace-ID", traceID)
		c.Next()
	}
}

// Router exposes the gin engine for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start runs the HTTP server on addr, blocking until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	s.logger.Info("api: starting server", zap.String("addr", addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
