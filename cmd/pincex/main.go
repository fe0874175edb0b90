package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clobx/exchange/api"
	"github.com/clobx/exchange/internal/cache"
	"github.com/clobx/exchange/internal/config"
	"github.com/clobx/exchange/internal/eventbus"
	"github.com/clobx/exchange/internal/matching"
	"github.com/clobx/exchange/internal/query"
	"github.com/clobx/exchange/internal/settlement"
	"github.com/clobx/exchange/internal/store"
	"github.com/clobx/exchange/internal/tracing"
	"github.com/clobx/exchange/pkg/logger"
	"github.com/clobx/exchange/pkg/metrics"
	"github.com/clobx/exchange/pkg/models"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// seedAddresses are the four fixed accounts the exchange starts with on an
// empty store, matching the preconditions assumed by the scenario suite.
var seedAddresses = []struct {
	address  string
	balances map[string]string
}{
	{"0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", map[string]string{"ETH": "2", "USDC": "500"}},
	{"0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", map[string]string{"USDC": "10000"}},
	{"0xcccccccccccccccccccccccccccccccccccccccc", map[string]string{}},
	{"0xdddddddddddddddddddddddddddddddddddddddd", map[string]string{}},
}

func main() {
	cfg := config.Load()

	zapLogger, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("main: failed to create logger: %v", err))
	}
	defer zapLogger.Sync()

	shutdownTracing, err := tracing.Setup(cfg.OTELExporter)
	if err != nil {
		zapLogger.Fatal("main: failed to set up tracing", zap.Error(err))
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			zapLogger.Error("main: tracing shutdown error", zap.Error(err))
		}
	}()

	st, err := newStore(cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("main: failed to open store", zap.Error(err))
	}
	defer st.Close()

	dbMetricsStop := make(chan struct{})
	defer close(dbMetricsStop)
	if pg, ok := st.(*store.PostgresStore); ok {
		go collectDBPoolMetrics(pg, dbMetricsStop)
	}

	if err := seedIfEmpty(context.Background(), st); err != nil {
		zapLogger.Fatal("main: failed to seed balances", zap.Error(err))
	}

	bus := newBus(cfg, zapLogger)
	defer bus.Close()

	bookCache := newBookCache(cfg, zapLogger)

	engine := matching.NewEngine(st, zapLogger).WithCache(bookCache)
	q := query.New(st, bookCache, zapLogger)

	proc := settlement.NewProcessor(st, bus, zapLogger, cfg.SettlementMinDelay, cfg.SettlementMaxDelay, cfg.SettlementWorkers)
	procCtx, procCancel := context.WithCancel(context.Background())
	if err := proc.Start(procCtx); err != nil {
		zapLogger.Fatal("main: failed to start settlement processor", zap.Error(err))
	}

	server := api.NewServer(zapLogger, engine, st, bus, q)
	addr := ":" + cfg.Port

	go func() {
		if err := server.Start(addr); err != nil {
			zapLogger.Fatal("main: api server failed", zap.Error(err))
		}
	}()
	zapLogger.Info("main: exchange started", zap.String("addr", addr), zap.String("storeDriver", cfg.StoreDriver), zap.String("busDriver", cfg.BusDriver))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("main: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("main: server shutdown error", zap.Error(err))
	}

	proc.Stop()
	procCancel()

	zapLogger.Info("main: shutdown complete")
}

// collectDBPoolMetrics samples the Postgres connection pool every 30s until
// stop is closed, feeding pkg/metrics' DB gauges.
func collectDBPoolMetrics(pg *store.PostgresStore, stop <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			sqlDB, err := pg.DB().DB()
			if err != nil {
				continue
			}
			stats := sqlDB.Stats()
			metrics.DBOpenConns.WithLabelValues("postgres").Set(float64(stats.OpenConnections))
			metrics.DBIdleConns.WithLabelValues("postgres").Set(float64(stats.Idle))
			metrics.DBInUseConns.WithLabelValues("postgres").Set(float64(stats.InUse))
		}
	}
}

func newStore(cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	if cfg.StoreDriver == "postgres" {
		return store.NewPostgresStore(cfg.DatabaseURL, logger)
	}
	return store.NewMemoryStore(logger), nil
}

func newBus(cfg *config.Config, logger *zap.Logger) eventbus.Bus {
	if cfg.BusDriver == "kafka" {
		brokers := []string{cfg.KafkaBrokers}
		return eventbus.NewKafkaBus(brokers, cfg.KafkaTopicPrefix, logger)
	}
	return eventbus.NewMemoryBus(logger)
}

func newBookCache(cfg *config.Config, logger *zap.Logger) *cache.BookCache {
	if cfg.RedisURL == "" {
		logger.Info("main: REDIS_URL unset, running without book cache")
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
	if err := cache.Ping(context.Background(), client); err != nil {
		logger.Warn("main: redis unreachable, running without book cache", zap.Error(err))
		return nil
	}
	return cache.New(client, cfg.BookCacheTTL, logger)
}

func seedIfEmpty(ctx context.Context, st store.Store) error {
	existing, err := st.ListBalances(ctx, seedAddresses[0].address)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	now := time.Now().UTC()
	for _, seed := range seedAddresses {
		for _, asset := range models.Catalogue {
			amount := decimal.Zero
			if s, ok := seed.balances[asset.Symbol]; ok {
				amount, err = decimal.NewFromString(s)
				if err != nil {
					return fmt.Errorf("main: bad seed amount for %s/%s: %w", seed.address, asset.Symbol, err)
				}
			}
			if err := st.PutBalance(ctx, models.Balance{
				Address:   seed.address,
				Asset:     asset.Symbol,
				Available: amount,
				Reserved:  decimal.Zero,
				UpdatedAt: now,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}
