// Package settlement runs the asynchronous settlement processor: a
// subscriber to settlement_requests that simulates confirmation latency,
// moves balances, and publishes the terminal outcome.
package settlement

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/clobx/exchange/internal/eventbus"
	"github.com/clobx/exchange/internal/store"
	exerrors "github.com/clobx/exchange/pkg/errors"
	"github.com/clobx/exchange/pkg/metrics"
	"github.com/clobx/exchange/pkg/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Processor consumes settlement_requests, confirms or fails each one, and
// publishes the corresponding outcome event. The handler dispatches each
// received event to a worker from a small pool so a slow settlement never
// delays reading the next message off the bus.
type Processor struct {
	store  store.Store
	bus    eventbus.Bus
	logger *zap.Logger

	minDelay time.Duration
	maxDelay time.Duration

	work chan eventbus.SettlementRequestedEvent
	done chan struct{}
}

func NewProcessor(st store.Store, bus eventbus.Bus, logger *zap.Logger, minDelay, maxDelay time.Duration, workers int) *Processor {
	if workers <= 0 {
		workers = 4
	}
	p := &Processor{
		store:    st,
		bus:      bus,
		logger:   logger,
		minDelay: minDelay,
		maxDelay: maxDelay,
		work:     make(chan eventbus.SettlementRequestedEvent, 256),
		done:     make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// Start subscribes to settlement_requests. It returns once the subscription
// is registered; the subscription runs until ctx is cancelled and the
// workers run until Stop is called. A settlement already in its confirmation
// delay is not interrupted by either.
func (p *Processor) Start(ctx context.Context) error {
	return p.bus.Subscribe(ctx, eventbus.TopicSettlementRequests, "settlement-processor", func(ctx context.Context, payload []byte) error {
		var evt eventbus.SettlementRequestedEvent
		if err := json.Unmarshal(payload, &evt); err != nil {
			p.logger.Error("settlement: invalid request payload", zap.Error(err))
			return err
		}
		select {
		case p.work <- evt:
		case <-ctx.Done():
		}
		return nil
	})
}

func (p *Processor) Stop() {
	close(p.done)
}

func (p *Processor) worker() {
	for {
		select {
		case <-p.done:
			return
		case evt := <-p.work:
			p.process(evt)
		}
	}
}

func (p *Processor) process(evt eventbus.SettlementRequestedEvent) {
	start := time.Now()
	ctx := context.Background()

	id, err := uuid.Parse(evt.ID)
	if err != nil {
		p.logger.Error("settlement: malformed settlement id", zap.String("id", evt.ID), zap.Error(err))
		return
	}

	if err := p.sleepRandomDelay(ctx); err != nil {
		p.logger.Info("settlement: confirmation delay interrupted by shutdown", zap.String("id", evt.ID))
		return
	}

	record, err := p.store.GetSettlement(ctx, id)
	if err != nil {
		p.logger.Error("settlement: failed to reload record", zap.String("id", evt.ID), zap.Error(err))
		return
	}
	if record.Status != models.SettlementStatusPending {
		p.logger.Debug("settlement: already terminal, dropping redelivered event", zap.String("id", evt.ID), zap.String("status", string(record.Status)))
		return
	}

	if err := p.settle(ctx, record); err != nil {
		p.fail(ctx, record, "Processing error occurred")
		p.logger.Error("settlement: processing error", zap.String("id", evt.ID), zap.Error(err))
		metrics.SettlementsProcessed.WithLabelValues("failed").Inc()
		metrics.SettlementLatency.Observe(time.Since(start).Seconds())
		return
	}

	metrics.SettlementLatency.Observe(time.Since(start).Seconds())
}

func (p *Processor) settle(ctx context.Context, record models.Settlement) error {
	balance, err := p.store.GetBalance(ctx, record.From, record.Asset)
	if err != nil {
		return err
	}
	if balance.Available.LessThan(record.Amount) {
		reason := exerrors.Newf(exerrors.KindInsufficientBalance, "Insufficient balance: required %s, available %s", record.Amount, balance.Available).Message
		p.fail(ctx, record, reason)
		metrics.SettlementsProcessed.WithLabelValues("failed").Inc()
		return nil
	}

	now := time.Now().UTC()
	if err := p.store.ApplySettlement(ctx, record.ID, record.From, record.To, record.Asset, record.Amount, now); err != nil {
		return err
	}

	if err := p.bus.Publish(ctx, eventbus.TopicSettlementConfirmed, record.ID.String(), eventbus.SettlementConfirmedEvent{ID: record.ID.String()}); err != nil {
		p.logger.Warn("settlement: failed to publish confirmation event", zap.String("id", record.ID.String()), zap.Error(err))
	}
	metrics.SettlementsProcessed.WithLabelValues("confirmed").Inc()
	return nil
}

func (p *Processor) fail(ctx context.Context, record models.Settlement, reason string) {
	if err := p.store.UpdateSettlementStatus(ctx, record.ID, models.SettlementStatusFailed, reason, nil); err != nil {
		p.logger.Error("settlement: failed to persist failure", zap.String("id", record.ID.String()), zap.Error(err))
	}
	if err := p.bus.Publish(ctx, eventbus.TopicSettlementFailed, record.ID.String(), eventbus.SettlementFailedEvent{ID: record.ID.String(), Reason: reason}); err != nil {
		p.logger.Warn("settlement: failed to publish failure event", zap.String("id", record.ID.String()), zap.Error(err))
	}
}

func (p *Processor) sleepRandomDelay(ctx context.Context) error {
	span := p.maxDelay - p.minDelay
	delay := p.minDelay
	if span > 0 {
		delay += time.Duration(rand.Int63n(int64(span)))
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
