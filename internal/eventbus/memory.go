package eventbus

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// MemoryBus is a buffered-channel fan-out used in tests and whenever the
// process runs with BUS_DRIVER set to anything but "kafka". Each topic gets its own
// set of subscriber channels; Publish fans the encoded payload out to all
// of them without blocking the caller.
type MemoryBus struct {
	mu          sync.RWMutex
	subscribers map[Topic][]chan []byte
	logger      *zap.Logger
	closed      bool
}

func NewMemoryBus(logger *zap.Logger) *MemoryBus {
	return &MemoryBus{
		subscribers: make(map[Topic][]chan []byte),
		logger:      logger,
	}
}

func (b *MemoryBus) Publish(ctx context.Context, topic Topic, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil
	}
	for _, ch := range b.subscribers[topic] {
		select {
		case ch <- data:
		case <-ctx.Done():
			return ctx.Err()
		default:
			b.logger.Warn("eventbus: subscriber channel full, dropping message", zap.String("topic", string(topic)))
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic Topic, groupID string, handler Handler) error {
	ch := make(chan []byte, 256)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return nil
	}
	b.subscribers[topic] = append(b.subscribers[topic], ch)
	b.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case payload, ok := <-ch:
				if !ok {
					return
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							b.logger.Error("eventbus: handler panicked",
								zap.String("topic", string(topic)),
								zap.Any("recovered", r))
						}
					}()
					if err := handler(ctx, payload); err != nil {
						b.logger.Error("eventbus: handler failed",
							zap.String("topic", string(topic)),
							zap.Error(err))
					}
				}()
			}
		}
	}()

	return nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, chans := range b.subscribers {
		for _, ch := range chans {
			close(ch)
		}
	}
	return nil
}
