package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaBus is the production Bus backend. Each topic gets its own lazily
// created writer; Subscribe spins up one reader goroutine per call.
type KafkaBus struct {
	brokers      []string
	topicPrefix  string
	groupPrefix  string
	logger       *zap.Logger

	mu      sync.Mutex
	writers map[Topic]*kafka.Writer
	readers []*kafka.Reader
}

func NewKafkaBus(brokers []string, topicPrefix string, logger *zap.Logger) *KafkaBus {
	return &KafkaBus{
		brokers:     brokers,
		topicPrefix: topicPrefix,
		groupPrefix: "exchange",
		logger:      logger,
		writers:     make(map[Topic]*kafka.Writer),
	}
}

func (b *KafkaBus) fullTopic(topic Topic) string {
	return fmt.Sprintf("%s.%s", b.topicPrefix, topic)
}

func (b *KafkaBus) getWriter(topic Topic) *kafka.Writer {
	b.mu.Lock()
	defer b.mu.Unlock()

	if w, ok := b.writers[topic]; ok {
		return w
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(b.brokers...),
		Topic:        b.fullTopic(topic),
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	b.writers[topic] = w
	return w
}

func (b *KafkaBus) Publish(ctx context.Context, topic Topic, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	writer := b.getWriter(topic)
	return writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
	})
}

func (b *KafkaBus) Subscribe(ctx context.Context, topic Topic, groupID string, handler Handler) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: b.brokers,
		Topic:   b.fullTopic(topic),
		GroupID: fmt.Sprintf("%s-%s", b.groupPrefix, groupID),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			b.logger.Error(fmt.Sprintf(msg, args...))
		}),
	})

	b.mu.Lock()
	b.readers = append(b.readers, reader)
	b.mu.Unlock()

	go func() {
		for {
			msg, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				b.logger.Error("eventbus: read message failed", zap.String("topic", string(topic)), zap.Error(err))
				continue
			}

			func() {
				defer func() {
					if r := recover(); r != nil {
						b.logger.Error("eventbus: handler panicked",
							zap.String("topic", string(topic)),
							zap.Any("recovered", r))
					}
				}()
				if err := handler(ctx, msg.Value); err != nil {
					b.logger.Error("eventbus: handler failed",
						zap.String("topic", string(topic)),
						zap.Error(err))
				}
			}()
		}
	}()

	return nil
}

func (b *KafkaBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var lastErr error
	for _, w := range b.writers {
		if err := w.Close(); err != nil {
			lastErr = err
		}
	}
	for _, r := range b.readers {
		if err := r.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
