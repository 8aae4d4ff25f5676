package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
)

const eventOrderPlaced = "order.placed"

// OrderPlacedEvent is the payload published for every committed checkout.
type OrderPlacedEvent struct {
	OrderID     string             `json:"order_id"`
	UserID      int64              `json:"user_id"`
	Address     string             `json:"address"`
	Lines       []domain.OrderLine `json:"lines"`
	Total       string             `json:"total"`
	BonusUsed   string             `json:"bonus_used"`
	BonusEarned string             `json:"bonus_earned"`
	PlacedAt    time.Time          `json:"placed_at"`
}

func newOrderPlacedEvent(order domain.Order) OrderPlacedEvent {
	return OrderPlacedEvent{
		OrderID:     order.ID,
		UserID:      order.UserID,
		Address:     order.Address,
		Lines:       order.Lines,
		Total:       order.Total.StringFixed(2),
		BonusUsed:   order.BonusUsed.StringFixed(2),
		BonusEarned: order.BonusEarned.StringFixed(2),
		PlacedAt:    order.CreatedAt,
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes order events. Publishing goes through a circuit
// breaker so a dead broker fails fast instead of stalling checkouts.
type KafkaNotifier struct {
	writer messageWriter
	cb     *gobreaker.CircuitBreaker[struct{}]
	logger *zap.Logger
}

func NewKafkaNotifier(brokers []string, topic string, logger *zap.Logger) *KafkaNotifier {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		WriteTimeout:           5 * time.Second,
	}
	return newKafkaNotifier(w, logger)
}

func newKafkaNotifier(w messageWriter, logger *zap.Logger) *KafkaNotifier {
	settings := gobreaker.Settings{
		Name:        "OrderNotifier",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &KafkaNotifier{
		writer: w,
		cb:     gobreaker.NewCircuitBreaker[struct{}](settings),
		logger: logger,
	}
}

func (n *KafkaNotifier) OrderPlaced(ctx context.Context, order domain.Order) error {
	payload, err := json.Marshal(newOrderPlacedEvent(order))
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(order.ID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventOrderPlaced)},
		},
	}

	_, err = n.cb.Execute(func() (struct{}, error) {
		return struct{}{}, n.writer.WriteMessages(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("publish order %s: %w", order.ID, err)
	}
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// LogNotifier only logs order events. It is used when no broker is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) OrderPlaced(_ context.Context, order domain.Order) error {
	n.logger.Info("order event",
		zap.String("event_type", eventOrderPlaced),
		zap.String("order_id", order.ID),
		zap.Int64("user_id", order.UserID),
		zap.Int("lines", len(order.Lines)),
	)
	return nil
}
