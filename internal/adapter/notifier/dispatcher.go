package notifier

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

var (
	ErrQueueFull        = errors.New("order event queue is full")
	ErrDispatcherClosed = errors.New("order event dispatcher is closed")
)

// Dispatcher hands order events to a pool of workers so checkout never waits
// on the broker. Events still queued at Close are delivered before it returns.
type Dispatcher struct {
	next    port.OrderNotifier
	queue   chan domain.Order
	timeout time.Duration
	logger  *zap.Logger
	wg      sync.WaitGroup

	// mu guards closed and the send on queue against Close
	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(next port.OrderNotifier, workerCount, queueSize int, logger *zap.Logger) *Dispatcher {
	d := &Dispatcher{
		next:    next,
		queue:   make(chan domain.Order, queueSize),
		timeout: 5 * time.Second,
		logger:  logger,
	}
	for i := 0; i < workerCount; i++ {
		d.wg.Add(1)
		go func(id int) {
			defer d.wg.Done()
			d.workerLoop(id)
		}(i)
	}
	return d
}

// OrderPlaced enqueues the event and returns ErrQueueFull instead of blocking.
// After Close it returns ErrDispatcherClosed.
func (d *Dispatcher) OrderPlaced(_ context.Context, order domain.Order) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	select {
	case d.queue <- order:
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *Dispatcher) workerLoop(id int) {
	for order := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)

		if err := d.next.OrderPlaced(ctx, order); err != nil {
			d.logger.Error("failed to publish order event",
				zap.Int("worker", id),
				zap.String("order_id", order.ID),
				zap.Error(err),
			)
		} else {
			d.logger.Debug("published order event", zap.Int("worker", id), zap.String("order_id", order.ID))
		}

		cancel()
	}
}

// Close stops accepting events and waits for the workers to drain the queue.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
