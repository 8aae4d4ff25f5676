package notifier

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
)

type recordingNotifier struct {
	mu      sync.Mutex
	orders  []string
	block   chan struct{}
	started chan struct{}
}

func (n *recordingNotifier) OrderPlaced(_ context.Context, order domain.Order) error {
	if n.started != nil {
		n.started <- struct{}{}
	}
	if n.block != nil {
		<-n.block
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.orders = append(n.orders, order.ID)
	return nil
}

func TestDispatcher_DrainsOnClose(t *testing.T) {
	next := &recordingNotifier{}
	d := NewDispatcher(next, 4, 100, zap.NewNop())

	for i := 0; i < 50; i++ {
		require.NoError(t, d.OrderPlaced(context.Background(), domain.Order{ID: string(rune('a' + i%26))}))
	}
	d.Close()

	assert.Len(t, next.orders, 50)
}

func TestDispatcher_QueueFull(t *testing.T) {
	next := &recordingNotifier{block: make(chan struct{}), started: make(chan struct{}, 1)}
	d := NewDispatcher(next, 1, 1, zap.NewNop())
	ctx := context.Background()

	// the single worker picks up the first event and blocks on it
	require.NoError(t, d.OrderPlaced(ctx, domain.Order{ID: "first"}))
	<-next.started

	require.NoError(t, d.OrderPlaced(ctx, domain.Order{ID: "queued"}))
	assert.ErrorIs(t, d.OrderPlaced(ctx, domain.Order{ID: "dropped"}), ErrQueueFull)

	close(next.block)
	d.Close()
	assert.Equal(t, []string{"first", "queued"}, next.orders)
}

func TestDispatcher_RejectsAfterClose(t *testing.T) {
	next := &recordingNotifier{}
	d := NewDispatcher(next, 2, 10, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, d.OrderPlaced(ctx, domain.Order{ID: "before"}))
	d.Close()
	d.Close()

	assert.ErrorIs(t, d.OrderPlaced(ctx, domain.Order{ID: "after"}), ErrDispatcherClosed)
	assert.Equal(t, []string{"before"}, next.orders)
}

func TestDispatcher_CloseRacesWithSenders(t *testing.T) {
	next := &recordingNotifier{}
	d := NewDispatcher(next, 4, 1000, zap.NewNop())

	var wg sync.WaitGroup
	var accepted, rejected atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				err := d.OrderPlaced(context.Background(), domain.Order{ID: "x"})
				switch {
				case err == nil:
					accepted.Add(1)
				case errors.Is(err, ErrDispatcherClosed):
					rejected.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}
		}()
	}
	d.Close()
	wg.Wait()

	assert.Equal(t, int32(400), accepted.Load()+rejected.Load())
	next.mu.Lock()
	defer next.mu.Unlock()
	assert.Len(t, next.orders, int(accepted.Load()), "every accepted event is delivered")
}
