package proxywasm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Workiva/go-datastructures/queue"
)

// Poolable is the minimal capability InstancePool requires of a pooled
// item: a way to release its resources when the pool shuts down.
type Poolable interface {
	Close(ctx context.Context) error
}

// InstancePool is a fixed-size ring-buffer pool of warm, reusable items,
// generalized from the teacher's Pool (which only ever pooled a
// wapc.Instance) to pool anything satisfying Poolable. Proxy-wasm hooks
// never go through this pool -- spec §3's "no two hook calls share an
// instance" rule means every hook gets its own fresh Instance via
// Module.Instantiate -- it instead bounds the concurrency of
// internal/component's pooled subprocess handles (SPEC_FULL.md §5).
type InstancePool[T Poolable] struct {
	rb    *queue.RingBuffer
	items []T
}

// Factory builds one fresh poolable item.
type Factory[T Poolable] func(ctx context.Context) (T, error)

// Initialize runs once against a freshly built item before it enters the
// pool, e.g. to run a warm-up call.
type Initialize[T Poolable] func(item T) error

// NewInstancePool builds size items via factory and returns a pool serving
// them out under a bounded ring buffer.
func NewInstancePool[T Poolable](ctx context.Context, size uint64, factory Factory[T], initializer ...Initialize[T]) (*InstancePool[T], error) {
	var initialize Initialize[T]
	if len(initializer) > 0 {
		initialize = initializer[0]
	}
	rb := queue.NewRingBuffer(size)
	items := make([]T, size)
	for i := uint64(0); i < size; i++ {
		item, err := factory(ctx)
		if err != nil {
			return nil, err
		}

		if initialize != nil {
			if err := initialize(item); err != nil {
				return nil, fmt.Errorf("could not initialize pooled item: %w", err)
			}
		}

		ok, err := rb.Offer(item)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("could not add item %d to pool of size %d", i, size)
		}

		items[i] = item
	}

	return &InstancePool[T]{rb: rb, items: items}, nil
}

// Get returns an item from the pool if one becomes available within
// timeout.
func (p *InstancePool[T]) Get(timeout time.Duration) (T, error) {
	var zero T
	itemIface, err := p.rb.Poll(timeout)
	if err != nil {
		return zero, fmt.Errorf("get from pool timed out: %w", err)
	}

	item, ok := itemIface.(T)
	if !ok {
		return zero, errors.New("item retrieved from pool is not the expected type")
	}

	return item, nil
}

// Return hands item back to the pool for reuse.
func (p *InstancePool[T]) Return(item T) error {
	ok, err := p.rb.Offer(item)
	if err != nil {
		return err
	}

	if !ok {
		return errors.New("cannot return item to full pool")
	}

	return nil
}

// Close disposes the ring buffer and closes every pooled item.
func (p *InstancePool[T]) Close(ctx context.Context) {
	p.rb.Dispose()

	for _, item := range p.items {
		_ = item.Close(ctx)
	}
}
