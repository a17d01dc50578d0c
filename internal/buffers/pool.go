package buffers

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// PopAll tells Wait/WaitFor to drain every buffer currently queued,
// however many that is.
const PopAll = 0

// Pool is a bounded multiset of same-capacity Buffers circulated between
// tasks: TAP-read hands filled buffers to the encoder, the encoder returns
// drained ones, and so on around each RemoteNode and the PacketSwitch. It is
// backed by a buffered channel rather than the mutex-and-condition-variable
// list the behavior is grounded on, since a channel already gives Go the
// blocking pop, the non-blocking pop, and the timed wait for free.
type Pool struct {
	bufferSize int
	ch         chan *Buffer

	mu sync.Mutex
}

// NewPool creates an empty pool whose buffers must all have capacity
// bufferSize, able to hold up to capacity buffers before Push blocks.
func NewPool(bufferSize, capacity int) *Pool {
	return &Pool{
		bufferSize: bufferSize,
		ch:         make(chan *Buffer, capacity),
	}
}

// NewPrefilledPool creates a pool of capacity numBuffers, each one
// pre-allocated at bufferSize bytes and immediately available to Pop.
func NewPrefilledPool(bufferSize, numBuffers int) *Pool {
	p := NewPool(bufferSize, numBuffers)
	for i := 0; i < numBuffers; i++ {
		p.ch <- NewBuffer(bufferSize)
	}
	return p
}

// BufferSize returns the fixed capacity every buffer in the pool must have.
func (p *Pool) BufferSize() int { return p.bufferSize }

// Count returns the number of buffers currently available to Pop.
func (p *Pool) Count() int { return len(p.ch) }

// Pop removes and returns one buffer, failing immediately if none are
// available.
func (p *Pool) Pop() (*Buffer, error) {
	select {
	case b := <-p.ch:
		return b, nil
	default:
		return nil, fmt.Errorf("buffers: pool empty")
	}
}

// PopWait removes and returns one buffer, blocking until one is available or
// ctx is done.
func (p *Pool) PopWait(ctx context.Context) (*Buffer, error) {
	select {
	case b := <-p.ch:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Wait blocks until at least one buffer is available, then drains up to
// count of them (PopAll drains everything currently queued). It returns the
// buffers actually popped.
func (p *Pool) Wait(ctx context.Context, count int) ([]*Buffer, error) {
	first, err := p.PopWait(ctx)
	if err != nil {
		return nil, err
	}
	out := []*Buffer{first}
	return append(out, p.drainNonBlocking(count-1)...), nil
}

// WaitFor behaves like Wait but gives up after timeout, returning a nil
// slice and ok=false if nothing arrived in time.
func (p *Pool) WaitFor(ctx context.Context, timeout time.Duration, count int) (out []*Buffer, ok bool, err error) {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	first, err := p.PopWait(tctx)
	if err != nil {
		if tctx.Err() != nil && ctx.Err() == nil {
			return nil, false, nil
		}
		return nil, false, err
	}
	out = []*Buffer{first}
	out = append(out, p.drainNonBlocking(count-1)...)
	return out, true, nil
}

// drainNonBlocking pops up to n additional buffers without blocking
// (n < 0 means "as many as are queued").
func (p *Pool) drainNonBlocking(n int) []*Buffer {
	var out []*Buffer
	for n != 0 {
		select {
		case b := <-p.ch:
			out = append(out, b)
			n--
		default:
			return out
		}
	}
	return out
}

// Push returns a single buffer to the pool, failing if its capacity does not
// match the pool's configured buffer size.
func (p *Pool) Push(b *Buffer) error {
	if b.Capacity() != p.bufferSize {
		return fmt.Errorf("buffers: pushed buffer capacity %d does not match pool size %d", b.Capacity(), p.bufferSize)
	}
	p.ch <- b
	return nil
}

// PushBatch returns every buffer in batch to the pool in order, then empties
// batch, mirroring the original's push-and-clear-caller's-list contract.
func (p *Pool) PushBatch(batch *[]*Buffer) error {
	for _, b := range *batch {
		if err := p.Push(b); err != nil {
			return err
		}
	}
	*batch = (*batch)[:0]
	return nil
}
