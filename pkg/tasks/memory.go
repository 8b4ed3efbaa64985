package tasks

import (
	"context"
	"sync"
	"time"
)

// MemoryBroker keeps queues and results in process memory. It serves
// development setups and tests; nothing survives a restart.
type MemoryBroker struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queues  map[string][]Message
	delayed []Message
	results map[string]memoryResult
	ttl     time.Duration
	closed  bool
}

type memoryResult struct {
	result  Result
	expires time.Time
}

var _ Broker = (*MemoryBroker)(nil)

// NewMemoryBroker returns an empty broker keeping results for ttl, or
// forever when ttl is zero.
func NewMemoryBroker(ttl time.Duration) *MemoryBroker {
	b := &MemoryBroker{
		queues:  make(map[string][]Message),
		results: make(map[string]memoryResult),
		ttl:     ttl,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *MemoryBroker) Publish(_ context.Context, msg *Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}
	if now := time.Now(); msg.Deferred(now) {
		b.delayed = append(b.delayed, *msg)
		time.AfterFunc(msg.ETA.Sub(now), b.wake)
		return nil
	}
	b.queues[msg.Queue] = append(b.queues[msg.Queue], *msg)
	b.cond.Broadcast()
	return nil
}

// promoteLocked moves delayed messages that are due onto their queues.
func (b *MemoryBroker) promoteLocked(now time.Time) {
	kept := b.delayed[:0]
	for _, msg := range b.delayed {
		if msg.Deferred(now) {
			kept = append(kept, msg)
			continue
		}
		b.queues[msg.Queue] = append(b.queues[msg.Queue], msg)
	}
	b.delayed = kept
}

func (b *MemoryBroker) Consume(ctx context.Context, queues []string, timeout time.Duration) (*Message, error) {
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, b.wake)
	defer timer.Stop()
	stop := context.AfterFunc(ctx, b.wake)
	defer stop()

	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		if b.closed {
			return nil, ErrBrokerClosed
		}
		b.promoteLocked(time.Now())
		for _, q := range queues {
			if items := b.queues[q]; len(items) > 0 {
				msg := items[0]
				b.queues[q] = items[1:]
				return &msg, nil
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}
		b.cond.Wait()
	}
}

func (b *MemoryBroker) wake() {
	b.mu.Lock()
	b.cond.Broadcast()
	b.mu.Unlock()
}

func (b *MemoryBroker) SetResult(_ context.Context, res *Result) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setLocked(res)
	return nil
}

func (b *MemoryBroker) setLocked(res *Result) {
	entry := memoryResult{result: *res}
	if b.ttl > 0 {
		entry.expires = time.Now().Add(b.ttl)
	}
	b.results[res.ID] = entry
}

func (b *MemoryBroker) GetResult(_ context.Context, id string) (*Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resultLocked(id)
}

func (b *MemoryBroker) resultLocked(id string) (*Result, error) {
	entry, ok := b.results[id]
	if !ok {
		return nil, ErrResultNotFound
	}
	if !entry.expires.IsZero() && time.Now().After(entry.expires) {
		delete(b.results, id)
		return nil, ErrResultNotFound
	}
	res := entry.result
	return &res, nil
}

func (b *MemoryBroker) UpdateResult(_ context.Context, id string, fn func(cur *Result) (*Result, error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, err := b.resultLocked(id)
	if err != nil {
		cur = nil
	}
	next, err := fn(cur)
	if err != nil || next == nil {
		return err
	}
	b.setLocked(next)
	return nil
}

func (b *MemoryBroker) QueueLength(_ context.Context, queue string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.promoteLocked(time.Now())
	return int64(len(b.queues[queue])), nil
}

func (b *MemoryBroker) Ping(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}
	return nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
	return nil
}
