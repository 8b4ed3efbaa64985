package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrBrokerUnavailable wraps transport failures talking to the broker.
	ErrBrokerUnavailable = errors.New("task broker unavailable")
	// ErrResultNotFound is returned for unknown or expired task ids.
	ErrResultNotFound = errors.New("task result not found")
	// ErrBrokerClosed is returned by a broker after Close.
	ErrBrokerClosed = errors.New("task broker closed")
)

// Broker moves task messages between producers and workers and keeps
// their results.
type Broker interface {
	// Publish appends msg to the tail of its queue. A message whose ETA is
	// in the future is held back and queued once it is due.
	Publish(ctx context.Context, msg *Message) error
	// Consume pops the oldest message of the first non-empty queue, in the
	// order given. It returns nil, nil when timeout passes with no message.
	Consume(ctx context.Context, queues []string, timeout time.Duration) (*Message, error)
	SetResult(ctx context.Context, res *Result) error
	GetResult(ctx context.Context, id string) (*Result, error)
	// UpdateResult atomically replaces the result of id with what fn
	// returns. cur is nil when no result is stored. A nil return from fn
	// leaves the stored result alone and an error from fn is returned as is.
	// fn may be called more than once.
	UpdateResult(ctx context.Context, id string, fn func(cur *Result) (*Result, error)) error
	// QueueLength counts the messages ready to be consumed from queue.
	QueueLength(ctx context.Context, queue string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// NewBroker returns the broker for url: "memory://" for an in-process
// broker, redis:// or rediss:// for Redis. ttl bounds how long results are kept.
func NewBroker(url string, ttl time.Duration) (Broker, error) {
	switch {
	case strings.HasPrefix(url, "memory://"):
		return NewMemoryBroker(ttl), nil
	case strings.HasPrefix(url, "redis://"), strings.HasPrefix(url, "rediss://"):
		return NewRedisBroker(url, ttl)
	default:
		return nil, fmt.Errorf("unsupported broker url %q", url)
	}
}
