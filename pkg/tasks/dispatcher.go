package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Options tune a single ApplyAsync call.
type Options struct {
	// TaskID overrides the generated id.
	TaskID string
	// Queue overrides the routed queue.
	Queue string
	// Countdown holds the message back in the broker for this long.
	Countdown time.Duration
}

// Dispatcher publishes tasks to the queue their route names.
type Dispatcher struct {
	broker Broker
	router *Router
	log    logrus.FieldLogger
	now    func() time.Time
}

// NewDispatcher returns a Dispatcher publishing through broker.
func NewDispatcher(broker Broker, router *Router, log logrus.FieldLogger) *Dispatcher {
	return &Dispatcher{broker: broker, router: router, log: log, now: time.Now}
}

// Router returns the routing table in use.
func (d *Dispatcher) Router() *Router {
	return d.router
}

// Delay enqueues task with args and returns the published message.
func (d *Dispatcher) Delay(ctx context.Context, task string, args any) (*Message, error) {
	return d.ApplyAsync(ctx, task, args, Options{})
}

// ApplyAsync enqueues task with args, records a PENDING result and returns
// the published message.
func (d *Dispatcher) ApplyAsync(ctx context.Context, task string, args any, opts Options) (*Message, error) {
	if task == "" {
		return nil, fmt.Errorf("task name must not be empty")
	}
	var raw json.RawMessage
	if args != nil {
		data, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("encode args of %s: %w", task, err)
		}
		raw = data
	}

	route := d.router.Resolve(task)
	queue := route.Queue
	if opts.Queue != "" {
		queue = opts.Queue
	}
	id := opts.TaskID
	if id == "" {
		id = uuid.NewString()
	}

	now := d.now().UTC()
	msg := &Message{
		ID:        id,
		Task:      task,
		Args:      raw,
		Queue:     queue,
		CreatedAt: now,
	}
	if opts.Countdown > 0 {
		eta := now.Add(opts.Countdown)
		msg.ETA = &eta
	}

	// The result exists before the message so a fast worker never finds
	// its STARTED state overwritten by PENDING.
	if err := d.broker.SetResult(ctx, &Result{
		ID:        id,
		Task:      task,
		Queue:     queue,
		State:     StatePending,
		UpdatedAt: now,
	}); err != nil {
		return nil, err
	}
	if err := d.broker.Publish(ctx, msg); err != nil {
		return nil, err
	}

	d.log.WithFields(logrus.Fields{
		"task":    task,
		"task_id": id,
		"queue":   queue,
	}).Debug("task enqueued")
	return msg, nil
}

// Result returns the stored result of a task.
func (d *Dispatcher) Result(ctx context.Context, id string) (*Result, error) {
	return d.broker.GetResult(ctx, id)
}

var (
	// ErrAlreadyFinished is returned when revoking a task that has completed.
	ErrAlreadyFinished = errors.New("task already finished")
	// ErrAlreadyStarted is returned when revoking a task a worker is running.
	ErrAlreadyStarted = errors.New("task already started")
)

// Revoke marks a queued task REVOKED so workers skip it. The check and the
// update are one broker operation, so a worker either claims the task first
// and Revoke returns ErrAlreadyStarted, or it finds the task revoked.
func (d *Dispatcher) Revoke(ctx context.Context, id string) error {
	return d.broker.UpdateResult(ctx, id, func(cur *Result) (*Result, error) {
		switch {
		case cur == nil:
			return nil, fmt.Errorf("%w: %s", ErrResultNotFound, id)
		case cur.Ready():
			return nil, fmt.Errorf("%w: %s is %s", ErrAlreadyFinished, id, cur.State)
		case cur.State == StateStarted:
			return nil, fmt.Errorf("%w: %s", ErrAlreadyStarted, id)
		}
		next := *cur
		next.State = StateRevoked
		next.UpdatedAt = d.now().UTC()
		return &next, nil
	})
}
