package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ErrNoHandler is recorded for tasks no handler is registered for.
var ErrNoHandler = errors.New("no handler registered")

// Handler runs one task. The returned value is stored as the task result.
type Handler func(ctx context.Context, msg *Message) (any, error)

type registration struct {
	handler    Handler
	maxRetries int
	retryDelay time.Duration
}

// HandlerOption configures a registered handler.
type HandlerOption func(*registration)

// MaxRetries re-publishes a failed task up to n times, waiting delay
// between attempts.
func MaxRetries(n int, delay time.Duration) HandlerOption {
	return func(r *registration) {
		r.maxRetries = n
		r.retryDelay = delay
	}
}

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	// Concurrency is the number of goroutines consuming messages.
	Concurrency int
	// Queues to consume, in priority order. Empty means every routed queue.
	Queues []string
	// PollTimeout bounds a single blocking Consume call.
	PollTimeout time.Duration
}

// Worker consumes task messages and runs their handlers.
type Worker struct {
	broker Broker
	router *Router
	log    logrus.FieldLogger
	opts   WorkerOptions

	mu       sync.RWMutex
	handlers map[string]*registration

	limMu    sync.Mutex
	limiters map[string]*taskLimiter
}

type taskLimiter struct {
	spec    string
	limiter *rate.Limiter
}

// NewWorker returns a Worker. Register handlers before calling Run.
func NewWorker(broker Broker, router *Router, log logrus.FieldLogger, opts WorkerOptions) *Worker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = time.Second
	}
	return &Worker{
		broker:   broker,
		router:   router,
		log:      log,
		opts:     opts,
		handlers: make(map[string]*registration),
		limiters: make(map[string]*taskLimiter),
	}
}

// Register binds h to the task name.
func (w *Worker) Register(task string, h Handler, opts ...HandlerOption) {
	reg := &registration{handler: h}
	for _, o := range opts {
		o(reg)
	}
	w.mu.Lock()
	w.handlers[task] = reg
	w.mu.Unlock()
}

// Tasks returns the registered task names.
func (w *Worker) Tasks() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	names := make([]string, 0, len(w.handlers))
	for name := range w.handlers {
		names = append(names, name)
	}
	return names
}

func (w *Worker) queues() []string {
	if len(w.opts.Queues) > 0 {
		return w.opts.Queues
	}
	return w.router.Queues()
}

// Run consumes messages until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.WithFields(logrus.Fields{
		"concurrency": w.opts.Concurrency,
		"queues":      w.queues(),
	}).Info("starting task worker")

	var wg sync.WaitGroup
	for i := 0; i < w.opts.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.loop(ctx, id)
		}(i)
	}
	wg.Wait()

	w.log.Info("task worker stopped")
	return nil
}

func (w *Worker) loop(ctx context.Context, id int) {
	log := w.log.WithField("worker_id", id)
	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := w.broker.Consume(ctx, w.queues(), w.opts.PollTimeout)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrBrokerClosed) {
				return
			}
			log.WithError(err).Warn("consume failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.opts.PollTimeout):
			}
			continue
		}
		if msg == nil {
			continue
		}
		w.Process(ctx, msg)
	}
}

// limiter returns the shared limiter for task, rebuilding it when the
// route's rate limit changed since the last call.
func (w *Worker) limiter(task string) *rate.Limiter {
	spec := w.router.Resolve(task).RateLimit

	w.limMu.Lock()
	defer w.limMu.Unlock()
	if tl, ok := w.limiters[task]; ok && tl.spec == spec {
		return tl.limiter
	}
	limit, err := ParseRateLimit(spec)
	if err != nil {
		limit = rate.Inf
	}
	tl := &taskLimiter{spec: spec, limiter: rate.NewLimiter(limit, 1)}
	w.limiters[task] = tl
	return tl.limiter
}

// Process runs a single message through its handler and records the outcome.
// A message that is not due yet goes back to the broker instead of holding
// the goroutine.
func (w *Worker) Process(ctx context.Context, msg *Message) {
	log := w.log.WithFields(logrus.Fields{
		"task":    msg.Task,
		"task_id": msg.ID,
		"queue":   msg.Queue,
	})

	if res, err := w.broker.GetResult(ctx, msg.ID); err == nil && res.State == StateRevoked {
		log.Info("skipping revoked task")
		return
	}

	if msg.Deferred(time.Now()) {
		if err := w.broker.Publish(ctx, msg); err != nil {
			log.WithError(err).Error("could not defer task until its eta")
			w.record(ctx, msg, StateFailure, nil, fmt.Errorf("defer until eta: %w", err))
		}
		return
	}

	if err := w.limiter(msg.Task).Wait(ctx); err != nil {
		w.requeue(msg, log)
		return
	}

	w.mu.RLock()
	reg := w.handlers[msg.Task]
	w.mu.RUnlock()
	if reg == nil {
		log.Error("no handler registered for task")
		w.record(ctx, msg, StateFailure, nil, fmt.Errorf("%w for task %s", ErrNoHandler, msg.Task))
		return
	}

	if !w.claim(ctx, msg, log) {
		log.Info("skipping revoked task")
		return
	}
	start := time.Now()
	value, err := w.call(ctx, reg.handler, msg)
	if err != nil {
		if msg.Retries < reg.maxRetries {
			retry := *msg
			retry.Retries++
			eta := time.Now().UTC().Add(reg.retryDelay)
			retry.ETA = &eta
			// RETRY is stored before the message can be consumed again.
			w.record(ctx, &retry, StateRetry, nil, err)
			perr := w.broker.Publish(ctx, &retry)
			if perr == nil {
				log.WithError(err).WithField("retries", retry.Retries).Warn("task failed, retrying")
				return
			}
			log.WithError(perr).Error("could not publish task retry")
		}
		log.WithError(err).Error("task failed")
		w.record(ctx, msg, StateFailure, nil, err)
		return
	}

	log.WithField("duration", time.Since(start).String()).Info("task succeeded")
	w.record(ctx, msg, StateSuccess, value, nil)
}

// claim marks msg STARTED unless it was revoked since it was consumed. The
// task still runs when the start cannot be recorded.
func (w *Worker) claim(ctx context.Context, msg *Message, log logrus.FieldLogger) bool {
	var revoked bool
	err := w.broker.UpdateResult(ctx, msg.ID, func(cur *Result) (*Result, error) {
		revoked = cur != nil && cur.State == StateRevoked
		if revoked {
			return nil, nil
		}
		return w.result(msg, StateStarted, nil, nil), nil
	})
	if err != nil {
		log.WithError(err).Warn("could not record task start")
	}
	return !revoked
}

func (w *Worker) call(ctx context.Context, h Handler, msg *Message) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return h(ctx, msg)
}

// requeue puts back a message the worker was interrupted before running.
func (w *Worker) requeue(msg *Message, log logrus.FieldLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.broker.Publish(ctx, msg); err != nil {
		log.WithError(err).Error("could not requeue task on shutdown")
	}
}

func (w *Worker) record(ctx context.Context, msg *Message, state string, value any, taskErr error) {
	if err := w.broker.SetResult(ctx, w.result(msg, state, value, taskErr)); err != nil {
		w.log.WithError(err).WithField("task_id", msg.ID).Error("could not store task result")
	}
}

func (w *Worker) result(msg *Message, state string, value any, taskErr error) *Result {
	res := &Result{
		ID:        msg.ID,
		Task:      msg.Task,
		Queue:     msg.Queue,
		State:     state,
		Retries:   msg.Retries,
		UpdatedAt: time.Now().UTC(),
	}
	if taskErr != nil {
		res.Error = taskErr.Error()
	}
	if value != nil {
		data, err := json.Marshal(value)
		if err != nil {
			res.State = StateFailure
			res.Error = fmt.Sprintf("encode result: %v", err)
		} else {
			res.Result = data
		}
	}
	return res
}
