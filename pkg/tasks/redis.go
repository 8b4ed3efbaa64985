package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	queueKeyPrefix   = "scitex:queue:"
	delayedKeyPrefix = "scitex:delayed:"
	resultKeyPrefix  = "scitex:result:"

	promoteBatch   = 100
	updateAttempts = 10
)

// promoteScript moves up to ARGV[2] members of the delayed set KEYS[1] scored
// at or below ARGV[1] onto the list KEYS[2].
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, data in ipairs(due) do
	redis.call('ZREM', KEYS[1], data)
	redis.call('LPUSH', KEYS[2], data)
end
return #due
`)

// RedisBroker stores each queue as a Redis list (LPUSH to publish, BRPOP to
// consume) and each result as a JSON string with an expiry. Messages with a
// future ETA wait in a sorted set per queue, scored by ETA in unix
// milliseconds, until a consumer promotes them.
type RedisBroker struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Broker = (*RedisBroker)(nil)

// NewRedisBroker connects to the Redis server at url.
func NewRedisBroker(url string, ttl time.Duration) (*RedisBroker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse broker url: %w", err)
	}
	return NewRedisBrokerFromClient(redis.NewClient(opts), ttl), nil
}

// NewRedisBrokerFromClient wraps an existing client.
func NewRedisBrokerFromClient(client *redis.Client, ttl time.Duration) *RedisBroker {
	return &RedisBroker{client: client, ttl: ttl}
}

func queueKey(queue string) string   { return queueKeyPrefix + queue }
func delayedKey(queue string) string { return delayedKeyPrefix + queue }
func resultKey(id string) string     { return resultKeyPrefix + id }

func (b *RedisBroker) Publish(ctx context.Context, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode task message: %w", err)
	}
	if msg.Deferred(time.Now()) {
		err = b.client.ZAdd(ctx, delayedKey(msg.Queue), redis.Z{Score: float64(msg.ETA.UnixMilli()), Member: data}).Err()
	} else {
		err = b.client.LPush(ctx, queueKey(msg.Queue), data).Err()
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	return nil
}

func (b *RedisBroker) Consume(ctx context.Context, queues []string, timeout time.Duration) (*Message, error) {
	if timeout <= 0 {
		timeout = time.Second
	}
	if err := b.promote(ctx, queues, time.Now()); err != nil {
		return nil, err
	}
	keys := make([]string, len(queues))
	for i, q := range queues {
		keys[i] = queueKey(q)
	}

	vals, err := b.client.BRPop(ctx, timeout, keys...).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	// vals is [key, value]
	var msg Message
	if err := json.Unmarshal([]byte(vals[1]), &msg); err != nil {
		return nil, fmt.Errorf("decode task message from %s: %w", vals[0], err)
	}
	return &msg, nil
}

// promote queues the delayed messages of queues that are due at now.
func (b *RedisBroker) promote(ctx context.Context, queues []string, now time.Time) error {
	for _, q := range queues {
		err := promoteScript.Run(ctx, b.client, []string{delayedKey(q), queueKey(q)}, now.UnixMilli(), promoteBatch).Err()
		if err != nil && !errors.Is(err, redis.Nil) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
		}
	}
	return nil
}

func (b *RedisBroker) SetResult(ctx context.Context, res *Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode task result: %w", err)
	}
	if err := b.client.Set(ctx, resultKey(res.ID), data, b.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	return nil
}

func (b *RedisBroker) GetResult(ctx context.Context, id string) (*Result, error) {
	data, err := b.client.Get(ctx, resultKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode task result: %w", err)
	}
	return &res, nil
}

// UpdateResult runs fn under WATCH on the result key and retries when
// another client changed the key before EXEC.
func (b *RedisBroker) UpdateResult(ctx context.Context, id string, fn func(cur *Result) (*Result, error)) error {
	key := resultKey(id)
	var fnErr error
	txf := func(tx *redis.Tx) error {
		var cur *Result
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			cur = &Result{}
			if err := json.Unmarshal(data, cur); err != nil {
				fnErr = fmt.Errorf("decode task result: %w", err)
				return fnErr
			}
		}

		next, err := fn(cur)
		if err != nil {
			fnErr = err
			return err
		}
		if next == nil {
			return nil
		}
		encoded, err := json.Marshal(next)
		if err != nil {
			fnErr = fmt.Errorf("encode task result: %w", err)
			return fnErr
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, b.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < updateAttempts; i++ {
		fnErr = nil
		err := b.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if fnErr != nil {
			return fnErr
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
		}
		return nil
	}
	return fmt.Errorf("%w: result %s kept changing", ErrBrokerUnavailable, id)
}

func (b *RedisBroker) QueueLength(ctx context.Context, queue string) (int64, error) {
	if err := b.promote(ctx, []string{queue}, time.Now()); err != nil {
		return 0, err
	}
	n, err := b.client.LLen(ctx, queueKey(queue)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	return n, nil
}

// Ping checks the connection to Redis.
func (b *RedisBroker) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	return nil
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
