package tasks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisTestBroker(t *testing.T, ttl time.Duration) (*RedisBroker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := NewRedisBrokerFromClient(client, ttl)
	t.Cleanup(func() { _ = b.Close() })
	return b, mr
}

func brokers(t *testing.T) map[string]Broker {
	rb, _ := newRedisTestBroker(t, time.Hour)
	return map[string]Broker{
		"memory": NewMemoryBroker(time.Hour),
		"redis":  rb,
	}
}

func TestBrokerFIFOAndQueuePriority(t *testing.T) {
	for name, b := range brokers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, b.Publish(ctx, &Message{ID: "1", Task: "t", Queue: "low"}))
			require.NoError(t, b.Publish(ctx, &Message{ID: "2", Task: "t", Queue: "high"}))
			require.NoError(t, b.Publish(ctx, &Message{ID: "3", Task: "t", Queue: "high"}))

			n, err := b.QueueLength(ctx, "high")
			require.NoError(t, err)
			assert.EqualValues(t, 2, n)

			var order []string
			for i := 0; i < 3; i++ {
				msg, err := b.Consume(ctx, []string{"high", "low"}, time.Second)
				require.NoError(t, err)
				require.NotNil(t, msg)
				order = append(order, msg.ID)
			}
			assert.Equal(t, []string{"2", "3", "1"}, order)
		})
	}
}

func TestBrokerConsumeTimeout(t *testing.T) {
	for name, b := range brokers(t) {
		t.Run(name, func(t *testing.T) {
			msg, err := b.Consume(context.Background(), []string{"empty"}, 50*time.Millisecond)
			require.NoError(t, err)
			assert.Nil(t, msg)
		})
	}
}

func TestBrokerResults(t *testing.T) {
	for name, b := range brokers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := b.GetResult(ctx, "missing")
			assert.ErrorIs(t, err, ErrResultNotFound)

			require.NoError(t, b.SetResult(ctx, &Result{ID: "r1", Task: "t", State: StateSuccess, Result: []byte(`{"ok":true}`)}))
			res, err := b.GetResult(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, StateSuccess, res.State)
			assert.JSONEq(t, `{"ok":true}`, string(res.Result))
			assert.True(t, res.Ready())

			require.NoError(t, b.Ping(ctx))
		})
	}
}

func TestMemoryBrokerConsumeWakesOnPublish(t *testing.T) {
	b := NewMemoryBroker(0)
	ctx := context.Background()

	got := make(chan *Message, 1)
	go func() {
		msg, _ := b.Consume(ctx, []string{"q"}, 5*time.Second)
		got <- msg
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.Publish(ctx, &Message{ID: "late", Queue: "q"}))

	select {
	case msg := <-got:
		require.NotNil(t, msg)
		assert.Equal(t, "late", msg.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer was not woken by publish")
	}
}

func TestMemoryBrokerConsumeCancelled(t *testing.T) {
	b := NewMemoryBroker(0)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := b.Consume(ctx, []string{"q"}, 5*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRedisBrokerLayout(t *testing.T) {
	b, mr := newRedisTestBroker(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, &Message{ID: "m1", Task: "gitea.create_repo", Queue: "sync"}))
	items, err := mr.List("scitex:queue:sync")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Contains(t, items[0], `"task":"gitea.create_repo"`)

	require.NoError(t, b.SetResult(ctx, &Result{ID: "m1", State: StatePending}))
	assert.True(t, mr.Exists("scitex:result:m1"))
	assert.Equal(t, time.Minute, mr.TTL("scitex:result:m1"))

	mr.FastForward(2 * time.Minute)
	_, err = b.GetResult(ctx, "m1")
	assert.ErrorIs(t, err, ErrResultNotFound)
}

func TestRedisBrokerUnavailable(t *testing.T) {
	b, mr := newRedisTestBroker(t, time.Minute)
	mr.Close()

	err := b.Publish(context.Background(), &Message{ID: "x", Queue: "q"})
	assert.ErrorIs(t, err, ErrBrokerUnavailable)
	assert.ErrorIs(t, b.Ping(context.Background()), ErrBrokerUnavailable)
}

func TestNewBroker(t *testing.T) {
	b, err := NewBroker("memory://", time.Minute)
	require.NoError(t, err)
	assert.IsType(t, &MemoryBroker{}, b)

	b, err = NewBroker("redis://localhost:6379/0", time.Minute)
	require.NoError(t, err)
	assert.IsType(t, &RedisBroker{}, b)
	_ = b.Close()

	_, err = NewBroker("amqp://guest@localhost", time.Minute)
	assert.Error(t, err)
}

func TestBrokerDelayedMessages(t *testing.T) {
	for name, b := range brokers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			eta := time.Now().Add(200 * time.Millisecond)
			require.NoError(t, b.Publish(ctx, &Message{ID: "later", Task: "t", Queue: "q", ETA: &eta}))
			require.NoError(t, b.Publish(ctx, &Message{ID: "now", Task: "t", Queue: "q"}))

			n, err := b.QueueLength(ctx, "q")
			require.NoError(t, err)
			assert.EqualValues(t, 1, n)

			msg, err := b.Consume(ctx, []string{"q"}, time.Second)
			require.NoError(t, err)
			require.NotNil(t, msg)
			assert.Equal(t, "now", msg.ID)

			msg, err = b.Consume(ctx, []string{"q"}, 50*time.Millisecond)
			require.NoError(t, err)
			assert.Nil(t, msg, "a message must not be consumed before its eta")

			time.Sleep(time.Until(eta) + 20*time.Millisecond)
			msg, err = b.Consume(ctx, []string{"q"}, time.Second)
			require.NoError(t, err)
			require.NotNil(t, msg)
			assert.Equal(t, "later", msg.ID)
			assert.False(t, msg.Deferred(time.Now()))
		})
	}
}

func TestMemoryBrokerConsumeWakesOnETA(t *testing.T) {
	b := NewMemoryBroker(0)
	ctx := context.Background()
	eta := time.Now().Add(100 * time.Millisecond)
	require.NoError(t, b.Publish(ctx, &Message{ID: "later", Queue: "q", ETA: &eta}))

	msg, err := b.Consume(ctx, []string{"q"}, 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "later", msg.ID)
	assert.False(t, time.Now().Before(eta))
}

func TestRedisBrokerDelayedLayout(t *testing.T) {
	b, mr := newRedisTestBroker(t, time.Minute)
	ctx := context.Background()

	eta := time.Now().Add(time.Hour)
	require.NoError(t, b.Publish(ctx, &Message{ID: "m1", Task: "gitea.create_repo", Queue: "sync", ETA: &eta}))
	assert.False(t, mr.Exists("scitex:queue:sync"))
	members, err := mr.ZMembers("scitex:delayed:sync")
	require.NoError(t, err)
	require.Len(t, members, 1)
	score, err := mr.ZScore("scitex:delayed:sync", members[0])
	require.NoError(t, err)
	assert.Equal(t, float64(eta.UnixMilli()), score)

	require.NoError(t, b.promote(ctx, []string{"sync"}, eta.Add(time.Second)))
	items, err := mr.List("scitex:queue:sync")
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.False(t, mr.Exists("scitex:delayed:sync"))
}

func TestBrokerUpdateResult(t *testing.T) {
	for name, b := range brokers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			var seen *Result
			err := b.UpdateResult(ctx, "u1", func(cur *Result) (*Result, error) {
				seen = cur
				return &Result{ID: "u1", State: StatePending}, nil
			})
			require.NoError(t, err)
			assert.Nil(t, seen)

			err = b.UpdateResult(ctx, "u1", func(cur *Result) (*Result, error) {
				require.NotNil(t, cur)
				assert.Equal(t, StatePending, cur.State)
				return nil, nil
			})
			require.NoError(t, err)
			res, err := b.GetResult(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, StatePending, res.State)

			errNope := errors.New("nope")
			err = b.UpdateResult(ctx, "u1", func(cur *Result) (*Result, error) {
				return nil, errNope
			})
			assert.ErrorIs(t, err, errNope)

			require.NoError(t, b.UpdateResult(ctx, "u1", func(cur *Result) (*Result, error) {
				next := *cur
				next.State = StateStarted
				return &next, nil
			}))
			res, err = b.GetResult(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, StateStarted, res.State)
		})
	}
}

func TestMemoryBrokerUpdateResultSerializes(t *testing.T) {
	b := NewMemoryBroker(0)
	ctx := context.Background()
	require.NoError(t, b.SetResult(ctx, &Result{ID: "c"}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.UpdateResult(ctx, "c", func(cur *Result) (*Result, error) {
				next := *cur
				next.Retries++
				return &next, nil
			})
		}()
	}
	wg.Wait()

	res, err := b.GetResult(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 50, res.Retries)
}

func TestRedisBrokerUpdateResultRetriesOnConflict(t *testing.T) {
	b, _ := newRedisTestBroker(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, b.SetResult(ctx, &Result{ID: "w", State: StatePending}))

	var states []string
	err := b.UpdateResult(ctx, "w", func(cur *Result) (*Result, error) {
		states = append(states, cur.State)
		if len(states) == 1 {
			// another client changes the key between WATCH and EXEC
			require.NoError(t, b.SetResult(ctx, &Result{ID: "w", State: StateRevoked}))
		}
		if cur.State == StateRevoked {
			return nil, nil
		}
		return &Result{ID: "w", State: StateStarted}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{StatePending, StateRevoked}, states)

	res, err := b.GetResult(ctx, "w")
	require.NoError(t, err)
	assert.Equal(t, StateRevoked, res.State)
}
