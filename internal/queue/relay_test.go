package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"adstandard/internal/model"

	"github.com/alicebob/miniredis/v2"
	rd "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testStream = "adstandard:test_events"
	testGroup  = "relay-group"
)

// flakyPublisher 记录成功发布的事件，对 failing 中的 event_id 返回错误。
type flakyPublisher struct {
	mu        sync.Mutex
	failing   map[string]bool
	published []Event
}

func (p *flakyPublisher) Publish(_ context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failing[ev.EventID] {
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, ev)
	return nil
}

func (p *flakyPublisher) heal() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failing = nil
}

func (p *flakyPublisher) ids() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.published))
	for _, ev := range p.published {
		out = append(out, ev.EventID)
	}
	return out
}

func newRedis(t *testing.T) *rd.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func newRelay(t *testing.T, rdb *rd.Client, target Publisher, consumer string) *Relay {
	t.Helper()
	r := NewRelay(rdb, target, RelayConfig{
		Stream:   testStream,
		Group:    testGroup,
		Consumer: consumer,
		Block:    10 * time.Millisecond,
	})
	require.NoError(t, r.ensureGroup(context.Background()))
	return r
}

// publishN 经 StreamPublisher 写入 n 个同一订单的事件。
func publishN(t *testing.T, rdb *rd.Client, n int) []string {
	t.Helper()
	sp := NewStreamPublisher(rdb, testStream)
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ev := NewEvent(EventOrderCreated, "O-1", "", string(model.OrderCreated))
		require.NoError(t, sp.Publish(context.Background(), ev))
		ids = append(ids, ev.EventID)
	}
	return ids
}

func pendingCount(t *testing.T, rdb *rd.Client) int64 {
	t.Helper()
	p, err := rdb.XPending(context.Background(), testStream, testGroup).Result()
	require.NoError(t, err)
	return p.Count
}

func TestStreamPublisher_Publish(t *testing.T) {
	rdb := newRedis(t)
	ev := NewEvent(EventDisputeResolved, "O-1", "D-1", string(model.OrderRefunded))

	require.NoError(t, NewStreamPublisher(rdb, testStream).Publish(context.Background(), ev))

	msgs, err := rdb.XRange(context.Background(), testStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	got, err := parseStreamEvent(msgs[0].Values)
	require.NoError(t, err)
	assert.Equal(t, ev, got)

	assert.Error(t, NewStreamPublisher(rdb, testStream).Publish(context.Background(), Event{}))
}

func TestRelay_AcksAfterPublish(t *testing.T) {
	rdb := newRedis(t)
	target := &flakyPublisher{}
	relay := newRelay(t, rdb, target, "relay-1")
	ids := publishN(t, rdb, 3)

	n, err := relay.step(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, ids, target.ids())
	assert.Zero(t, pendingCount(t, rdb))
	assert.Zero(t, rdb.XLen(context.Background(), testStream).Val())
}

func TestRelay_StopsAtFirstFailure(t *testing.T) {
	rdb := newRedis(t)
	ids := publishN(t, rdb, 3)
	target := &flakyPublisher{failing: map[string]bool{ids[1]: true}}
	relay := newRelay(t, rdb, target, "relay-1")
	ctx := context.Background()

	n, err := relay.step(ctx)

	assert.ErrorContains(t, err, "broker unavailable")
	assert.Equal(t, 1, n)
	assert.Equal(t, ids[:1], target.ids())
	// 失败的消息及其后续仍在 pending，只有已发布的前缀被删除
	assert.EqualValues(t, 2, pendingCount(t, rdb))
	assert.EqualValues(t, 2, rdb.XLen(ctx, testStream).Val())

	// 恢复后从 pending 列表按原顺序补发
	target.heal()
	n, err = relay.step(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, ids, target.ids())
	assert.Zero(t, pendingCount(t, rdb))
	assert.Zero(t, rdb.XLen(ctx, testStream).Val())
}

func TestRelay_DropsMalformed(t *testing.T) {
	rdb := newRedis(t)
	target := &flakyPublisher{}
	relay := newRelay(t, rdb, target, "relay-1")
	ctx := context.Background()
	require.NoError(t, rdb.XAdd(ctx, &rd.XAddArgs{Stream: testStream, Values: map[string]any{"type": "junk"}}).Err())
	ids := publishN(t, rdb, 1)

	n, err := relay.step(ctx)

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, ids, target.ids())
	assert.Zero(t, pendingCount(t, rdb))
}

func TestRelay_ClaimsStaleFromDeadConsumer(t *testing.T) {
	rdb := newRedis(t)
	ctx := context.Background()
	dead := newRelay(t, rdb, &flakyPublisher{}, "relay-dead")
	ids := publishN(t, rdb, 2)

	// relay-dead 读到消息后崩溃，未 ACK
	msgs, err := dead.readGroup(ctx, ">", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	target := &flakyPublisher{}
	live := NewRelay(rdb, target, RelayConfig{
		Stream:    testStream,
		Group:     testGroup,
		Consumer:  "relay-live",
		Block:     10 * time.Millisecond,
		ClaimIdle: 5 * time.Millisecond,
	})
	time.Sleep(20 * time.Millisecond)

	n, err := live.step(ctx)

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, ids, target.ids())
	assert.Zero(t, pendingCount(t, rdb))
}

func TestRelay_RunForwardsUntilCancelled(t *testing.T) {
	rdb := newRedis(t)
	target := &flakyPublisher{}
	relay := NewRelay(rdb, target, RelayConfig{
		Stream:   testStream,
		Group:    testGroup,
		Consumer: "relay-1",
		Block:    10 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Run(ctx)
		close(done)
	}()

	ids := publishN(t, rdb, 2)
	assert.Eventually(t, func() bool { return len(target.ids()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, ids, target.ids())

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop after cancel")
	}
}
