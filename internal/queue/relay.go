package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RelayConfig outbox Stream 与消费者组配置，零值字段使用默认值。
type RelayConfig struct {
	Stream   string
	Group    string
	Consumer string

	BatchSize int64
	Block     time.Duration
	// 其他 Relay 实例持有未 ACK 消息超过该时长后，由本实例接管
	ClaimIdle time.Duration
	// 读取或发布失败后的退避上限
	MaxBackoff time.Duration
}

func (c RelayConfig) withDefaults() RelayConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.Block <= 0 {
		c.Block = 2 * time.Second
	}
	if c.ClaimIdle <= 0 {
		c.ClaimIdle = time.Minute
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
	return c
}

// Relay 将 Redis Stream 中的生命周期事件转发到 Kafka。
// 发布成功后才 ACK + XDEL；失败的消息留在 pending 列表里，下一轮重试。
type Relay struct {
	rdb    *rd.Client
	target Publisher
	cfg    RelayConfig
}

func NewRelay(rdb *rd.Client, target Publisher, cfg RelayConfig) *Relay {
	return &Relay{rdb: rdb, target: target, cfg: cfg.withDefaults()}
}

// Run 持续转发直到 ctx 取消。
func (r *Relay) Run(ctx context.Context) {
	if err := r.ensureGroup(ctx); err != nil {
		log.Error().Err(err).Str("stream", r.cfg.Stream).Msg("relay ensure group")
		return
	}
	log.Info().Str("stream", r.cfg.Stream).Str("group", r.cfg.Group).Str("consumer", r.cfg.Consumer).Msg("relay started")

	backoff := time.Duration(0)
	for ctx.Err() == nil {
		forwarded, err := r.step(ctx)
		if err == nil {
			backoff = 0
			continue
		}
		if ctx.Err() != nil {
			return
		}
		backoff = nextBackoff(backoff, r.cfg.MaxBackoff)
		log.Warn().Err(err).Int("forwarded", forwarded).Dur("backoff", backoff).Msg("relay step")
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

// step 转发一批：先接管失联实例的滞留消息，再处理本消费者的 pending，最后读新消息。
func (r *Relay) step(ctx context.Context) (int, error) {
	msgs, err := r.claimStale(ctx)
	if err != nil {
		return 0, fmt.Errorf("claim stale: %w", err)
	}
	if len(msgs) == 0 {
		if msgs, err = r.readGroup(ctx, "0", 0); err != nil {
			return 0, fmt.Errorf("read pending: %w", err)
		}
	}
	if len(msgs) == 0 {
		if msgs, err = r.readGroup(ctx, ">", r.cfg.Block); err != nil {
			return 0, fmt.Errorf("read new: %w", err)
		}
	}
	return r.forward(ctx, msgs)
}

// forward 按 Stream 顺序发布并 ACK 已成功的前缀；遇到第一次发布失败即停止，
// 保证同一订单的事件顺序。
func (r *Relay) forward(ctx context.Context, msgs []rd.XMessage) (int, error) {
	done := make([]string, 0, len(msgs))
	var pubErr error
	for _, xm := range msgs {
		ev, err := parseStreamEvent(xm.Values)
		if err != nil {
			// 脏消息直接 ACK 丢弃，避免阻塞队列
			log.Warn().Err(err).Str("message_id", xm.ID).Msg("relay drop malformed event")
			done = append(done, xm.ID)
			continue
		}
		pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = r.target.Publish(pubCtx, ev)
		cancel()
		if err != nil {
			pubErr = fmt.Errorf("publish %s: %w", ev.EventID, err)
			break
		}
		done = append(done, xm.ID)
	}
	if err := r.ackAndDelete(ctx, done...); err != nil {
		return 0, fmt.Errorf("ack: %w", err)
	}
	return len(done), pubErr
}

func (r *Relay) ensureGroup(ctx context.Context) error {
	err := r.rdb.XGroupCreateMkStream(ctx, r.cfg.Stream, r.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (r *Relay) claimStale(ctx context.Context) ([]rd.XMessage, error) {
	msgs, _, err := r.rdb.XAutoClaim(ctx, &rd.XAutoClaimArgs{
		Stream:   r.cfg.Stream,
		Group:    r.cfg.Group,
		Consumer: r.cfg.Consumer,
		MinIdle:  r.cfg.ClaimIdle,
		Start:    "0-0",
		Count:    r.cfg.BatchSize,
	}).Result()
	if errors.Is(err, rd.Nil) {
		return nil, nil
	}
	return msgs, err
}

func (r *Relay) readGroup(ctx context.Context, streamID string, block time.Duration) ([]rd.XMessage, error) {
	args := &rd.XReadGroupArgs{
		Group:    r.cfg.Group,
		Consumer: r.cfg.Consumer,
		Streams:  []string{r.cfg.Stream, streamID},
		Count:    r.cfg.BatchSize,
		Block:    block,
	}
	// 读 pending 历史时不带 BLOCK
	if block == 0 {
		args.Block = -1
	}
	streams, err := r.rdb.XReadGroup(ctx, args).Result()
	if errors.Is(err, rd.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []rd.XMessage
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out, nil
}

func (r *Relay) ackAndDelete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	pipe := r.rdb.TxPipeline()
	pipe.XAck(ctx, r.cfg.Stream, r.cfg.Group, ids...)
	pipe.XDel(ctx, r.cfg.Stream, ids...)
	_, err := pipe.Exec(ctx)
	return err
}

func nextBackoff(cur, limit time.Duration) time.Duration {
	if cur <= 0 {
		return 200 * time.Millisecond
	}
	if cur *= 2; cur > limit {
		return limit
	}
	return cur
}

// streamFields 从 XMessage 读取字符串字段，只记录第一次错误。
type streamFields struct {
	values map[string]interface{}
	err    error
}

func (f *streamFields) required(key string) string {
	if f.err != nil {
		return ""
	}
	s, err := getStreamString(f.values, key)
	if err != nil {
		f.err = err
	}
	return s
}

func (f *streamFields) optional(key string) string {
	if _, ok := f.values[key]; !ok || f.err != nil {
		return ""
	}
	return f.required(key)
}

func parseStreamEvent(values map[string]interface{}) (Event, error) {
	f := streamFields{values: values}
	ev := Event{
		EventID:   f.required("event_id"),
		Type:      f.required("type"),
		OrderID:   f.required("order_id"),
		DisputeID: f.optional("dispute_id"),
		Status:    f.optional("status"),
	}
	occurred := f.required("occurred_at_ms")
	if f.err != nil {
		return Event{}, f.err
	}
	ms, err := strconv.ParseInt(occurred, 10, 64)
	if err != nil {
		return Event{}, fmt.Errorf("invalid occurred_at_ms %q", occurred)
	}
	ev.OccurredAtMs = ms
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// getStreamString 兼容 go-redis 返回的多种值类型。
func getStreamString(values map[string]interface{}, key string) (string, error) {
	v, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing field %s", key)
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case int:
		return strconv.Itoa(x), nil
	default:
		return "", fmt.Errorf("unsupported field type %s: %T", key, v)
	}
}
