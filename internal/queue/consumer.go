package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"adstandard/internal/model"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"gorm.io/gorm"
)

// messageReader 是 Consumer 用到的 kafka.Reader 子集。
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// consumerMaxBackoff 读取失败后重试等待的上限。
const consumerMaxBackoff = 5 * time.Second

// Consumer 从 Kafka 读取生命周期事件，追加到订单时间线表。
type Consumer struct {
	r  messageReader
	db *gorm.DB
}

func NewConsumer(brokers []string, topic, groupID string, db *gorm.DB) *Consumer {
	return &Consumer{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1e3,
			MaxBytes: 1e6,
		}),
		db: db,
	}
}

func (c *Consumer) Close() error { return c.r.Close() }

// Run 持续消费直到 ctx 取消。读取失败（broker 重启、重平衡等）时
// 记录日志并退避重试，不会让时间线消费者静默退出。
func (c *Consumer) Run(ctx context.Context) {
	backoff := time.Duration(0)
	for {
		m, err := c.r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			backoff = nextBackoff(backoff, consumerMaxBackoff)
			log.Warn().Err(err).Dur("backoff", backoff).Msg("consumer read message")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0

		var ev Event
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			log.Warn().Err(err).Int64("offset", m.Offset).Msg("consumer unmarshal")
			continue
		}
		if err := StoreEvent(ctx, c.db, ev); err != nil {
			log.Error().Err(err).Str("event_id", ev.EventID).Msg("consumer store event")
		}
	}
}

// StoreEvent 写入 order_events。重复投递的事件撞上 event_id 唯一索引，
// 视为已写入。
func StoreEvent(ctx context.Context, db *gorm.DB, ev Event) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	row := &model.OrderEvent{
		EventID:      ev.EventID,
		Type:         ev.Type,
		OrderID:      ev.OrderID,
		DisputeID:    ev.DisputeID,
		Status:       ev.Status,
		OccurredAtMs: ev.OccurredAtMs,
	}
	err := db.WithContext(ctx).Create(row).Error
	if err != nil && errorsLikeUnique(err) {
		return nil
	}
	return err
}

func errorsLikeUnique(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "UNIQUE") || strings.Contains(s, "unique")
}

// Recorder 直接写 order_events；事件流水线关闭时代替 Stream、Relay 与 Kafka。
type Recorder struct {
	db *gorm.DB
}

func NewRecorder(db *gorm.DB) *Recorder { return &Recorder{db: db} }

func (r *Recorder) Publish(ctx context.Context, ev Event) error {
	return StoreEvent(ctx, r.db, ev)
}
