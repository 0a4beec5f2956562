package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// 订单生命周期事件类型。
const (
	EventOrderCreated           = "order.created"
	EventOrderEvidenceSubmitted = "order.evidence_submitted"
	EventOrderCompleted         = "order.completed"
	EventOrderDisputed          = "order.disputed"
	EventDisputeResolved        = "dispute.resolved"
)

// Event 是写入 Redis Stream / Kafka 的订单生命周期事件。
type Event struct {
	EventID      string `json:"event_id"`
	Type         string `json:"type"`
	OrderID      string `json:"order_id"`
	DisputeID    string `json:"dispute_id,omitempty"`
	Status       string `json:"status"`
	OccurredAtMs int64  `json:"occurred_at_ms"`
}

// NewEvent 生成新的事件 ID 并记录当前时间。
func NewEvent(typ, orderID, disputeID, status string) Event {
	return Event{
		EventID:      uuid.NewString(),
		Type:         typ,
		OrderID:      orderID,
		DisputeID:    disputeID,
		Status:       status,
		OccurredAtMs: time.Now().UnixMilli(),
	}
}

// Validate 做最小字段校验，防止消费者处理脏消息。
func (e Event) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if e.Type == "" {
		return fmt.Errorf("type is required")
	}
	if e.OrderID == "" {
		return fmt.Errorf("order_id is required")
	}
	if e.OccurredAtMs <= 0 {
		return fmt.Errorf("occurred_at_ms must be > 0")
	}
	return nil
}

// Publisher 接收生命周期事件。实现有 StreamPublisher（API 写入的 outbox）、
// Producer（Relay 转发到 Kafka）、Recorder（直接落库）和 Discard。
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type discard struct{}

func (discard) Publish(context.Context, Event) error { return nil }

// Discard 丢弃所有事件。
var Discard Publisher = discard{}
