package queue

import (
	"context"
	"strconv"

	rd "github.com/redis/go-redis/v9"
)

// streamMaxLen caps the outbox stream; the relay normally drains it long before.
const streamMaxLen = 100000

// StreamPublisher appends events to a Redis Stream that the Relay forwards to
// Kafka. This is the outbox side written on the request path.
type StreamPublisher struct {
	rdb    *rd.Client
	stream string
}

func NewStreamPublisher(rdb *rd.Client, stream string) *StreamPublisher {
	return &StreamPublisher{rdb: rdb, stream: stream}
}

func (p *StreamPublisher) Publish(ctx context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	return p.rdb.XAdd(ctx, &rd.XAddArgs{
		Stream: p.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: streamValues(ev),
	}).Err()
}

func streamValues(ev Event) map[string]interface{} {
	return map[string]interface{}{
		"event_id":       ev.EventID,
		"type":           ev.Type,
		"order_id":       ev.OrderID,
		"dispute_id":     ev.DisputeID,
		"status":         ev.Status,
		"occurred_at_ms": strconv.FormatInt(ev.OccurredAtMs, 10),
	}
}
