package model

import (
	"time"
)

// OrderEvent is one entry of an order's timeline, written by the event
// consumer. EventID makes redelivered events idempotent.
type OrderEvent struct {
	ID        uint      `gorm:"primarykey" json:"-"`
	CreatedAt time.Time `json:"createdAt"`

	EventID      string `gorm:"size:64;uniqueIndex;not null" json:"eventId"`
	Type         string `gorm:"size:64;not null" json:"type"`
	OrderID      string `gorm:"size:64;not null;index" json:"orderId"`
	DisputeID    string `gorm:"size:64" json:"disputeId,omitempty"`
	Status       string `gorm:"size:32" json:"status"`
	OccurredAtMs int64  `gorm:"not null;index" json:"occurredAtMs"`
}

func (OrderEvent) TableName() string { return "order_events" }
