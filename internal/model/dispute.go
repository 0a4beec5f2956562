package model

import (
	"time"
)

// DisputeStatus represents the lifecycle of a dispute record.
type DisputeStatus string

const (
	DisputeOpen     DisputeStatus = "open"
	DisputeResolved DisputeStatus = "resolved"
)

// DisputeSourceBuyerReview marks disputes raised from a buyer "issue" verdict.
const DisputeSourceBuyerReview = "buyer_review"

// Dispute is raised by a buyer against an order and resolved once by an admin.
type Dispute struct {
	ID          string    `gorm:"primaryKey;size:64" json:"disputeId"`
	CreatedAt   time.Time `json:"createdAt"`
	CreatedAtMs int64     `gorm:"not null;default:0" json:"createdAtMs"`
	UpdatedAt   time.Time `json:"updatedAt"`

	OrderID    string        `gorm:"size:64;not null;index" json:"orderId"`
	AnonUserID string        `gorm:"size:128;index" json:"anonUserId"`
	Status     DisputeStatus `gorm:"size:16;not null;index" json:"status"`
	Reason     string        `gorm:"type:text;not null" json:"reason"`
	Evidence   []Evidence    `gorm:"type:text;serializer:json" json:"evidence"`
	Source     string        `gorm:"size:32" json:"source"`

	ResolvedAt   *time.Time  `json:"resolvedAt"`
	ResolvedAtMs *int64      `json:"resolvedAtMs"`
	Resolution   *Resolution `gorm:"foreignKey:DisputeID;references:ID" json:"resolution,omitempty"`
}

func (Dispute) TableName() string { return "disputes" }

// ResolutionResult is the admin's decision on a dispute.
type ResolutionResult string

const (
	ResultReexecuteApproved ResolutionResult = "reexecute_approved"
	ResultRefundApproved    ResolutionResult = "refund_approved"
	ResultRejected          ResolutionResult = "rejected"
)

// Valid reports whether r is one of the known results.
func (r ResolutionResult) Valid() bool {
	switch r {
	case ResultReexecuteApproved, ResultRefundApproved, ResultRejected:
		return true
	}
	return false
}

// OrderStatus maps a result onto the order's terminal status.
func (r ResolutionResult) OrderStatus() OrderStatus {
	switch r {
	case ResultReexecuteApproved:
		return OrderResolved
	case ResultRefundApproved:
		return OrderRefunded
	default:
		return OrderRejected
	}
}

// Resolution is the immutable record of an admin decision.
type Resolution struct {
	ID          string    `gorm:"primaryKey;size:64" json:"resolutionId"`
	CreatedAt   time.Time `json:"createdAt"`
	CreatedAtMs int64     `gorm:"not null;default:0" json:"createdAtMs"`

	// DisputeID is unique: a dispute is resolved at most once.
	DisputeID string           `gorm:"size:64;not null;uniqueIndex" json:"disputeId"`
	OrderID   string           `gorm:"size:64;not null;index" json:"orderId"`
	Result    ResolutionResult `gorm:"size:32;not null" json:"result"`
	Memo      *string          `gorm:"type:text" json:"memo"`
}

func (Resolution) TableName() string { return "resolutions" }
