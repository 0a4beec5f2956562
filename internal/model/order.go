package model

import (
	"time"
)

// OrderStatus 订单生命周期状态。
type OrderStatus string

const (
	OrderCreated           OrderStatus = "created"
	OrderEvidenceSubmitted OrderStatus = "evidence_submitted"
	OrderDisputed          OrderStatus = "disputed"
	OrderCompleted         OrderStatus = "completed"
	OrderResolved          OrderStatus = "resolved"
	OrderRefunded          OrderStatus = "refunded"
	OrderRejected          OrderStatus = "rejected"
)

// Terminal 终态之后不再有任何状态迁移。
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderCompleted, OrderResolved, OrderRefunded, OrderRejected:
		return true
	}
	return false
}

// AcceptsBuyerInput 该状态下是否仍接受卖家证据与买家评审。
func (s OrderStatus) AcceptsBuyerInput() bool {
	return s == OrderCreated || s == OrderEvidenceSubmitted
}

// Verdict 买家评审结论。
type Verdict string

const (
	VerdictApprove Verdict = "approve"
	VerdictIssue   Verdict = "issue"
)

// Evidence 一条自由格式的证据（链接、截图、备注）。
type Evidence map[string]any

// Order 广告订单：下单时冻结商品快照与报价
type Order struct {
	ID          string    `gorm:"primaryKey;size:64" json:"orderId"`
	CreatedAt   time.Time `json:"createdAt"`
	CreatedAtMs int64     `gorm:"not null;default:0" json:"createdAtMs"`
	UpdatedAt   time.Time `json:"updatedAt"`

	AnonUserID string  `gorm:"size:128;not null;index" json:"anonUserId"`
	LeadID     *string `gorm:"size:64;index" json:"leadId"`
	ProductID  string  `gorm:"size:64;not null" json:"productId"`
	// 下单时写入一次，之后不再重算
	ProductSnapshot ProductSnapshot `gorm:"type:text;serializer:json;not null" json:"productSnapshot"`

	Status       OrderStatus       `gorm:"size:32;not null;index" json:"status"`
	Evidence     []Evidence        `gorm:"type:text;serializer:json" json:"evidence"`
	BuyerVerdict *Verdict          `gorm:"size:16" json:"buyerVerdict"`
	BuyerIssue   *string           `gorm:"type:text" json:"buyerIssue"`
	AdminVerdict *ResolutionResult `gorm:"size:32" json:"adminVerdict"`
	AdminMemo    *string           `gorm:"type:text" json:"adminMemo"`
	Payload      map[string]any    `gorm:"type:text;serializer:json" json:"payload"`
}

func (Order) TableName() string { return "orders" }
