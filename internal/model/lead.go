package model

import (
	"time"

	"adstandard/internal/pricing"
)

// SortRecommended is the default recommendation order.
const SortRecommended = "recommended"

// Lead is a buyer's requirement snapshot. Leads are never updated.
type Lead struct {
	ID          string    `gorm:"primaryKey;size:64" json:"leadId"`
	CreatedAt   time.Time `json:"createdAt"`
	CreatedAtMs int64     `gorm:"not null;default:0" json:"createdAtMs"`

	AnonUserID       string         `gorm:"size:128;not null;index" json:"anonUserId"`
	Industry         string         `gorm:"size:128;not null" json:"industry"`
	Goal             string         `gorm:"size:255;not null" json:"goal"`
	Platform         string         `gorm:"size:64;not null" json:"platform"`
	Budget           int64          `gorm:"not null" json:"budget"`
	NeedFastDelivery bool           `gorm:"not null;default:false" json:"needFastDelivery"`
	VerifiedOnly     bool           `gorm:"not null;default:false" json:"verifiedOnly"`
	OnlyWithinBudget bool           `gorm:"not null" json:"onlyWithinBudget"`
	Sort             string         `gorm:"size:32;not null;default:recommended" json:"sort"`
	Extra            map[string]any `gorm:"type:text;serializer:json" json:"extra"`
}

func (Lead) TableName() string { return "leads" }

// PricingLead returns the conditions the pricing engine reads.
func (l Lead) PricingLead() pricing.Lead {
	return pricing.Lead{
		Budget:           l.Budget,
		VerifiedOnly:     l.VerifiedOnly,
		NeedFastDelivery: l.NeedFastDelivery,
		OnlyWithinBudget: l.OnlyWithinBudget,
	}
}
