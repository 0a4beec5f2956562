// Package lead stores buyer requirement snapshots.
package lead

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"adstandard/internal/model"

	"gorm.io/gorm"
)

const minAnonUserIDLen = 3

// CreateParams is the buyer input for a new lead. OnlyWithinBudget is a
// pointer so an omitted field can default to true.
type CreateParams struct {
	AnonUserID       string
	Industry         string
	Goal             string
	Platform         string
	Budget           int64
	NeedFastDelivery bool
	VerifiedOnly     bool
	OnlyWithinBudget *bool
	Sort             string
	Extra            map[string]any
}

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

func (s *Service) Create(ctx context.Context, p CreateParams) (model.Lead, error) {
	if len(strings.TrimSpace(p.AnonUserID)) < minAnonUserIDLen {
		return model.Lead{}, fmt.Errorf("lead: anonUserId must have at least %d characters: %w", minAnonUserIDLen, model.ErrInvalid)
	}
	if p.Budget < 0 {
		return model.Lead{}, fmt.Errorf("lead: budget must be >= 0: %w", model.ErrInvalid)
	}

	l := model.Lead{
		ID:               model.NewID(model.LeadIDPrefix),
		AnonUserID:       p.AnonUserID,
		Industry:         p.Industry,
		Goal:             p.Goal,
		Platform:         p.Platform,
		Budget:           p.Budget,
		NeedFastDelivery: p.NeedFastDelivery,
		VerifiedOnly:     p.VerifiedOnly,
		OnlyWithinBudget: p.OnlyWithinBudget == nil || *p.OnlyWithinBudget,
		Sort:             p.Sort,
		Extra:            p.Extra,
	}
	if l.Sort == "" {
		l.Sort = model.SortRecommended
	}
	if l.Extra == nil {
		l.Extra = map[string]any{}
	}
	if err := s.db.WithContext(ctx).Create(&l).Error; err != nil {
		return model.Lead{}, fmt.Errorf("lead: create: %w", err)
	}
	return l, nil
}

func (s *Service) Get(ctx context.Context, id string) (model.Lead, error) {
	var l model.Lead
	if err := s.db.WithContext(ctx).First(&l, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Lead{}, fmt.Errorf("lead %s: %w", id, model.ErrNotFound)
		}
		return model.Lead{}, fmt.Errorf("lead: get: %w", err)
	}
	return l, nil
}
