// Package dispute 管理员侧的争议处理：列表查询，以及结清原订单的一次性裁决。
package dispute

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"adstandard/internal/model"
	"adstandard/internal/queue"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const listLimit = 200

// ResolveParams 管理员的裁决输入。
type ResolveParams struct {
	AdminKey string
	Result   model.ResolutionResult
	Memo     *string
}

// ResolveResult 裁决涉及的全部记录。原订单已不存在时 Order 为 nil。
type ResolveResult struct {
	Dispute    model.Dispute    `json:"dispute"`
	Resolution model.Resolution `json:"resolution"`
	Order      *model.Order     `json:"order"`
}

type Service struct {
	db       *gorm.DB
	events   queue.Publisher
	adminKey string
}

func NewService(db *gorm.DB, events queue.Publisher, adminKey string) *Service {
	if events == nil {
		events = queue.Discard
	}
	return &Service{db: db, events: events, adminKey: adminKey}
}

// Authorize 以常量时间比较管理员密钥。
func (s *Service) Authorize(key string) error {
	if s.adminKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.adminKey)) != 1 {
		return fmt.Errorf("dispute: admin key rejected: %w", model.ErrForbidden)
	}
	return nil
}

// List 按创建时间倒序返回争议。processed 为 true 只返回已处理，
// false 只返回未处理，nil 返回全部。
func (s *Service) List(ctx context.Context, adminKey string, processed *bool) ([]model.Dispute, error) {
	if err := s.Authorize(adminKey); err != nil {
		return nil, err
	}
	q := s.db.WithContext(ctx).Preload("Resolution").Order("created_at DESC").Limit(listLimit)
	if processed != nil {
		status := model.DisputeOpen
		if *processed {
			status = model.DisputeResolved
		}
		q = q.Where("status = ?", status)
	}
	out := make([]model.Dispute, 0, 8)
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	return out, nil
}

// Resolve 对 open 状态的争议做一次性裁决。裁决记录、争议状态和订单终态
// 在同一事务内提交；同一争议的第二次调用返回 ErrConflict。
func (s *Service) Resolve(ctx context.Context, disputeID string, p ResolveParams) (ResolveResult, error) {
	if err := s.Authorize(p.AdminKey); err != nil {
		return ResolveResult{}, err
	}
	if !p.Result.Valid() {
		return ResolveResult{}, fmt.Errorf("dispute: unknown result %q: %w", p.Result, model.ErrInvalid)
	}

	var out ResolveResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var d model.Dispute
		if err := tx.First(&d, "id = ?", disputeID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("dispute %s: %w", disputeID, model.ErrNotFound)
			}
			return fmt.Errorf("dispute: get: %w", err)
		}
		if d.Status == model.DisputeResolved {
			return fmt.Errorf("dispute %s already resolved: %w", disputeID, model.ErrConflict)
		}

		now := time.Now()
		upd := tx.Model(&model.Dispute{}).
			Where("id = ? AND status = ?", d.ID, model.DisputeOpen).
			Updates(map[string]any{
				"status":         model.DisputeResolved,
				"resolved_at":    now,
				"resolved_at_ms": now.UnixMilli(),
			})
		if upd.Error != nil {
			return fmt.Errorf("dispute: update: %w", upd.Error)
		}
		// 并发处理时只有一个请求能把 open 改为 resolved
		if upd.RowsAffected == 0 {
			return fmt.Errorf("dispute %s already resolved: %w", disputeID, model.ErrConflict)
		}

		res := model.Resolution{
			ID:        model.NewID(model.ResolutionIDPrefix),
			CreatedAt: now,
			DisputeID: d.ID,
			OrderID:   d.OrderID,
			Result:    p.Result,
			Memo:      p.Memo,
		}
		if err := tx.Create(&res).Error; err != nil {
			return fmt.Errorf("dispute: create resolution: %w", err)
		}

		d.Status = model.DisputeResolved
		d.ResolvedAt = &now
		d.ResolvedAtMs = model.UnixMillis(&now)
		d.Resolution = &res
		out.Dispute = d
		out.Resolution = res

		var o model.Order
		err := tx.First(&o, "id = ?", d.OrderID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn().Str("dispute_id", d.ID).Str("order_id", d.OrderID).Msg("resolve: order vanished, dispute resolved alone")
			return nil
		}
		if err != nil {
			return fmt.Errorf("dispute: load order: %w", err)
		}
		result := p.Result
		o.Status = result.OrderStatus()
		o.AdminVerdict = &result
		o.AdminMemo = p.Memo
		if err := tx.Save(&o).Error; err != nil {
			return fmt.Errorf("dispute: settle order: %w", err)
		}
		out.Order = &o
		return nil
	})
	if err != nil {
		return ResolveResult{}, err
	}

	status := ""
	if out.Order != nil {
		status = string(out.Order.Status)
	}
	ev := queue.NewEvent(queue.EventDisputeResolved, out.Dispute.OrderID, out.Dispute.ID, status)
	if err := s.events.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("dispute_id", out.Dispute.ID).Msg("publish dispute event")
	}
	return out, nil
}
