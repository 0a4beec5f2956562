package model

import (
	"time"

	"gorm.io/gorm"
)

// stampCreated 在写入前固定创建时间，并同步毫秒时间戳字段。
func stampCreated(at *time.Time, ms *int64) {
	if at.IsZero() {
		*at = time.Now()
	}
	*ms = at.UnixMilli()
}

// UnixMillis 返回 t 的毫秒时间戳指针，nil 保持 nil。
func UnixMillis(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

func (l *Lead) BeforeCreate(*gorm.DB) error {
	stampCreated(&l.CreatedAt, &l.CreatedAtMs)
	return nil
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	stampCreated(&o.CreatedAt, &o.CreatedAtMs)
	return nil
}

func (d *Dispute) BeforeCreate(*gorm.DB) error {
	stampCreated(&d.CreatedAt, &d.CreatedAtMs)
	d.ResolvedAtMs = UnixMillis(d.ResolvedAt)
	return nil
}

func (r *Resolution) BeforeCreate(*gorm.DB) error {
	stampCreated(&r.CreatedAt, &r.CreatedAtMs)
	return nil
}
