// Package order implements the order lifecycle: creation with a frozen price
// quote, seller evidence, and the buyer review that may open a dispute.
package order

import (
	"context"
	"errors"
	"fmt"

	"adstandard/internal/catalog"
	"adstandard/internal/model"
	"adstandard/internal/pricing"
	"adstandard/internal/queue"
	rediskey "adstandard/pkg/redis"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const defaultIssueReason = "issue raised"

// Locker serialises updates on one order. OrderLocker in pkg/redis is the
// production implementation.
type Locker interface {
	Lock(ctx context.Context, orderID string) (release func(), err error)
}

// CreateParams describes a new order. ProductSnapshot, when non-empty, is
// frozen instead of the catalog entry.
type CreateParams struct {
	AnonUserID      string
	LeadID          *string
	ProductID       string
	ProductSnapshot map[string]any
	Payload         map[string]any
}

// ReviewParams is the buyer's verdict on delivered work.
type ReviewParams struct {
	AnonUserID string
	Verdict    model.Verdict
	IssueText  *string
	Evidence   []model.Evidence
}

// ReviewResult carries the dispute opened by an "issue" verdict.
type ReviewResult struct {
	Order   model.Order    `json:"order"`
	Dispute *model.Dispute `json:"dispute,omitempty"`
}

type Service struct {
	db      *gorm.DB
	catalog catalog.Provider
	events  queue.Publisher
	locker  Locker
}

type Option func(*Service)

// WithLocker enables per-order locking. Without it concurrent updates on the
// same order are last-write-wins.
func WithLocker(l Locker) Option {
	return func(s *Service) { s.locker = l }
}

func NewService(db *gorm.DB, c catalog.Provider, events queue.Publisher, opts ...Option) *Service {
	if events == nil {
		events = queue.Discard
	}
	s := &Service{db: db, catalog: c, events: events}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores a new order in status created with its quote frozen into the
// product snapshot. A lead ID that does not resolve is treated as no lead.
func (s *Service) Create(ctx context.Context, p CreateParams) (model.Order, error) {
	if p.AnonUserID == "" || p.ProductID == "" {
		return model.Order{}, fmt.Errorf("order: anonUserId and productId are required: %w", model.ErrInvalid)
	}
	if p.LeadID != nil && *p.LeadID == "" {
		p.LeadID = nil
	}

	var lead *model.Lead
	if p.LeadID != nil {
		var l model.Lead
		err := s.db.WithContext(ctx).First(&l, "id = ?", *p.LeadID).Error
		switch {
		case err == nil:
			lead = &l
		case errors.Is(err, gorm.ErrRecordNotFound):
			log.Info().Str("lead_id", *p.LeadID).Msg("order create: lead not found, freezing base price")
		default:
			return model.Order{}, fmt.Errorf("order: load lead: %w", err)
		}
	}

	snap := s.snapshot(p.ProductID, p.ProductSnapshot)
	if lead != nil {
		snap.Quote = pricing.Compute(lead.PricingLead(), snap.PricingItem())
	} else {
		snap.Quote = pricing.BaseQuote(snap.PricingItem())
	}

	o := model.Order{
		ID:              model.NewID(model.OrderIDPrefix),
		AnonUserID:      p.AnonUserID,
		LeadID:          p.LeadID,
		ProductID:       p.ProductID,
		ProductSnapshot: snap,
		Status:          model.OrderCreated,
		Evidence:        []model.Evidence{},
		Payload:         p.Payload,
	}
	if o.Payload == nil {
		o.Payload = map[string]any{}
	}
	if err := s.db.WithContext(ctx).Create(&o).Error; err != nil {
		return model.Order{}, fmt.Errorf("order: create: %w", err)
	}

	s.emit(ctx, queue.NewEvent(queue.EventOrderCreated, o.ID, "", string(o.Status)))
	return o, nil
}

func (s *Service) snapshot(productID string, supplied map[string]any) model.ProductSnapshot {
	if len(supplied) > 0 {
		snap := model.SnapshotFromMap(supplied)
		if snap.ID == "" {
			snap.ID = productID
		}
		return snap
	}
	if p, ok := s.catalog.Find(productID); ok {
		return model.SnapshotFromProduct(p)
	}
	return model.UnknownSnapshot(productID)
}

func (s *Service) Get(ctx context.Context, id string) (model.Order, error) {
	return load(s.db.WithContext(ctx), id)
}

// SubmitEvidence appends seller evidence and moves the order to
// evidence_submitted. Repeated calls keep appending.
func (s *Service) SubmitEvidence(ctx context.Context, orderID, anonUserID string, evidence []model.Evidence) (model.Order, error) {
	release, err := s.lock(ctx, orderID)
	if err != nil {
		return model.Order{}, err
	}
	defer release()

	o, err := s.loadForUpdate(ctx, orderID, anonUserID)
	if err != nil {
		return model.Order{}, err
	}

	o.Evidence = append(o.Evidence, evidence...)
	o.Status = model.OrderEvidenceSubmitted
	if err := s.db.WithContext(ctx).Save(&o).Error; err != nil {
		return model.Order{}, fmt.Errorf("order: save evidence: %w", err)
	}

	s.emit(ctx, queue.NewEvent(queue.EventOrderEvidenceSubmitted, o.ID, "", string(o.Status)))
	return o, nil
}

// Review records the buyer verdict. "approve" completes the order; "issue"
// opens exactly one dispute and moves the order to disputed, atomically.
func (s *Service) Review(ctx context.Context, orderID string, p ReviewParams) (ReviewResult, error) {
	if p.Verdict != model.VerdictApprove && p.Verdict != model.VerdictIssue {
		return ReviewResult{}, fmt.Errorf("order: unknown verdict %q: %w", p.Verdict, model.ErrInvalid)
	}

	release, err := s.lock(ctx, orderID)
	if err != nil {
		return ReviewResult{}, err
	}
	defer release()

	o, err := s.loadForUpdate(ctx, orderID, p.AnonUserID)
	if err != nil {
		return ReviewResult{}, err
	}

	verdict := p.Verdict
	o.BuyerVerdict = &verdict
	o.BuyerIssue = nil

	if verdict == model.VerdictApprove {
		o.Status = model.OrderCompleted
		if err := s.db.WithContext(ctx).Save(&o).Error; err != nil {
			return ReviewResult{}, fmt.Errorf("order: save review: %w", err)
		}
		s.emit(ctx, queue.NewEvent(queue.EventOrderCompleted, o.ID, "", string(o.Status)))
		return ReviewResult{Order: o}, nil
	}

	reason := defaultIssueReason
	if p.IssueText != nil && *p.IssueText != "" {
		reason = *p.IssueText
	}
	evidence := p.Evidence
	if evidence == nil {
		evidence = []model.Evidence{}
	}

	o.BuyerIssue = p.IssueText
	o.Evidence = append(o.Evidence, evidence...)
	o.Status = model.OrderDisputed
	d := model.Dispute{
		ID:         model.NewID(model.DisputeIDPrefix),
		OrderID:    o.ID,
		AnonUserID: p.AnonUserID,
		Status:     model.DisputeOpen,
		Reason:     reason,
		Evidence:   evidence,
		Source:     model.DisputeSourceBuyerReview,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&d).Error; err != nil {
			return fmt.Errorf("order: create dispute: %w", err)
		}
		if err := tx.Save(&o).Error; err != nil {
			return fmt.Errorf("order: save review: %w", err)
		}
		return nil
	})
	if err != nil {
		return ReviewResult{}, err
	}

	s.emit(ctx, queue.NewEvent(queue.EventOrderDisputed, o.ID, d.ID, string(o.Status)))
	return ReviewResult{Order: o, Dispute: &d}, nil
}

// Events lists the order's timeline, oldest first.
func (s *Service) Events(ctx context.Context, orderID string) ([]model.OrderEvent, error) {
	db := s.db.WithContext(ctx)
	if _, err := load(db, orderID); err != nil {
		return nil, err
	}
	var events []model.OrderEvent
	if err := db.Where("order_id = ?", orderID).Order("occurred_at_ms ASC, id ASC").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("order: list events: %w", err)
	}
	return events, nil
}

// loadForUpdate loads the order and checks ownership, then state. Non-owners
// learn nothing about the order's state.
func (s *Service) loadForUpdate(ctx context.Context, orderID, anonUserID string) (model.Order, error) {
	o, err := load(s.db.WithContext(ctx), orderID)
	if err != nil {
		return model.Order{}, err
	}
	if o.AnonUserID != anonUserID {
		return model.Order{}, fmt.Errorf("order %s: %w", orderID, model.ErrForbidden)
	}
	if !o.Status.AcceptsBuyerInput() {
		return model.Order{}, fmt.Errorf("order %s is %s: %w", orderID, o.Status, model.ErrConflict)
	}
	return o, nil
}

func load(db *gorm.DB, id string) (model.Order, error) {
	var o model.Order
	if err := db.First(&o, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Order{}, fmt.Errorf("order %s: %w", id, model.ErrNotFound)
		}
		return model.Order{}, fmt.Errorf("order: get: %w", err)
	}
	return o, nil
}

func (s *Service) lock(ctx context.Context, orderID string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	release, err := s.locker.Lock(ctx, orderID)
	if errors.Is(err, rediskey.ErrLockHeld) {
		return nil, fmt.Errorf("order %s is being updated: %w", orderID, model.ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("order: lock: %w", err)
	}
	return release, nil
}

// emit publishes after commit. Failures are logged; the order change stands.
func (s *Service) emit(ctx context.Context, ev queue.Event) {
	if err := s.events.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("event", ev.Type).Str("order_id", ev.OrderID).Msg("publish order event")
	}
}
