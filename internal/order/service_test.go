package order

import (
	"context"
	"errors"
	"sync"
	"testing"

	"adstandard/internal/catalog"
	"adstandard/internal/lead"
	"adstandard/internal/model"
	"adstandard/internal/queue"
	"adstandard/internal/testutil"
	rediskey "adstandard/pkg/redis"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev queue.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

type fakeLocker struct {
	err      error
	locked   []string
	released int
}

func (f *fakeLocker) Lock(_ context.Context, orderID string) (func(), error) {
	if f.err != nil {
		return nil, f.err
	}
	f.locked = append(f.locked, orderID)
	return func() { f.released++ }, nil
}

type fixture struct {
	db     *gorm.DB
	svc    *Service
	leads  *lead.Service
	events *recordingPublisher
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	db := testutil.NewDB(t)
	events := &recordingPublisher{}
	return fixture{
		db:     db,
		svc:    NewService(db, catalog.Default(), events, opts...),
		leads:  lead.NewService(db),
		events: events,
	}
}

func (f fixture) lead(t *testing.T, p lead.CreateParams) model.Lead {
	t.Helper()
	if p.AnonUserID == "" {
		p.AnonUserID = "anon-buyer"
	}
	l, err := f.leads.Create(context.Background(), p)
	require.NoError(t, err)
	return l
}

func (f fixture) order(t *testing.T) model.Order {
	t.Helper()
	o, err := f.svc.Create(context.Background(), CreateParams{AnonUserID: "anon-buyer", ProductID: "P001"})
	require.NoError(t, err)
	return o
}

func countDisputes(t *testing.T, db *gorm.DB, orderID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&model.Dispute{}).Where("order_id = ?", orderID).Count(&n).Error)
	return n
}

func TestCreate_FreezesQuoteFromLead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.lead(t, lead.CreateParams{Platform: "instagram", Budget: 100000, VerifiedOnly: true, NeedFastDelivery: true})

	o, err := f.svc.Create(ctx, CreateParams{AnonUserID: "anon-buyer", LeadID: &l.ID, ProductID: "P001"})
	require.NoError(t, err)

	assert.Equal(t, model.OrderCreated, o.Status)
	assert.Equal(t, "IG-RLS-1-V1", o.ProductSnapshot.Code)
	assert.Equal(t, int64(189750), o.ProductSnapshot.Quote.StandardPrice)
	assert.False(t, o.ProductSnapshot.Quote.Eligible)
	assert.Empty(t, o.Evidence)
	assert.Equal(t, []string{queue.EventOrderCreated}, f.events.types())

	got, err := f.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ProductSnapshot.Quote, got.ProductSnapshot.Quote)
	require.NotNil(t, got.LeadID)
	assert.Equal(t, l.ID, *got.LeadID)
}

func TestCreate_WithoutLeadUsesBaseQuote(t *testing.T) {
	f := newFixture(t)
	missing := "L-missing"

	for _, leadID := range []*string{nil, &missing} {
		o, err := f.svc.Create(context.Background(), CreateParams{AnonUserID: "anon-buyer", LeadID: leadID, ProductID: "P002"})
		require.NoError(t, err)

		q := o.ProductSnapshot.Quote
		assert.Equal(t, int64(90000), q.StandardPrice)
		assert.True(t, q.Eligible)
		assert.Zero(t, q.Score)
		assert.Equal(t, []string{"no lead: base price frozen"}, q.Reasons)
	}
}

func TestCreate_UnknownProduct(t *testing.T) {
	f := newFixture(t)

	o, err := f.svc.Create(context.Background(), CreateParams{AnonUserID: "anon-buyer", ProductID: "P404"})
	require.NoError(t, err)

	assert.Equal(t, "P404", o.ProductSnapshot.ID)
	assert.Equal(t, model.UnknownProductCode, o.ProductSnapshot.Code)
	assert.Zero(t, o.ProductSnapshot.Quote.StandardPrice)
}

func TestCreate_ClientSnapshotIsPriced(t *testing.T) {
	f := newFixture(t)
	l := f.lead(t, lead.CreateParams{Platform: "youtube"})

	o, err := f.svc.Create(context.Background(), CreateParams{
		AnonUserID: "anon-buyer",
		LeadID:     &l.ID,
		ProductID:  "CUSTOM",
		ProductSnapshot: map[string]any{
			"title":         "Custom bundle",
			"standardPrice": float64(90000),
			"options":       map[string]any{"qty": float64(3)},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "CUSTOM", o.ProductSnapshot.ID)
	assert.Equal(t, "Custom bundle", o.ProductSnapshot.Title)
	assert.Equal(t, int64(270000), o.ProductSnapshot.Quote.StandardPrice)
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), CreateParams{AnonUserID: "anon-buyer"})
	assert.ErrorIs(t, err, model.ErrInvalid)
}

func TestSubmitEvidence_Accumulates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t)

	_, err := f.svc.SubmitEvidence(ctx, o.ID, "anon-buyer", []model.Evidence{{"url": "https://a"}})
	require.NoError(t, err)
	got, err := f.svc.SubmitEvidence(ctx, o.ID, "anon-buyer", []model.Evidence{{"url": "https://b"}, {"note": "done"}})
	require.NoError(t, err)

	assert.Equal(t, model.OrderEvidenceSubmitted, got.Status)
	require.Len(t, got.Evidence, 3)
	assert.Equal(t, "https://a", got.Evidence[0]["url"])

	stored, err := f.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Evidence, 3)
}

func TestSubmitEvidence_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t)

	_, err := f.svc.SubmitEvidence(ctx, "O-missing", "anon-buyer", nil)
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = f.svc.SubmitEvidence(ctx, o.ID, "someone-else", nil)
	assert.ErrorIs(t, err, model.ErrForbidden)
}

func TestReview_ApproveCompletesWithoutDispute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t)

	res, err := f.svc.Review(ctx, o.ID, ReviewParams{AnonUserID: "anon-buyer", Verdict: model.VerdictApprove})
	require.NoError(t, err)

	assert.Equal(t, model.OrderCompleted, res.Order.Status)
	assert.Nil(t, res.Dispute)
	require.NotNil(t, res.Order.BuyerVerdict)
	assert.Equal(t, model.VerdictApprove, *res.Order.BuyerVerdict)
	assert.Nil(t, res.Order.BuyerIssue)
	assert.Zero(t, countDisputes(t, f.db, o.ID))
	assert.Equal(t, []string{queue.EventOrderCreated, queue.EventOrderCompleted}, f.events.types())
}

func TestReview_IssueOpensExactlyOneDispute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t)
	_, err := f.svc.SubmitEvidence(ctx, o.ID, "anon-buyer", []model.Evidence{{"url": "https://a"}})
	require.NoError(t, err)

	issue := "reel was never posted"
	res, err := f.svc.Review(ctx, o.ID, ReviewParams{
		AnonUserID: "anon-buyer",
		Verdict:    model.VerdictIssue,
		IssueText:  &issue,
		Evidence:   []model.Evidence{{"screenshot": "s1.png"}},
	})
	require.NoError(t, err)

	assert.Equal(t, model.OrderDisputed, res.Order.Status)
	require.NotNil(t, res.Order.BuyerIssue)
	assert.Equal(t, issue, *res.Order.BuyerIssue)
	assert.Len(t, res.Order.Evidence, 2)

	require.NotNil(t, res.Dispute)
	assert.Equal(t, model.DisputeOpen, res.Dispute.Status)
	assert.Equal(t, issue, res.Dispute.Reason)
	assert.Equal(t, o.ID, res.Dispute.OrderID)
	assert.Equal(t, model.DisputeSourceBuyerReview, res.Dispute.Source)
	assert.Len(t, res.Dispute.Evidence, 1)
	assert.Equal(t, int64(1), countDisputes(t, f.db, o.ID))

	// a disputed order takes no further reviews
	_, err = f.svc.Review(ctx, o.ID, ReviewParams{AnonUserID: "anon-buyer", Verdict: model.VerdictIssue})
	assert.ErrorIs(t, err, model.ErrConflict)
	assert.Equal(t, int64(1), countDisputes(t, f.db, o.ID))
}

func TestReview_IssueWithoutTextUsesDefaultReason(t *testing.T) {
	f := newFixture(t)
	o := f.order(t)

	res, err := f.svc.Review(context.Background(), o.ID, ReviewParams{AnonUserID: "anon-buyer", Verdict: model.VerdictIssue})
	require.NoError(t, err)

	assert.Equal(t, defaultIssueReason, res.Dispute.Reason)
	assert.NotNil(t, res.Dispute.Evidence)
}

func TestReview_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t)

	_, err := f.svc.Review(ctx, o.ID, ReviewParams{AnonUserID: "anon-buyer", Verdict: "maybe"})
	assert.ErrorIs(t, err, model.ErrInvalid)

	_, err = f.svc.Review(ctx, o.ID, ReviewParams{AnonUserID: "intruder", Verdict: model.VerdictApprove})
	assert.ErrorIs(t, err, model.ErrForbidden)

	_, err = f.svc.Review(ctx, "O-missing", ReviewParams{AnonUserID: "anon-buyer", Verdict: model.VerdictApprove})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestTerminalOrdersRejectFurtherInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t)

	_, err := f.svc.Review(ctx, o.ID, ReviewParams{AnonUserID: "anon-buyer", Verdict: model.VerdictApprove})
	require.NoError(t, err)

	_, err = f.svc.SubmitEvidence(ctx, o.ID, "anon-buyer", []model.Evidence{{"late": true}})
	assert.ErrorIs(t, err, model.ErrConflict)

	_, err = f.svc.Review(ctx, o.ID, ReviewParams{AnonUserID: "anon-buyer", Verdict: model.VerdictIssue})
	assert.ErrorIs(t, err, model.ErrConflict)
	assert.Zero(t, countDisputes(t, f.db, o.ID))

	// ownership is checked before state
	_, err = f.svc.SubmitEvidence(ctx, o.ID, "intruder", nil)
	assert.ErrorIs(t, err, model.ErrForbidden)
}

func TestLocker(t *testing.T) {
	locker := &fakeLocker{}
	f := newFixture(t, WithLocker(locker))
	o := f.order(t)

	_, err := f.svc.SubmitEvidence(context.Background(), o.ID, "anon-buyer", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{o.ID}, locker.locked)
	assert.Equal(t, 1, locker.released)

	locker.err = rediskey.ErrLockHeld
	_, err = f.svc.Review(context.Background(), o.ID, ReviewParams{AnonUserID: "anon-buyer", Verdict: model.VerdictApprove})
	assert.ErrorIs(t, err, model.ErrConflict)

	locker.err = errors.New("redis down")
	_, err = f.svc.Review(context.Background(), o.ID, ReviewParams{AnonUserID: "anon-buyer", Verdict: model.VerdictApprove})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, model.ErrConflict)
}

func TestPublishFailureDoesNotFailOrder(t *testing.T) {
	f := newFixture(t)
	f.events.err = errors.New("stream unavailable")

	o, err := f.svc.Create(context.Background(), CreateParams{AnonUserID: "anon-buyer", ProductID: "P001"})
	require.NoError(t, err)

	_, err = f.svc.Get(context.Background(), o.ID)
	assert.NoError(t, err)
}

func TestEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t)

	// the consumer normally writes these from Kafka
	for _, ev := range f.events.events {
		require.NoError(t, queue.StoreEvent(ctx, f.db, ev))
	}
	_, err := f.svc.Review(ctx, o.ID, ReviewParams{AnonUserID: "anon-buyer", Verdict: model.VerdictApprove})
	require.NoError(t, err)
	require.NoError(t, queue.StoreEvent(ctx, f.db, f.events.events[1]))

	events, err := f.svc.Events(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, queue.EventOrderCreated, events[0].Type)
	assert.Equal(t, queue.EventOrderCompleted, events[1].Type)

	_, err = f.svc.Events(ctx, "O-missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}
