// Package recommend ranks catalog products for a lead.
package recommend

import (
	"cmp"
	"slices"
	"strings"

	"adstandard/internal/catalog"
	"adstandard/internal/model"
	"adstandard/internal/pricing"
)

const (
	platformMatchBonus   = 20
	platformMismatchCost = 5

	SortCheap     = "cheap"
	SortExpensive = "expensive"

	conditionSeparator = " · "
	noConditionsLabel  = "standard"
)

// CTA is the call to action attached to each card.
type CTA struct {
	Label     string `json:"label"`
	Action    string `json:"action"`
	ProductID string `json:"productId"`
}

// Card is one ranked product. Score is the quote score plus the platform
// adjustment; Quote.Score is left untouched.
type Card struct {
	ID                string          `json:"id"`
	Title             string          `json:"title"`
	Summary           string          `json:"summary"`
	Platform          string          `json:"platform"`
	Code              string          `json:"code"`
	Options           pricing.Options `json:"options"`
	ConditionsSummary string          `json:"conditionsSummary"`
	Quote             pricing.Quote   `json:"quote"`
	Score             int64           `json:"score"`
	CTA               CTA             `json:"cta"`
}

// Ranker builds recommendation cards from an injected catalog.
type Ranker struct {
	catalog catalog.Provider
}

func NewRanker(c catalog.Provider) *Ranker {
	return &Ranker{catalog: c}
}

// Rank quotes every catalog product for lead and orders the cards by the
// lead's sort mode. Ties keep catalog order.
func (r *Ranker) Rank(lead model.Lead) []Card {
	leadPlatform := strings.ToLower(lead.Platform)
	summary := ConditionsSummary(lead)
	pl := lead.PricingLead()

	products := r.catalog.List()
	cards := make([]Card, 0, len(products))
	for _, p := range products {
		q := pricing.Compute(pl, p.PricingItem())
		score := q.Score
		if strings.ToLower(p.Platform) == leadPlatform {
			score += platformMatchBonus
		} else {
			score -= platformMismatchCost
		}
		cards = append(cards, Card{
			ID:                p.ID,
			Title:             p.Title,
			Summary:           p.Summary,
			Platform:          p.Platform,
			Code:              p.Code,
			Options:           p.Options,
			ConditionsSummary: summary,
			Quote:             q,
			Score:             score,
			CTA:               CTA{Label: "Select", Action: "create_order", ProductID: p.ID},
		})
	}

	switch strings.ToLower(lead.Sort) {
	case SortCheap:
		slices.SortStableFunc(cards, func(a, b Card) int {
			return cmp.Compare(a.Quote.StandardPrice, b.Quote.StandardPrice)
		})
	case SortExpensive:
		slices.SortStableFunc(cards, func(a, b Card) int {
			return cmp.Compare(b.Quote.StandardPrice, a.Quote.StandardPrice)
		})
	default:
		slices.SortStableFunc(cards, func(a, b Card) int {
			return cmp.Compare(b.Score, a.Score)
		})
	}
	return cards
}

// ConditionsSummary lists the lead's active flags for display.
func ConditionsSummary(lead model.Lead) string {
	var labels []string
	if lead.VerifiedOnly {
		labels = append(labels, "verified sellers")
	}
	if lead.NeedFastDelivery {
		labels = append(labels, "fast delivery")
	}
	if lead.OnlyWithinBudget {
		labels = append(labels, "within budget")
	}
	if len(labels) == 0 {
		return noConditionsLabel
	}
	return strings.Join(labels, conditionSeparator)
}
