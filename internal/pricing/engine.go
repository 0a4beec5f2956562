// Package pricing turns a lead's conditions and a catalog product into a
// price quote. Everything here is pure and safe for concurrent use.
package pricing

import (
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	verifiedMultiplier = 1.10
	fastMultiplier     = 1.15
	durationMultiplier = 1.05

	// durationThresholdDays is the campaign length from which the duration
	// surcharge applies.
	durationThresholdDays = 7

	eligibleBonus  = 10
	proximityScale = 20
)

// printer groups thousands in reason lines (150,000).
var printer = message.NewPrinter(language.English)

// Lead holds the buyer conditions that influence a quote.
type Lead struct {
	Budget           int64
	VerifiedOnly     bool
	NeedFastDelivery bool
	OnlyWithinBudget bool
}

// Options are the per-product order options shared by catalog entries and
// order snapshots.
type Options struct {
	Qty          int64 `json:"qty"`
	DurationDays int64 `json:"durationDays"`
}

// Item is the pricing view of a catalog product.
type Item struct {
	StandardPrice int64
	FloorPrice    int64
	CeilingPrice  int64
	Options       Options
}

// Applied echoes the inputs a quote was computed from.
type Applied struct {
	VerifiedOnly     bool  `json:"verifiedOnly"`
	NeedFastDelivery bool  `json:"needFastDelivery"`
	Qty              int64 `json:"qty"`
	DurationDays     int64 `json:"durationDays"`
}

// Quote is the result of pricing one product for one lead. Reasons lists
// every adjustment in the order it was applied.
type Quote struct {
	StandardPrice int64    `json:"standardPrice"`
	FloorPrice    int64    `json:"floorPrice"`
	CeilingPrice  int64    `json:"ceilingPrice"`
	Eligible      bool     `json:"eligible"`
	Score         int64    `json:"score"`
	Reasons       []string `json:"reasons"`
	Applied       Applied  `json:"applied"`
}

type figures struct {
	std, floor, ceil int64
}

func (f figures) scale(mul float64) figures {
	return figures{
		std:   mulRound(f.std, mul),
		floor: mulRound(f.floor, mul),
		ceil:  mulRound(f.ceil, mul),
	}
}

func (f figures) times(n int64) figures {
	return figures{std: f.std * n, floor: f.floor * n, ceil: f.ceil * n}
}

// mulRound rounds half to even, one figure at a time. Rounding error is
// allowed to compound across steps.
func mulRound(x int64, mul float64) int64 {
	return int64(math.RoundToEven(float64(x) * mul))
}

// Compute prices item for lead. Surcharges compound in a fixed order:
// verified sellers, fast delivery, duration, then quantity.
func Compute(lead Lead, item Item) Quote {
	f := figures{std: item.StandardPrice, floor: item.FloorPrice, ceil: item.CeilingPrice}
	reasons := []string{
		printer.Sprintf("base price: standard %d / floor %d / ceiling %d", f.std, f.floor, f.ceil),
	}

	if lead.VerifiedOnly {
		f = f.scale(verifiedMultiplier)
		reasons = append(reasons, "verified sellers only (+10%)")
	}
	if lead.NeedFastDelivery {
		f = f.scale(fastMultiplier)
		reasons = append(reasons, "fast delivery (+15%)")
	}
	if item.Options.DurationDays >= durationThresholdDays {
		f = f.scale(durationMultiplier)
		reasons = append(reasons, "duration of 7 days or more (+5%)")
	}
	if qty := item.Options.Qty; qty > 1 {
		f = f.times(qty)
		reasons = append(reasons, printer.Sprintf("quantity multiplier (qty=%d)", qty))
	}

	eligible := true
	if lead.OnlyWithinBudget && lead.Budget > 0 && f.std > lead.Budget {
		eligible = false
		reasons = append(reasons, printer.Sprintf(
			"over budget: standard %d > budget %d by %d (onlyWithinBudget)",
			f.std, lead.Budget, f.std-lead.Budget))
	}

	return Quote{
		StandardPrice: f.std,
		FloorPrice:    f.floor,
		CeilingPrice:  f.ceil,
		Eligible:      eligible,
		Score:         score(eligible, lead.Budget, f.std),
		Reasons:       reasons,
		Applied: Applied{
			VerifiedOnly:     lead.VerifiedOnly,
			NeedFastDelivery: lead.NeedFastDelivery,
			Qty:              item.Options.Qty,
			DurationDays:     item.Options.DurationDays,
		},
	}
}

// score rewards eligibility and closeness to budget. The proximity term decays
// linearly from 10 at an exact match to 0 once the gap reaches half the budget.
func score(eligible bool, budget, std int64) int64 {
	var s int64
	if eligible {
		s += eligibleBonus
	}
	if budget > 0 {
		gap := budget - std
		if gap < 0 {
			gap = -gap
		}
		proximity := 10 - int64(float64(gap)/float64(max(1, budget))*proximityScale)
		if proximity > 0 {
			s += proximity
		}
	}
	return s
}

// BaseQuote freezes an item's list prices when no lead is known.
func BaseQuote(item Item) Quote {
	return Quote{
		StandardPrice: item.StandardPrice,
		FloorPrice:    item.FloorPrice,
		CeilingPrice:  item.CeilingPrice,
		Eligible:      true,
		Reasons:       []string{"no lead: base price frozen"},
		Applied:       Applied{Qty: 1},
	}
}
