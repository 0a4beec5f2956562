// Package catalog provides the fixed set of sellable products. The set is
// read-only at runtime; callers receive copies.
package catalog

import (
	"fmt"
	"strings"

	"adstandard/internal/pricing"

	"github.com/BurntSushi/toml"
)

// Conditions are informational seller conditions attached to a product.
// The pricing engine does not enforce them.
type Conditions struct {
	VerifiedOnly     bool `json:"verifiedOnly"`
	NeedFastDelivery bool `json:"needFastDelivery"`
}

// Product is one catalog entry.
type Product struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	Platform      string          `json:"platform"`
	Summary       string          `json:"summary"`
	Code          string          `json:"code"`
	StandardPrice int64           `json:"standardPrice"`
	FloorPrice    int64           `json:"floorPrice"`
	CeilingPrice  int64           `json:"ceilingPrice"`
	Options       pricing.Options `json:"options"`
	Conditions    Conditions      `json:"conditions"`
}

// PricingItem returns the fields the pricing engine reads.
func (p Product) PricingItem() pricing.Item {
	return pricing.Item{
		StandardPrice: p.StandardPrice,
		FloorPrice:    p.FloorPrice,
		CeilingPrice:  p.CeilingPrice,
		Options:       p.Options,
	}
}

// Provider is the read-only catalog handed to the services.
type Provider interface {
	List() []Product
	Find(id string) (Product, bool)
}

// Static is an in-memory Provider over a fixed product list.
type Static struct {
	products []Product
}

// NewStatic copies products into a Static catalog. Iteration order is the
// given order.
func NewStatic(products []Product) *Static {
	out := make([]Product, len(products))
	copy(out, products)
	return &Static{products: out}
}

func (s *Static) List() []Product {
	out := make([]Product, len(s.products))
	copy(out, s.products)
	return out
}

func (s *Static) Find(id string) (Product, bool) {
	for _, p := range s.products {
		if p.ID == id {
			return p, true
		}
	}
	return Product{}, false
}

// Default is the built-in launch catalog.
func Default() *Static {
	return NewStatic([]Product{
		{
			ID:            "P001",
			Title:         "Instagram Reels, 1 post",
			Platform:      "instagram",
			Summary:       "1 reel + 1 story",
			Code:          "IG-RLS-1-V1",
			StandardPrice: 150000,
			FloorPrice:    90000,
			CeilingPrice:  250000,
			Options:       pricing.Options{Qty: 1, DurationDays: 0},
		},
		{
			ID:            "P002",
			Title:         "Instagram Stories, 3 posts",
			Platform:      "instagram",
			Summary:       "3-story package",
			Code:          "IG-STR-PKG-V1",
			StandardPrice: 90000,
			FloorPrice:    60000,
			CeilingPrice:  140000,
			Options:       pricing.Options{Qty: 1, DurationDays: 0},
			Conditions:    Conditions{NeedFastDelivery: true},
		},
		{
			ID:            "P003",
			Title:         "Naver Place reviews, 10 posts",
			Platform:      "naver",
			Summary:       "10-review package",
			Code:          "NV-PLC-10-V1",
			StandardPrice: 120000,
			FloorPrice:    80000,
			CeilingPrice:  180000,
			Options:       pricing.Options{Qty: 1, DurationDays: 0},
			Conditions:    Conditions{VerifiedOnly: true},
		},
	})
}

type catalogFile struct {
	Products []Product `toml:"products"`
}

// LoadFile reads a TOML catalog with one [[products]] table per entry.
// Keys match the JSON field names (standardPrice, options.durationDays, ...).
func LoadFile(path string) (*Static, error) {
	var f catalogFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("catalog: decode %s: %w", path, err)
	}
	if len(f.Products) == 0 {
		return nil, fmt.Errorf("catalog: %s has no products", path)
	}
	seen := make(map[string]struct{}, len(f.Products))
	for i, p := range f.Products {
		if strings.TrimSpace(p.ID) == "" {
			return nil, fmt.Errorf("catalog: product #%d has no id", i+1)
		}
		if _, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate product id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
		if p.Options.Qty < 1 {
			f.Products[i].Options.Qty = 1
		}
	}
	return NewStatic(f.Products), nil
}
