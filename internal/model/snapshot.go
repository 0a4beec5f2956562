package model

import (
	"adstandard/internal/catalog"
	"adstandard/internal/pricing"
)

// UnknownProductCode marks a snapshot for a product the catalog does not know.
const UnknownProductCode = "UNKNOWN"

// ProductSnapshot is the copy of a product frozen into an order, with the
// quote computed at creation time. Extra keeps client-supplied fields that
// have no typed counterpart.
type ProductSnapshot struct {
	catalog.Product
	Quote pricing.Quote  `json:"quote"`
	Extra map[string]any `json:"extra,omitempty"`
}

// SnapshotFromProduct copies a catalog product.
func SnapshotFromProduct(p catalog.Product) ProductSnapshot {
	return ProductSnapshot{Product: p}
}

// UnknownSnapshot is the zero-priced placeholder for an unknown product ID.
func UnknownSnapshot(productID string) ProductSnapshot {
	return ProductSnapshot{Product: catalog.Product{
		ID:      productID,
		Title:   productID,
		Code:    UnknownProductCode,
		Options: pricing.Options{Qty: 1, DurationDays: 0},
	}}
}

var snapshotKeys = map[string]struct{}{
	"id": {}, "title": {}, "platform": {}, "summary": {}, "code": {},
	"standardPrice": {}, "floorPrice": {}, "ceilingPrice": {},
	"options": {}, "conditions": {}, "quote": {},
}

// SnapshotFromMap parses a client-supplied snapshot. Numeric and boolean
// fields are coerced the same way the pricing engine coerces them; a quote
// sent by the client is discarded.
func SnapshotFromMap(m map[string]any) ProductSnapshot {
	item := pricing.ParseItem(m)
	conds, _ := m["conditions"].(map[string]any)

	s := ProductSnapshot{Product: catalog.Product{
		ID:            str(m["id"]),
		Title:         str(m["title"]),
		Platform:      str(m["platform"]),
		Summary:       str(m["summary"]),
		Code:          str(m["code"]),
		StandardPrice: item.StandardPrice,
		FloorPrice:    item.FloorPrice,
		CeilingPrice:  item.CeilingPrice,
		Options:       item.Options,
		Conditions: catalog.Conditions{
			VerifiedOnly:     pricing.Bool(conds["verifiedOnly"]),
			NeedFastDelivery: pricing.Bool(conds["needFastDelivery"]),
		},
	}}
	for k, v := range m {
		if _, known := snapshotKeys[k]; known {
			continue
		}
		if s.Extra == nil {
			s.Extra = make(map[string]any)
		}
		s.Extra[k] = v
	}
	return s
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
