package pricing

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Int reads a loosely typed value as an integer. Booleans count as 0/1,
// floats are truncated toward zero and strings must hold a plain decimal
// integer. Anything else yields def.
func Int(v any, def int64) int64 {
	switch x := v.(type) {
	case nil:
		return def
	case bool:
		if x {
			return 1
		}
		return 0
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return truncFloat(float64(x), def)
	case float64:
		return truncFloat(x, def)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, err := x.Float64()
		if err != nil {
			return def
		}
		return truncFloat(f, def)
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return def
		}
		return i
	default:
		return def
	}
}

// Bool reads a loosely typed value as a flag: real booleans pass through,
// everything else is true only when its integer reading is exactly 1.
func Bool(v any) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return Int(v, 0) == 1
}

func truncFloat(f float64, def int64) int64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return def
	}
	return int64(f)
}

// ParseItem builds the pricing view of a free-form product record, such as a
// client-supplied order snapshot. Missing prices are 0, a missing or
// malformed qty is 1 and a missing or malformed durationDays is 0.
func ParseItem(m map[string]any) Item {
	opts, _ := m["options"].(map[string]any)
	return Item{
		StandardPrice: Int(m["standardPrice"], 0),
		FloorPrice:    Int(m["floorPrice"], 0),
		CeilingPrice:  Int(m["ceilingPrice"], 0),
		Options: Options{
			Qty:          Int(opts["qty"], 1),
			DurationDays: Int(opts["durationDays"], 0),
		},
	}
}

// ParseLead builds the pricing view of a free-form lead record. A missing
// budget is 0 and the flags default to false, except onlyWithinBudget which
// is true when the key is absent. A present but null onlyWithinBudget reads
// as false.
func ParseLead(m map[string]any) Lead {
	within := true
	if v, ok := m["onlyWithinBudget"]; ok {
		within = Bool(v)
	}
	return Lead{
		Budget:           Int(m["budget"], 0),
		VerifiedOnly:     Bool(m["verifiedOnly"]),
		NeedFastDelivery: Bool(m["needFastDelivery"]),
		OnlyWithinBudget: within,
	}
}
