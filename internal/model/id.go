package model

import "github.com/google/uuid"

// ID prefixes per entity, kept from the first API version so IDs stay
// recognisable in support tickets.
const (
	LeadIDPrefix       = "L"
	OrderIDPrefix      = "O"
	DisputeIDPrefix    = "D"
	ResolutionIDPrefix = "R"
)

// NewID returns a prefixed random identifier such as "O-3f2c...".
func NewID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
