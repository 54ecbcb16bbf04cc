package model

import (
	"strings"
	"time"
)

// BlockKind is the identity axis a block applies to.
type BlockKind string

const (
	BlockVisitor BlockKind = "visitor"
	BlockIP      BlockKind = "ip"
	BlockPhone   BlockKind = "phone"
)

// Valid reports whether k is a known block kind.
func (k BlockKind) Valid() bool {
	switch k {
	case BlockVisitor, BlockIP, BlockPhone:
		return true
	}
	return false
}

// ParseBlockKind accepts the short aliases used by admin commands. Matching
// ignores case and surrounding space.
func ParseBlockKind(s string) (BlockKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "visitor", "vid", "visitorid":
		return BlockVisitor, true
	case "ip":
		return BlockIP, true
	case "phone", "tel":
		return BlockPhone, true
	}
	return "", false
}

// BlockEntry is a single deny-list row.
type BlockEntry struct {
	Kind        BlockKind `json:"kind"`
	Value       string    `json:"value"`
	Reason      string    `json:"reason,omitempty"`
	DerivedFrom string    `json:"derived_from,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
