package model

import "time"

// Cursor is the durable ingestion progress marker. NextBlock is the
// inclusive lower bound of the next fetch and is monotonically
// non-decreasing across the process lifetime.
type Cursor struct {
	NextBlock      uint64    `json:"next_block"`
	Endpoint       string    `json:"endpoint"`
	LastAdvancedAt time.Time `json:"last_advanced_at"`
}
