package domain

import "time"

// DefaultImportance is used when a fact is remembered without a score.
const DefaultImportance = 0.7

// MemoryEntry is a remembered fact or preference. Entries are replaced as a
// whole, never merged.
type MemoryEntry struct {
	Key        string    `json:"key"`
	Value      any       `json:"value"`
	Timestamp  time.Time `json:"timestamp"`
	Importance float64   `json:"importance"`
}
