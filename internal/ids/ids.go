// Package ids provides injectable identifier generation so storage rows never
// depend on wall-clock ordering for correctness.
package ids

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Generator produces unique ids with a short type prefix
type Generator interface {
	NewID(prefix string) string
}

// UUIDGenerator issues random v4 uuids
type UUIDGenerator struct{}

// NewUUIDGenerator returns the production generator
func NewUUIDGenerator() UUIDGenerator {
	return UUIDGenerator{}
}

// NewID implements Generator
func (UUIDGenerator) NewID(prefix string) string {
	return prefix + "_" + uuid.New().String()
}

// Sequence issues deterministic ids ("d_1", "d_2", ...) per prefix
type Sequence struct {
	mu       sync.Mutex
	counters map[string]int
}

// NewSequence returns a deterministic generator for tests and fixtures
func NewSequence() *Sequence {
	return &Sequence{counters: make(map[string]int)}
}

// NewID implements Generator
func (s *Sequence) NewID(prefix string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters[prefix]++
	return fmt.Sprintf("%s_%d", prefix, s.counters[prefix])
}

// LedgerEntryID derives the ledger row key from its draft and contributor
func LedgerEntryID(draftID, contributorID string) string {
	return draftID + "_" + contributorID
}
