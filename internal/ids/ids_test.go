package ids

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequenceIsDeterministicPerPrefix(t *testing.T) {
	seq := NewSequence()
	assert.Equal(t, "d_1", seq.NewID("d"))
	assert.Equal(t, "d_2", seq.NewID("d"))
	assert.Equal(t, "attr_1", seq.NewID("attr"))
}

func TestUUIDGeneratorPrefixesIDs(t *testing.T) {
	gen := NewUUIDGenerator()
	a, b := gen.NewID("frag"), gen.NewID("frag")
	assert.True(t, strings.HasPrefix(a, "frag_"))
	assert.NotEqual(t, a, b)
}

func TestLedgerEntryID(t *testing.T) {
	assert.Equal(t, "d_1_alice", LedgerEntryID("d_1", "alice"))
}
