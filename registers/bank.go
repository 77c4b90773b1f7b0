// Package registers simulates a bank of holding registers and detects reportable changes.
package registers

import (
	"math/rand/v2"
	"strconv"
	"strings"
)

// Sentinel register values written on every sample.
// Together they encode float32 1.0 split across two 16-bit slots.
const (
	SentinelHigh = 0x3F80 // last register (N-1)
	SentinelLow  = 0x0000 // second-to-last register (N-2)
)

// MaxValue is the inclusive upper bound of a randomly sampled register.
const MaxValue = 100

// DefaultCount is the default number of registers.
const DefaultCount = 10

// Snapshot is the ordered register state of one poll.
type Snapshot []int

// String renders the snapshot as "[v0, v1, ...]".
func (s Snapshot) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range s {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.Itoa(v))
	}
	b.WriteByte(']')
	return b.String()
}

// Equal reports whether both snapshots have the same length and values.
func (s Snapshot) Equal(other Snapshot) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns an independent copy.
func (s Snapshot) Clone() Snapshot {
	return append(Snapshot(nil), s...)
}

// Bank holds the current registers and the last snapshot that was reported as changed.
// It is owned by a single goroutine and is not safe for concurrent use.
type Bank struct {
	registers    Snapshot
	lastReported Snapshot
	rng          *rand.Rand
}

// NewBank creates a bank of count registers in the zero state.
// A nil rng uses a randomly seeded PCG source.
func NewBank(count int, rng *rand.Rand) *Bank {
	if count < 2 {
		panic("registers: count must be >= 2 (two sentinel registers)")
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	return &Bank{
		registers:    make(Snapshot, count),
		lastReported: make(Snapshot, count),
		rng:          rng,
	}
}

// Count returns the number of registers.
func (b *Bank) Count() int {
	return len(b.registers)
}

// Sample fills every register with a value in [0, MaxValue], then writes the sentinels.
func (b *Bank) Sample() Snapshot {
	for i := range b.registers {
		b.registers[i] = b.rng.IntN(MaxValue + 1)
	}

	n := len(b.registers)
	b.registers[n-1] = SentinelHigh
	b.registers[n-2] = SentinelLow

	return b.registers.Clone()
}

// HasChanged compares current against the last reported snapshot (not the previous sample).
// On a difference it records current as reported and returns true.
func (b *Bank) HasChanged(current Snapshot) bool {
	if b.lastReported.Equal(current) {
		return false
	}
	b.lastReported = current.Clone()
	return true
}

// LastReported returns a copy of the last reported snapshot.
func (b *Bank) LastReported() Snapshot {
	return b.lastReported.Clone()
}
