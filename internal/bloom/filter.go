// Package bloom provides a row-key membership filter. A store backend keeps
// one filter per table so that point reads of keys that were never written
// can be answered without a database round trip.
package bloom

import (
	"math"
	"sync"

	"github.com/spaolacci/murmur3"
)

// DefaultFPR is the false positive rate used when none is configured.
const DefaultFPR = 0.01

// KeyFilter is a bloom filter over row keys. It never reports a false
// negative: a key that was added always tests as possibly present.
type KeyFilter struct {
	mu       sync.RWMutex
	words    []uint64
	numBits  uint64
	numHash  uint64
	count    uint64
	capacity uint64
	fpr      float64
}

// NewKeyFilter sizes a filter for capacity keys at the target false positive
// rate.
func NewKeyFilter(capacity int, fpr float64) *KeyFilter {
	if capacity <= 0 {
		capacity = 1024
	}
	if fpr <= 0 || fpr >= 1 {
		fpr = DefaultFPR
	}
	bits, hashes := Parameters(capacity, fpr)
	words := (bits + 63) / 64
	return &KeyFilter{
		words:    make([]uint64, words),
		numBits:  uint64(words * 64),
		numHash:  uint64(hashes),
		capacity: uint64(capacity),
		fpr:      fpr,
	}
}

// Parameters returns the bit count m = -n*ln(p)/ln(2)^2 and the hash count
// k = (m/n)*ln(2) for n keys at rate p.
func Parameters(capacity int, fpr float64) (bits, hashes int) {
	n := float64(capacity)
	m := math.Ceil(-n * math.Log(fpr) / (math.Ln2 * math.Ln2))
	k := math.Ceil(m / n * math.Ln2)
	bits, hashes = int(m), int(k)
	if bits < 64 {
		bits = 64
	}
	if hashes < 1 {
		hashes = 1
	}
	return bits, hashes
}

// Add records a key.
func (f *KeyFilter) Add(key []byte) {
	h1, h2 := murmur3.Sum128(key)

	f.mu.Lock()
	defer f.mu.Unlock()
	for i := uint64(0); i < f.numHash; i++ {
		pos := (h1 + i*h2) % f.numBits
		f.words[pos/64] |= 1 << (pos % 64)
	}
	f.count++
}

// MayContain reports false only when the key was definitely never added.
func (f *KeyFilter) MayContain(key []byte) bool {
	h1, h2 := murmur3.Sum128(key)

	f.mu.RLock()
	defer f.mu.RUnlock()
	for i := uint64(0); i < f.numHash; i++ {
		pos := (h1 + i*h2) % f.numBits
		if f.words[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

// Count returns the number of Add calls. Re-adding a key counts again.
func (f *KeyFilter) Count() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.count
}

// Capacity returns the key count the filter was sized for.
func (f *KeyFilter) Capacity() uint64 {
	return f.capacity
}

// Saturated reports whether more keys were added than the filter was sized
// for. A saturated filter is still correct but its false positive rate is
// above target; callers rebuild it at a larger capacity.
func (f *KeyFilter) Saturated() bool {
	return f.Count() > f.capacity
}

// EstimatedFPR returns (1 - e^(-k*n/m))^k for the current fill.
func (f *KeyFilter) EstimatedFPR() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.count == 0 {
		return 0
	}
	k := float64(f.numHash)
	return math.Pow(1-math.Exp(-k*float64(f.count)/float64(f.numBits)), k)
}
