package bloom

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/golang/snappy"
)

// Snapshot layout: 4-byte magic, then numBits, numHash, count and capacity as
// little-endian uint64, the fpr as float64 bits, then the snappy-compressed
// bit array.
const (
	snapshotMagic  = "HKF1"
	snapshotHeader = 4 + 5*8
)

var errShortSnapshot = errors.New("bloom: snapshot too short")

// MarshalBinary implements encoding.BinaryMarshaler.
func (f *KeyFilter) MarshalBinary() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	raw := make([]byte, len(f.words)*8)
	for i, w := range f.words {
		binary.LittleEndian.PutUint64(raw[i*8:], w)
	}
	compressed := snappy.Encode(nil, raw)

	buf := make([]byte, snapshotHeader, snapshotHeader+len(compressed))
	copy(buf, snapshotMagic)
	binary.LittleEndian.PutUint64(buf[4:], f.numBits)
	binary.LittleEndian.PutUint64(buf[12:], f.numHash)
	binary.LittleEndian.PutUint64(buf[20:], f.count)
	binary.LittleEndian.PutUint64(buf[28:], f.capacity)
	binary.LittleEndian.PutUint64(buf[36:], math.Float64bits(f.fpr))
	return append(buf, compressed...), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (f *KeyFilter) UnmarshalBinary(data []byte) error {
	if len(data) < snapshotHeader {
		return errShortSnapshot
	}
	if string(data[:4]) != snapshotMagic {
		return fmt.Errorf("bloom: bad snapshot magic %q", data[:4])
	}
	numBits := binary.LittleEndian.Uint64(data[4:])
	numHash := binary.LittleEndian.Uint64(data[12:])
	if numBits == 0 || numBits%64 != 0 || numHash == 0 {
		return fmt.Errorf("bloom: invalid snapshot parameters bits=%d hashes=%d", numBits, numHash)
	}

	raw, err := snappy.Decode(nil, data[snapshotHeader:])
	if err != nil {
		return fmt.Errorf("bloom: decompress snapshot: %w", err)
	}
	if uint64(len(raw)) != numBits/8 {
		return fmt.Errorf("bloom: snapshot has %d bytes of bits, want %d", len(raw), numBits/8)
	}
	words := make([]uint64, numBits/64)
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(raw[i*8:])
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.words = words
	f.numBits = numBits
	f.numHash = numHash
	f.count = binary.LittleEndian.Uint64(data[20:])
	f.capacity = binary.LittleEndian.Uint64(data[28:])
	f.fpr = math.Float64frombits(binary.LittleEndian.Uint64(data[36:]))
	return nil
}

// Load decodes a snapshot into a new filter.
func Load(data []byte) (*KeyFilter, error) {
	f := &KeyFilter{}
	if err := f.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return f, nil
}
