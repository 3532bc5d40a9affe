// Package prng implements the fast, non-cryptographic source used for
// source-port jitter and payload nonces, per spec §2.3. It is seeded
// once per process and is not safe for concurrent use by multiple
// senders without one Stream per goroutine (mirrors the sender's
// per-process, no-shared-state design in spec §5).
package prng

import (
	"encoding/binary"

	"github.com/zeebo/xxh3"
)

// Stream is a counter-based PRNG: each call hashes (seed, counter) with
// xxh3, a distinct hash family from pkg/cookie's xxhash so the two
// encodings never accidentally correlate.
type Stream struct {
	seed    uint64
	counter uint64
}

// NewStream seeds a stream. Callers typically seed from a
// high-resolution clock reading plus the process ID at startup.
func NewStream(seed uint64) *Stream {
	return &Stream{seed: seed}
}

// Uint64 returns the next pseudo-random value in the stream.
func (s *Stream) Uint64() uint64 {
	s.counter++
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], s.seed)
	binary.LittleEndian.PutUint64(buf[8:16], s.counter)
	return xxh3.Hash(buf[:])
}

// Uint32 returns the low 32 bits of the next value.
func (s *Stream) Uint32() uint32 { return uint32(s.Uint64()) }

// IntnExclusive returns a value in [0, n) for n>0.
func (s *Stream) IntnExclusive(n int) int {
	if n <= 0 {
		return 0
	}
	return int(s.Uint64() % uint64(n))
}

// Shuffle performs a Fisher-Yates shuffle of n elements in place using
// swap(i, j).
func (s *Stream) Shuffle(n int, swap func(i, j int)) {
	for i := n - 1; i > 0; i-- {
		j := s.IntnExclusive(i + 1)
		swap(i, j)
	}
}
