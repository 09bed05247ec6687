package scenario

import (
	"encoding/binary"
	"math/rand/v2"

	"github.com/cespare/xxhash/v2"
)

// Seed hashes parts into a stable 64-bit seed, so (wave, index) style keys
// give the same plan on every run and platform.
func Seed(parts ...uint64) uint64 {
	d := xxhash.New()
	var buf [8]byte
	for _, p := range parts {
		binary.LittleEndian.PutUint64(buf[:], p)
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}

// Rand returns a generator seeded from parts.
func Rand(parts ...uint64) *rand.Rand {
	hi := Seed(parts...)
	return rand.New(rand.NewPCG(hi, xxhash.Sum64String("scenario")^hi))
}
