package loadgen

import (
	"math/rand/v2"
	"time"
)

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// RandomSource yields uniform floats in [0, 1).
type RandomSource interface {
	Float64() float64
}

// StringGenerator yields random alphanumeric strings of length n.
type StringGenerator interface {
	String(n int) string
}

// Rand is a seedable RandomSource and StringGenerator.
//
// Rand is not safe for concurrent use; every worker gets its own.
type Rand struct {
	r *rand.Rand
}

// NewRand returns a deterministic generator for the given seed.
func NewRand(seed uint64) *Rand {
	return &Rand{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Float64 returns a uniform float in [0, 1).
func (g *Rand) Float64() float64 {
	return g.r.Float64()
}

// String returns n characters drawn from [A-Za-z0-9].
func (g *Rand) String(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = alphanumeric[g.r.IntN(len(alphanumeric))]
	}
	return string(b)
}

// WorkerSeed derives a per-worker seed from the run seed so workers never
// share a generator.
func WorkerSeed(runSeed int64, workerID int) uint64 {
	return uint64(runSeed)*1_000_003 + uint64(workerID)
}

// RunSeed returns seed, or a time-based seed when seed is zero.
func RunSeed(seed int64) int64 {
	if seed != 0 {
		return seed
	}
	return time.Now().UnixNano()
}
