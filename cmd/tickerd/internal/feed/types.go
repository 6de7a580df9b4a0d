package feed

import "math/rand"

// for deterministic testing
type Rand interface {
	Intn(n int) int
	Float64() float64
}

type RealRand struct{ *rand.Rand }

func (r RealRand) Intn(n int) int   { return r.Rand.Intn(n) }
func (r RealRand) Float64() float64 { return r.Rand.Float64() }
