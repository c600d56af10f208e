package datagen

import "math/rand/v2"

// Source yields uniform floats in [0, 1).
type Source interface {
	Float64() float64
}

// Walker drives the bounded random walk of each profile.
type Walker struct {
	src Source
}

// NewWalker builds a walker. A zero seed draws from the runtime's random source.
func NewWalker(seed uint64) *Walker {
	if seed == 0 {
		return &Walker{src: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
	}
	return &Walker{src: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// NewWalkerFrom uses an explicit source.
func NewWalkerFrom(src Source) *Walker {
	return &Walker{src: src}
}

// Next perturbs the profile's average by up to 10% of Max either way and settles the result.
func (w *Walker) Next(p *Profile) float64 {
	spread := 0.1 * p.Max
	delta := (w.src.Float64()*2 - 1) * spread
	return p.Settle(p.Average + delta)
}
