package regress

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Adam is the Adam optimizer with bias-corrected moment estimates.
type Adam struct {
	LR    float64
	Beta1 float64
	Beta2 float64
	Eps   float64

	m  [][]float64
	v  [][]float64
	sq [][]float64
	t  int
}

// NewAdam returns an optimizer with the usual betas and epsilon.
func NewAdam(lr float64) *Adam {
	return &Adam{LR: lr, Beta1: 0.9, Beta2: 0.999, Eps: 1e-8}
}

func (a *Adam) ensure(params [][]float64) {
	if a.m != nil {
		return
	}
	a.m = make([][]float64, len(params))
	a.v = make([][]float64, len(params))
	a.sq = make([][]float64, len(params))
	for i, p := range params {
		a.m[i] = make([]float64, len(p))
		a.v[i] = make([]float64, len(p))
		a.sq[i] = make([]float64, len(p))
	}
}

// Step applies one update to params and zeroes grads.
func (a *Adam) Step(params, grads [][]float64) {
	a.ensure(params)
	a.t++
	b1, b2 := a.Beta1, a.Beta2
	b1Corr := 1 - math.Pow(b1, float64(a.t))
	b2Corr := 1 - math.Pow(b2, float64(a.t))

	for i, p := range params {
		mi, vi, sq, gi := a.m[i], a.v[i], a.sq[i], grads[i]
		// m = b1*m + (1-b1)*g, v = b2*v + (1-b2)*g²
		floats.Scale(b1, mi)
		floats.AddScaled(mi, 1-b1, gi)
		floats.MulTo(sq, gi, gi)
		floats.Scale(b2, vi)
		floats.AddScaled(vi, 1-b2, sq)
		for j := range p {
			mhat := mi[j] / b1Corr
			vhat := vi[j] / b2Corr
			p[j] -= a.LR * mhat / (math.Sqrt(vhat) + a.Eps)
		}
		clear(gi)
	}
}

// Steps returns how many updates have been applied.
func (a *Adam) Steps() int { return a.t }
