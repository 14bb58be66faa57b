// Package regress learns a mapping from word+etymology embeddings to
// definition embeddings with a small stack of dense layers.
package regress

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"etymdef/internal/domain"
)

// Layer is a dense layer y = W·x + b with W of shape Out×In.
type Layer struct {
	In  int
	Out int
	W   *mat.Dense
	B   *mat.VecDense

	gradW *mat.Dense
	gradB *mat.VecDense
}

func newLayer(in, out int, rng *rand.Rand) *Layer {
	bound := 1 / math.Sqrt(float64(in))
	uniform := func(n int) []float64 {
		v := make([]float64, n)
		for i := range v {
			v[i] = (rng.Float64()*2 - 1) * bound
		}
		return v
	}
	w := uniform(in * out)
	b := uniform(out)
	return layerFrom(in, out, w, b)
}

// layerFrom wraps row-major weights and a bias without copying.
func layerFrom(in, out int, weights, bias []float64) *Layer {
	return &Layer{
		In:    in,
		Out:   out,
		W:     mat.NewDense(out, in, weights),
		B:     mat.NewVecDense(out, bias),
		gradW: mat.NewDense(out, in, nil),
		gradB: mat.NewVecDense(out, nil),
	}
}

// Model is Linear+ReLU blocks followed by a final Linear layer.
type Model struct {
	InputDim     int
	OutputDim    int
	HiddenLayers int
	Hidden       int
	Layers       []*Layer
}

// HiddenWidth returns round(sqrt(in*out)/hiddenLayers), at least 1.
func HiddenWidth(in, out, hiddenLayers int) int {
	if hiddenLayers < 1 {
		hiddenLayers = 1
	}
	h := int(math.Round(math.Sqrt(float64(in)*float64(out)) / float64(hiddenLayers)))
	if h < 1 {
		h = 1
	}
	return h
}

// NewModel builds a model with hiddenLayers hidden blocks. Weights and biases
// are drawn from U(-1/sqrt(fan_in), 1/sqrt(fan_in)) using seed.
func NewModel(in, out, hiddenLayers int, seed int64) (*Model, error) {
	if in < 1 || out < 1 {
		return nil, fmt.Errorf("%w: model dimensions %dx%d", domain.ErrShape, in, out)
	}
	if hiddenLayers < 1 {
		return nil, fmt.Errorf("regress: hidden layers must be >= 1, got %d", hiddenLayers)
	}
	h := HiddenWidth(in, out, hiddenLayers)
	rng := rand.New(rand.NewSource(seed))

	m := &Model{InputDim: in, OutputDim: out, HiddenLayers: hiddenLayers, Hidden: h}
	m.Layers = append(m.Layers, newLayer(in, h, rng))
	for i := 1; i < hiddenLayers; i++ {
		m.Layers = append(m.Layers, newLayer(h, h, rng))
	}
	m.Layers = append(m.Layers, newLayer(h, out, rng))
	return m, nil
}

// NumParams returns the number of trainable values.
func (m *Model) NumParams() int {
	n := 0
	for _, l := range m.Layers {
		n += l.In*l.Out + l.Out
	}
	return n
}

// Predict runs inference on one input vector.
func (m *Model) Predict(x []float64) ([]float64, error) {
	if len(x) != m.InputDim {
		return nil, fmt.Errorf("%w: input has %d values, model expects %d", domain.ErrShape, len(x), m.InputDim)
	}
	out := m.forward(x, m.newTrace())
	return append([]float64(nil), out...), nil
}

// trace keeps the per-layer values a backward pass needs. acts[l] is the
// input of layer l; pre[l] is its output before the activation.
type trace struct {
	acts []*mat.VecDense
	pre  []*mat.VecDense
}

func (m *Model) newTrace() *trace {
	tr := &trace{
		acts: make([]*mat.VecDense, len(m.Layers)+1),
		pre:  make([]*mat.VecDense, len(m.Layers)),
	}
	for i, l := range m.Layers {
		tr.pre[i] = mat.NewVecDense(l.Out, nil)
		tr.acts[i+1] = mat.NewVecDense(l.Out, nil)
	}
	return tr
}

// forward returns the output values; the slice is owned by tr.
func (m *Model) forward(x []float64, tr *trace) []float64 {
	tr.acts[0] = mat.NewVecDense(len(x), x)
	last := len(m.Layers) - 1
	for i, l := range m.Layers {
		pre := tr.pre[i]
		pre.MulVec(l.W, tr.acts[i])
		pre.AddVec(pre, l.B)
		out := tr.acts[i+1]
		if i == last {
			out.CopyVec(pre)
			continue
		}
		relu(out.RawVector().Data, pre.RawVector().Data)
	}
	return tr.acts[len(m.Layers)].RawVector().Data
}

func relu(dst, src []float64) {
	for j, v := range src {
		dst[j] = math.Max(0, v)
	}
}

// backward accumulates parameter gradients for the pass in tr given the
// gradient of the loss with respect to the model output.
func (m *Model) backward(tr *trace, gradOut []float64) {
	delta := mat.NewVecDense(len(gradOut), append([]float64(nil), gradOut...))
	for i := len(m.Layers) - 1; i >= 0; i-- {
		l := m.Layers[i]
		if i < len(m.Layers)-1 {
			d := delta.RawVector().Data
			for j, z := range tr.pre[i].RawVector().Data {
				if z <= 0 {
					d[j] = 0
				}
			}
		}
		l.gradW.RankOne(l.gradW, 1, delta, tr.acts[i])
		l.gradB.AddVec(l.gradB, delta)
		if i == 0 {
			break
		}
		prev := mat.NewVecDense(l.In, nil)
		prev.MulVec(l.W.T(), delta)
		delta = prev
	}
}

// params and grads list the backing slices of every parameter in the same
// order for the optimizer.
func (m *Model) params() [][]float64 {
	var p [][]float64
	for _, l := range m.Layers {
		p = append(p, l.W.RawMatrix().Data, l.B.RawVector().Data)
	}
	return p
}

func (m *Model) grads() [][]float64 {
	var g [][]float64
	for _, l := range m.Layers {
		g = append(g, l.gradW.RawMatrix().Data, l.gradB.RawVector().Data)
	}
	return g
}
