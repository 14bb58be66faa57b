package regress

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etymdef/internal/artifact"
	"etymdef/internal/domain"
	"etymdef/internal/logging"
	"etymdef/internal/matrix"
)

func TestHiddenWidth(t *testing.T) {
	tests := []struct {
		in, out, layers, want int
	}{
		{768, 768, 3, 256},
		{4, 9, 2, 3},
		{1, 1, 5, 1},
		{10, 40, 1, 20},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HiddenWidth(tt.in, tt.out, tt.layers), "%+v", tt)
	}
}

func TestNewModel_Shape(t *testing.T) {
	m, err := NewModel(6, 4, 3, 1)
	require.NoError(t, err)
	require.Len(t, m.Layers, 4)
	h := HiddenWidth(6, 4, 3)
	assert.Equal(t, [2]int{6, h}, [2]int{m.Layers[0].In, m.Layers[0].Out})
	assert.Equal(t, [2]int{h, h}, [2]int{m.Layers[1].In, m.Layers[1].Out})
	assert.Equal(t, [2]int{h, 4}, [2]int{m.Layers[3].In, m.Layers[3].Out})

	bound := 1 / math.Sqrt(6)
	r, c := m.Layers[0].W.Dims()
	assert.Equal(t, [2]int{h, 6}, [2]int{r, c})
	for _, w := range m.Layers[0].W.RawMatrix().Data {
		assert.LessOrEqual(t, math.Abs(w), bound)
	}
	assert.Equal(t, h, m.Layers[0].B.Len())

	_, err = NewModel(0, 4, 1, 1)
	assert.ErrorIs(t, err, domain.ErrShape)
}

func TestNewModel_SeedIsDeterministic(t *testing.T) {
	a, err := NewModel(5, 3, 2, 9)
	require.NoError(t, err)
	b, err := NewModel(5, 3, 2, 9)
	require.NoError(t, err)
	assert.Equal(t, a.params(), b.params())
}

func TestPredict_ShapeError(t *testing.T) {
	m, err := NewModel(3, 2, 1, 1)
	require.NoError(t, err)
	_, err = m.Predict([]float64{1, 2})
	assert.ErrorIs(t, err, domain.ErrShape)
	out, err := m.Predict([]float64{1, 2, 3})
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

// TestBackward_MatchesFiniteDifferences checks the analytic gradient of the
// full loss, cosine term included, against central differences.
func TestBackward_MatchesFiniteDifferences(t *testing.T) {
	m, err := NewModel(4, 3, 2, 7)
	require.NoError(t, err)
	x := []float64{0.3, -0.8, 0.5, 0.9}
	y := []float64{0.2, 0.7, -0.4}

	lossAt := func() float64 {
		tr := m.newTrace()
		g := make([]float64, 3)
		return lossGrad(m.forward(x, tr), y, g, true).Loss()
	}

	tr := m.newTrace()
	g := make([]float64, 3)
	lossGrad(m.forward(x, tr), y, g, true)
	m.backward(tr, g)

	const eps = 1e-6
	params, grads := m.params(), m.grads()
	for i, p := range params {
		for j := range p {
			orig := p[j]
			p[j] = orig + eps
			up := lossAt()
			p[j] = orig - eps
			down := lossAt()
			p[j] = orig
			numeric := (up - down) / (2 * eps)
			assert.InDelta(t, numeric, grads[i][j], 1e-5, "param %d/%d", i, j)
		}
	}
}

func TestLossGrad_DetachedCosine(t *testing.T) {
	pred := []float64{1, 0}
	target := []float64{0, 1}
	g := make([]float64, 2)
	terms := lossGrad(pred, target, g, false)
	assert.InDelta(t, 1.0, terms.MSE, 1e-12)
	assert.InDelta(t, 0.0, terms.Cosine, 1e-12)
	assert.InDelta(t, 2.0, terms.Loss(), 1e-12)
	// Only the MSE part: 2*(p-t)/n.
	assert.Equal(t, []float64{1, -1}, g)
}

func TestCosine_ZeroNorm(t *testing.T) {
	assert.Equal(t, 0.0, Cosine([]float64{0, 0}, []float64{1, 2}))
	assert.InDelta(t, 1.0, Cosine([]float64{2, 0}, []float64{5, 0}), 1e-12)
}

func TestAdam_Minimizes(t *testing.T) {
	p := [][]float64{{0}}
	g := [][]float64{{0}}
	opt := NewAdam(0.1)
	for i := 0; i < 500; i++ {
		g[0][0] = 2 * (p[0][0] - 3)
		opt.Step(p, g)
	}
	assert.InDelta(t, 3, p[0][0], 0.05)
	assert.Equal(t, 500, opt.Steps())
	assert.Equal(t, 0.0, g[0][0])
}

// linearData returns y = A·x for random x.
func linearData(n, in, out int, seed int64) (*matrix.Matrix, *matrix.Matrix) {
	rng := rand.New(rand.NewSource(seed))
	a := make([][]float32, out)
	for o := range a {
		a[o] = make([]float32, in)
		for i := range a[o] {
			a[o][i] = float32(rng.Float64()*2 - 1)
		}
	}
	xs := make([][]float32, n)
	ys := make([][]float32, n)
	for r := 0; r < n; r++ {
		x := make([]float32, in)
		for i := range x {
			x[i] = float32(rng.Float64()*2 - 1)
		}
		y := make([]float32, out)
		for o := range y {
			for i := range x {
				y[o] += a[o][i] * x[i]
			}
		}
		xs[r], ys[r] = x, y
	}
	xm, _ := matrix.FromRows(xs)
	ym, _ := matrix.FromRows(ys)
	return xm, ym
}

func newTestTrainer(t *testing.T, store domain.ArtifactStore, epochs int) *Trainer {
	t.Helper()
	return NewTrainer(Config{
		Epochs:       epochs,
		HiddenLayers: 2,
		LearningRate: 0.01,
		LogEvery:     10,
		Seed:         5,
	}, store, WithLogger(logging.Discard()))
}

func TestTrain_LossDecreases(t *testing.T) {
	x, y := linearData(60, 4, 3, 1)
	tr := newTestTrainer(t, artifact.NewLocalStore(t.TempDir()), 30)
	require.NoError(t, tr.Build(4, 3))

	before, err := tr.Evaluate(x, y)
	require.NoError(t, err)
	require.NoError(t, tr.Train(context.Background(), x, y))
	after, err := tr.Evaluate(x, y)
	require.NoError(t, err)

	assert.Less(t, after.MSE, before.MSE)
	assert.Less(t, after.Loss, before.Loss)
	assert.Equal(t, StateTrained, tr.State())
}

func TestTrain_Progress(t *testing.T) {
	x, y := linearData(10, 3, 2, 2)
	tr := NewTrainer(Config{Epochs: 2, HiddenLayers: 1, LogEvery: 5}, artifact.NewLocalStore(t.TempDir()), WithLogger(logging.Discard()))
	var got []Progress
	tr.OnProgress = func(p Progress) { got = append(got, p) }
	require.NoError(t, tr.Build(3, 2))
	require.NoError(t, tr.Train(context.Background(), x, y))

	require.Len(t, got, 4)
	assert.Equal(t, []int{5, 10, 15, 20}, []int{got[0].Step, got[1].Step, got[2].Step, got[3].Step})
	assert.Equal(t, []int{1, 1, 2, 2}, []int{got[0].Epoch, got[1].Epoch, got[2].Epoch, got[3].Epoch})
	for _, p := range got {
		assert.False(t, math.IsNaN(p.Loss))
	}
}

func TestTrainer_StateTransitions(t *testing.T) {
	x, y := linearData(5, 2, 2, 3)
	tr := newTestTrainer(t, artifact.NewLocalStore(t.TempDir()), 1)
	assert.Equal(t, StateUninitialized, tr.State())
	assert.ErrorIs(t, tr.Train(context.Background(), x, y), ErrNotBuilt)

	require.NoError(t, tr.Build(2, 2))
	assert.Equal(t, StateBuilt, tr.State())
	assert.NotEmpty(t, tr.RunID())

	require.NoError(t, tr.Train(context.Background(), x, y))
	assert.Equal(t, StateTrained, tr.State())
	assert.Equal(t, "trained", tr.State().String())
}

func TestTrain_ShapeErrorFails(t *testing.T) {
	x, y := linearData(5, 4, 2, 3)
	tr := newTestTrainer(t, artifact.NewLocalStore(t.TempDir()), 1)
	require.NoError(t, tr.Build(3, 2))

	err := tr.Train(context.Background(), x, y)
	assert.ErrorIs(t, err, domain.ErrShape)
	var exErr *ExampleError
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, "train", exErr.Stage)
	assert.Equal(t, 0, exErr.Index)
	assert.Equal(t, StateFailed, tr.State())
}

func TestRun_NaNAbortsWithoutArtifact(t *testing.T) {
	x, y := linearData(8, 3, 2, 4)
	x.Row(3)[1] = float32(math.NaN())
	store := artifact.NewLocalStore(t.TempDir())
	tr := newTestTrainer(t, store, 1)

	_, err := tr.Run(context.Background(), x, y, x, y)
	var exErr *ExampleError
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, "train", exErr.Stage)
	assert.Equal(t, 3, exErr.Index)
	assert.Equal(t, StateFailed, tr.State())

	ok, err := store.Has(context.Background(), ModelKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRun_ReloadGivesIdenticalHeldOutLoss(t *testing.T) {
	trainX, trainY := linearData(40, 4, 3, 10)
	testX, testY := linearData(12, 4, 3, 11)
	store := artifact.NewLocalStore(t.TempDir())

	first := newTestTrainer(t, store, 3)
	res1, err := first.Run(context.Background(), trainX, trainY, testX, testY)
	require.NoError(t, err)
	assert.False(t, res1.Loaded)

	second := newTestTrainer(t, store, 3)
	var progressed bool
	second.OnProgress = func(Progress) { progressed = true }
	res2, err := second.Run(context.Background(), trainX, trainY, testX, testY)
	require.NoError(t, err)
	assert.True(t, res2.Loaded)
	assert.False(t, progressed, "reload must not train")
	assert.Equal(t, res1.RunID, res2.RunID)
	assert.Equal(t, res1.Evaluation, res2.Evaluation)
}

func TestRun_StoredModelShapeMismatch(t *testing.T) {
	trainX, trainY := linearData(10, 4, 3, 10)
	store := artifact.NewLocalStore(t.TempDir())
	_, err := newTestTrainer(t, store, 1).Run(context.Background(), trainX, trainY, trainX, trainY)
	require.NoError(t, err)

	otherX, otherY := linearData(10, 5, 3, 10)
	_, err = newTestTrainer(t, store, 1).Run(context.Background(), otherX, otherY, otherX, otherY)
	assert.ErrorIs(t, err, domain.ErrShape)
}

func TestEvaluate_Errors(t *testing.T) {
	tr := newTestTrainer(t, artifact.NewLocalStore(t.TempDir()), 1)
	x, y := linearData(3, 2, 2, 1)
	_, err := tr.Evaluate(x, y)
	assert.ErrorIs(t, err, ErrNotBuilt)

	require.NoError(t, tr.Build(2, 2))
	_, err = tr.Evaluate(matrix.New(0, 2), matrix.New(0, 2))
	assert.ErrorIs(t, err, ErrNoExamples)
}

func TestEvaluate_InputShapeNamesExample(t *testing.T) {
	m, err := NewModel(3, 2, 1, 1)
	require.NoError(t, err)
	x, y := linearData(4, 2, 2, 6)

	_, err = Evaluate(m, x, y)
	assert.ErrorIs(t, err, domain.ErrShape)
	var exErr *ExampleError
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, "evaluate", exErr.Stage)
	assert.Equal(t, 0, exErr.Index)
}

func TestCheckpoint_RejectsTruncatedWeights(t *testing.T) {
	ctx := context.Background()
	x, y := linearData(6, 3, 2, 8)
	store := artifact.NewLocalStore(t.TempDir())
	_, err := newTestTrainer(t, store, 1).Run(ctx, x, y, x, y)
	require.NoError(t, err)

	rc, err := store.Load(ctx, ModelKey)
	require.NoError(t, err)
	var cp map[string]any
	require.NoError(t, json.NewDecoder(rc).Decode(&cp))
	require.NoError(t, rc.Close())
	first := cp["layers"].([]any)[0].(map[string]any)
	w := first["weights"].([]any)
	first["weights"] = w[:len(w)-1]
	require.NoError(t, store.Store(ctx, ModelKey, func(out io.Writer) error {
		return json.NewEncoder(out).Encode(cp)
	}))

	err = newTestTrainer(t, store, 1).Load(ctx)
	assert.ErrorIs(t, err, domain.ErrShape)
}
