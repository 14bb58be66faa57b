package regress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"etymdef/internal/domain"
	"etymdef/internal/matrix"
)

// ModelKey is the artifact name of the trained model.
const ModelKey = "regressor.json"

// State is the trainer lifecycle position.
type State int

const (
	StateUninitialized State = iota
	StateBuilt
	StateTraining
	StateTrained
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateBuilt:
		return "built"
	case StateTraining:
		return "training"
	case StateTrained:
		return "trained"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	// ErrNotBuilt is returned when training or evaluating without a model.
	ErrNotBuilt = errors.New("regress: model not built")
	// ErrNoExamples is returned for an empty train or test set.
	ErrNoExamples = errors.New("regress: no examples")
)

// ExampleError reports which example of a train or test matrix failed.
// Index is the row position in the matrix handed to the trainer.
type ExampleError struct {
	Stage string
	Index int
	Err   error
}

func (e *ExampleError) Error() string {
	return fmt.Sprintf("%s example %d: %v", e.Stage, e.Index, e.Err)
}

func (e *ExampleError) Unwrap() error { return e.Err }

// Config holds training hyperparameters.
type Config struct {
	Epochs         int
	HiddenLayers   int
	LearningRate   float64
	LogEvery       int
	CosineGradient bool
	Seed           int64
}

// Progress is reported every LogEvery steps.
type Progress struct {
	Epoch int
	Step  int
	// Loss is the mean loss over the steps since the previous report.
	Loss float64
}

// Evaluation is the mean held-out error of a model.
type Evaluation struct {
	Examples int
	MSE      float64
	Cosine   float64
	Loss     float64
}

// RunResult describes what Run did.
type RunResult struct {
	RunID      string
	Loaded     bool
	Evaluation Evaluation
	Elapsed    time.Duration
}

// Trainer owns one model, its optimizer and its lifecycle.
type Trainer struct {
	cfg    Config
	store  domain.ArtifactStore
	key    string
	logger *slog.Logger

	// OnProgress, when set, receives every progress report.
	OnProgress func(Progress)

	state State
	model *Model
	opt   *Adam
	runID string
}

// Option customizes a Trainer.
type Option func(*Trainer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Trainer) { t.logger = l }
}

// WithKey overrides the artifact name of the model.
func WithKey(key string) Option {
	return func(t *Trainer) { t.key = key }
}

// NewTrainer creates a trainer persisting its model in store.
func NewTrainer(cfg Config, store domain.ArtifactStore, opts ...Option) *Trainer {
	if cfg.Epochs < 1 {
		cfg.Epochs = 1
	}
	if cfg.HiddenLayers < 1 {
		cfg.HiddenLayers = 1
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = 0.001
	}
	if cfg.LogEvery < 1 {
		cfg.LogEvery = 100
	}
	t := &Trainer{cfg: cfg, store: store, key: ModelKey, logger: slog.Default()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// State returns the current lifecycle state.
func (t *Trainer) State() State { return t.state }

// Model returns the current model, nil before Build or Load.
func (t *Trainer) Model() *Model { return t.model }

// RunID identifies the model the trainer holds.
func (t *Trainer) RunID() string { return t.runID }

// Build creates a fresh model and optimizer.
func (t *Trainer) Build(inputDim, outputDim int) error {
	if t.state == StateTraining {
		return errors.New("regress: cannot rebuild while training")
	}
	m, err := NewModel(inputDim, outputDim, t.cfg.HiddenLayers, t.cfg.Seed)
	if err != nil {
		t.state = StateFailed
		return err
	}
	t.model = m
	t.opt = NewAdam(t.cfg.LearningRate)
	t.runID = uuid.NewString()
	t.state = StateBuilt
	t.logger.Info("model built",
		"run_id", t.runID,
		"input_dim", inputDim,
		"output_dim", outputDim,
		"hidden", m.Hidden,
		"hidden_layers", m.HiddenLayers,
		"params", m.NumParams(),
	)
	return nil
}

// Train runs Epochs passes over the examples in row order, updating the
// model after every example. Any failing example aborts training and
// leaves the trainer in StateFailed.
func (t *Trainer) Train(ctx context.Context, x, y *matrix.Matrix) error {
	if t.model == nil {
		return ErrNotBuilt
	}
	if t.state != StateBuilt && t.state != StateTrained {
		return fmt.Errorf("regress: cannot train in state %s", t.state)
	}
	if x.Rows() == 0 {
		return ErrNoExamples
	}
	if x.Rows() != y.Rows() {
		t.state = StateFailed
		return fmt.Errorf("%w: %d inputs but %d targets", domain.ErrShape, x.Rows(), y.Rows())
	}

	t.state = StateTraining
	if err := t.train(ctx, x, y); err != nil {
		t.state = StateFailed
		return err
	}
	t.state = StateTrained
	return nil
}

func (t *Trainer) train(ctx context.Context, x, y *matrix.Matrix) error {
	m := t.model
	tr := m.newTrace()
	grad := make([]float64, m.OutputDim)
	params, grads := m.params(), m.grads()

	step := 0
	var window float64
	var windowSteps int
	start := time.Now()
	for epoch := 1; epoch <= t.cfg.Epochs; epoch++ {
		for i := 0; i < x.Rows(); i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			in, target := x.Float64Row(i), y.Float64Row(i)
			if len(in) != m.InputDim || len(target) != m.OutputDim {
				return &ExampleError{Stage: "train", Index: i, Err: fmt.Errorf("%w: got %d->%d, model is %d->%d",
					domain.ErrShape, len(in), len(target), m.InputDim, m.OutputDim)}
			}
			pred := m.forward(in, tr)
			terms := lossGrad(pred, target, grad, t.cfg.CosineGradient)
			loss := terms.Loss()
			if math.IsNaN(loss) || math.IsInf(loss, 0) {
				return &ExampleError{Stage: "train", Index: i, Err: fmt.Errorf("loss is %v", loss)}
			}
			m.backward(tr, grad)
			t.opt.Step(params, grads)

			step++
			window += loss
			windowSteps++
			if step%t.cfg.LogEvery == 0 {
				p := Progress{Epoch: epoch, Step: step, Loss: window / float64(windowSteps)}
				t.logger.Info("training", "epoch", p.Epoch, "step", p.Step, "loss", p.Loss)
				if t.OnProgress != nil {
					t.OnProgress(p)
				}
				window, windowSteps = 0, 0
			}
		}
	}
	t.logger.Info("training finished", "run_id", t.runID, "steps", step, "elapsed", time.Since(start))
	return nil
}

// Evaluate returns the mean loss terms of the model over the examples.
// It does not change parameters.
func (t *Trainer) Evaluate(x, y *matrix.Matrix) (Evaluation, error) {
	if t.model == nil {
		return Evaluation{}, ErrNotBuilt
	}
	return Evaluate(t.model, x, y)
}

// Evaluate returns the mean loss terms of m over the examples in row order.
func Evaluate(m *Model, x, y *matrix.Matrix) (Evaluation, error) {
	if x.Rows() == 0 {
		return Evaluation{}, ErrNoExamples
	}
	if x.Rows() != y.Rows() {
		return Evaluation{}, fmt.Errorf("%w: %d inputs but %d targets", domain.ErrShape, x.Rows(), y.Rows())
	}
	if y.Dim() != m.OutputDim {
		return Evaluation{}, fmt.Errorf("%w: targets have %d values, model outputs %d", domain.ErrShape, y.Dim(), m.OutputDim)
	}
	tr := m.newTrace()
	grad := make([]float64, m.OutputDim)
	var ev Evaluation
	for i := 0; i < x.Rows(); i++ {
		in := x.Float64Row(i)
		if len(in) != m.InputDim {
			return Evaluation{}, &ExampleError{Stage: "evaluate", Index: i,
				Err: fmt.Errorf("%w: input has %d values, model expects %d", domain.ErrShape, len(in), m.InputDim)}
		}
		terms := lossGrad(m.forward(in, tr), y.Float64Row(i), grad, false)
		ev.MSE += terms.MSE
		ev.Cosine += terms.Cosine
		ev.Loss += terms.Loss()
	}
	n := float64(x.Rows())
	ev.Examples = x.Rows()
	ev.MSE /= n
	ev.Cosine /= n
	ev.Loss /= n
	return ev, nil
}

// Run loads the model artifact when it exists and otherwise builds, trains
// and stores a new one. Either way the model is then evaluated on the test set.
func (t *Trainer) Run(ctx context.Context, trainX, trainY, testX, testY *matrix.Matrix) (RunResult, error) {
	start := time.Now()
	var res RunResult

	ok, err := t.store.Has(ctx, t.key)
	if err != nil {
		return res, fmt.Errorf("regress: check %s: %w", t.key, err)
	}
	if ok {
		if err := t.Load(ctx); err != nil {
			return res, err
		}
		if t.model.InputDim != trainX.Dim() || t.model.OutputDim != trainY.Dim() {
			t.state = StateFailed
			return res, fmt.Errorf("%w: stored model is %d->%d, embeddings are %d->%d (delete %s to retrain)",
				domain.ErrShape, t.model.InputDim, t.model.OutputDim, trainX.Dim(), trainY.Dim(), t.key)
		}
		res.Loaded = true
		t.logger.Info("model loaded", "key", t.key, "run_id", t.runID)
	} else {
		if err := t.Build(trainX.Dim(), trainY.Dim()); err != nil {
			return res, err
		}
		if err := t.Train(ctx, trainX, trainY); err != nil {
			return res, fmt.Errorf("regress: train: %w", err)
		}
		if err := t.Save(ctx); err != nil {
			return res, err
		}
	}

	ev, err := t.Evaluate(testX, testY)
	if err != nil {
		return res, fmt.Errorf("regress: evaluate: %w", err)
	}
	t.logger.Info("held-out evaluation", "examples", ev.Examples, "mse", ev.MSE, "cosine", ev.Cosine, "loss", ev.Loss)

	res.RunID = t.runID
	res.Evaluation = ev
	res.Elapsed = time.Since(start)
	return res, nil
}
