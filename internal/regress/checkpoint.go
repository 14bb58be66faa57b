package regress

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"etymdef/internal/domain"
)

type checkpointLayer struct {
	In  int `json:"in"`
	Out int `json:"out"`
	// Weights is the Out×In matrix in row-major order.
	Weights []float64 `json:"weights"`
	Bias    []float64 `json:"bias"`
}

type checkpoint struct {
	RunID        string            `json:"run_id"`
	CreatedAt    time.Time         `json:"created_at"`
	InputDim     int               `json:"input_dim"`
	OutputDim    int               `json:"output_dim"`
	HiddenLayers int               `json:"hidden_layers"`
	Hidden       int               `json:"hidden"`
	Layers       []checkpointLayer `json:"layers"`
}

// Save stores the trained model under the trainer's key.
func (t *Trainer) Save(ctx context.Context) error {
	if t.model == nil {
		return ErrNotBuilt
	}
	if t.state != StateTrained {
		return fmt.Errorf("regress: refusing to save model in state %s", t.state)
	}
	cp := checkpoint{
		RunID:        t.runID,
		CreatedAt:    time.Now().UTC(),
		InputDim:     t.model.InputDim,
		OutputDim:    t.model.OutputDim,
		HiddenLayers: t.model.HiddenLayers,
		Hidden:       t.model.Hidden,
	}
	for _, l := range t.model.Layers {
		cp.Layers = append(cp.Layers, checkpointLayer{
			In:      l.In,
			Out:     l.Out,
			Weights: l.W.RawMatrix().Data,
			Bias:    l.B.RawVector().Data,
		})
	}
	err := t.store.Store(ctx, t.key, func(w io.Writer) error {
		return json.NewEncoder(w).Encode(&cp)
	})
	if err != nil {
		return fmt.Errorf("regress: save %s: %w", t.key, err)
	}
	t.logger.Info("model saved", "key", t.key, "run_id", t.runID)
	return nil
}

// Load replaces the trainer's model with the stored one.
func (t *Trainer) Load(ctx context.Context) error {
	rc, err := t.store.Load(ctx, t.key)
	if err != nil {
		return fmt.Errorf("regress: load %s: %w", t.key, err)
	}
	defer rc.Close()

	var cp checkpoint
	if err := json.NewDecoder(rc).Decode(&cp); err != nil {
		return fmt.Errorf("regress: decode %s: %w", t.key, err)
	}
	m, err := cp.model()
	if err != nil {
		return fmt.Errorf("regress: %s: %w", t.key, err)
	}
	t.model = m
	t.opt = NewAdam(t.cfg.LearningRate)
	t.runID = cp.RunID
	t.state = StateTrained
	return nil
}

func (cp *checkpoint) model() (*Model, error) {
	if len(cp.Layers) != cp.HiddenLayers+1 {
		return nil, fmt.Errorf("%w: %d layers for %d hidden layers", domain.ErrShape, len(cp.Layers), cp.HiddenLayers)
	}
	m := &Model{InputDim: cp.InputDim, OutputDim: cp.OutputDim, HiddenLayers: cp.HiddenLayers, Hidden: cp.Hidden}
	prev := cp.InputDim
	for i, cl := range cp.Layers {
		if cl.In != prev || cl.In < 1 || cl.Out < 1 || len(cl.Weights) != cl.In*cl.Out || len(cl.Bias) != cl.Out {
			return nil, fmt.Errorf("%w: layer %d is malformed", domain.ErrShape, i)
		}
		m.Layers = append(m.Layers, layerFrom(cl.In, cl.Out, cl.Weights, cl.Bias))
		prev = cl.Out
	}
	if prev != cp.OutputDim {
		return nil, fmt.Errorf("%w: last layer outputs %d, want %d", domain.ErrShape, prev, cp.OutputDim)
	}
	return m, nil
}
