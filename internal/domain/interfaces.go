package domain

import (
	"context"
	"errors"
	"io"
)

// LexiconRow is one (word, etymology, definition) record. Its position in the
// lexicon slice is the row index shared with the embedding matrices.
type LexiconRow struct {
	Word       string `json:"word"`
	Etymology  string `json:"etymology"`
	Definition string `json:"definition"`
}

// Neighbor is a corpus row ranked against a query vector.
type Neighbor struct {
	Index      int
	Similarity float64
}

// ErrArtifactNotFound is returned by ArtifactStore.Load when no artifact exists under the key.
var ErrArtifactNotFound = errors.New("artifact not found")

// ErrShape reports a dimension or row-count mismatch between vectors, matrices or models.
var ErrShape = errors.New("shape mismatch")

// Encoder turns text into fixed-width vectors. EncodeBatch returns exactly one
// vector per input, in input order.
type Encoder interface {
	Name() string
	Dimension() int
	EncodeBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ArtifactStore persists cache and model artifacts. Presence of a key is the
// only staleness signal callers rely on.
type ArtifactStore interface {
	Has(ctx context.Context, key string) (bool, error)
	Load(ctx context.Context, key string) (io.ReadCloser, error)
	Store(ctx context.Context, key string, write func(io.Writer) error) error
}

// Summarizer produces a brief summary of the provided texts.
type Summarizer interface {
	Summarize(texts []string, maxSentences int) (string, error)
}
