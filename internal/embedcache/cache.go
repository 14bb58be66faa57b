// Package embedcache turns lexicon columns into embedding matrices and keeps
// them on disk so later runs skip the encoder.
//
// The cache is path-addressed: if an artifact exists under the column's key
// it is loaded as-is. A changed lexicon is only noticed when its row count
// differs; otherwise delete the artifact to force a rebuild.
package embedcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"etymdef/internal/domain"
	"etymdef/internal/lexicon"
	"etymdef/internal/matrix"
)

// DefaultBatchSize is used when the configured batch size is not positive.
const DefaultBatchSize = 256

// ErrEmptyLexicon is returned when there is nothing to embed.
var ErrEmptyLexicon = errors.New("embedcache: no rows to embed")

// Column selects which text a matrix is built from.
type Column int

const (
	// ColumnWordEtymology embeds "word etymology".
	ColumnWordEtymology Column = iota
	// ColumnDefinition embeds the definition.
	ColumnDefinition
)

// Key returns the artifact name backing the column.
func (c Column) Key() string {
	switch c {
	case ColumnWordEtymology:
		return "words_embed.mat"
	case ColumnDefinition:
		return "def_embed.mat"
	default:
		return fmt.Sprintf("column_%d.mat", int(c))
	}
}

func (c Column) String() string {
	switch c {
	case ColumnWordEtymology:
		return "word+etymology"
	case ColumnDefinition:
		return "definition"
	default:
		return fmt.Sprintf("Column(%d)", int(c))
	}
}

func (c Column) texts(rows []domain.LexiconRow) []string {
	if c == ColumnDefinition {
		return lexicon.DefinitionTexts(rows)
	}
	return lexicon.WordEtymologyTexts(rows)
}

// Cache drives batched encoding and artifact persistence.
type Cache struct {
	encoder     domain.Encoder
	store       domain.ArtifactStore
	batchSize   int
	compression matrix.Compression
	logger      *slog.Logger
}

// Option customizes a Cache.
type Option func(*Cache)

// WithBatchSize sets the number of rows per encoder call.
func WithBatchSize(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithCompression sets the payload compression of stored matrices.
func WithCompression(comp matrix.Compression) Option {
	return func(c *Cache) { c.compression = comp }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// New creates a Cache over the given encoder and store.
func New(encoder domain.Encoder, store domain.ArtifactStore, opts ...Option) *Cache {
	c := &Cache{
		encoder:     encoder,
		store:       store,
		batchSize:   DefaultBatchSize,
		compression: matrix.CompressionZSTD,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EnsureEmbeddings returns the matrix for column, loading it when the
// artifact exists and computing and storing it otherwise.
func (c *Cache) EnsureEmbeddings(ctx context.Context, rows []domain.LexiconRow, column Column) (*matrix.Matrix, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyLexicon
	}
	key := column.Key()
	log := c.logger.With("column", column.String(), "key", key)

	ok, err := c.store.Has(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("embedcache: check %s: %w", key, err)
	}
	if ok {
		m, err := c.load(ctx, key)
		if err != nil {
			return nil, err
		}
		if m.Rows() != len(rows) {
			return nil, fmt.Errorf("%w: embedcache: %s has %d rows, lexicon has %d (delete the artifact to rebuild)", domain.ErrShape, key, m.Rows(), len(rows))
		}
		log.Info("embeddings loaded from cache", "rows", m.Rows(), "dim", m.Dim())
		return m, nil
	}

	log.Info("embeddings not found, generating", "rows", len(rows), "batch_size", c.batchSize)
	start := time.Now()
	m, err := c.Compute(ctx, column.texts(rows))
	if err != nil {
		return nil, err
	}
	err = c.store.Store(ctx, key, func(w io.Writer) error {
		return matrix.Encode(w, m, c.compression)
	})
	if err != nil {
		return nil, fmt.Errorf("embedcache: store %s: %w", key, err)
	}
	log.Info("embeddings stored", "rows", m.Rows(), "dim", m.Dim(), "elapsed", time.Since(start))
	return m, nil
}

// EnsureAll returns the word+etymology and definition matrices.
func (c *Cache) EnsureAll(ctx context.Context, rows []domain.LexiconRow) (words, defs *matrix.Matrix, err error) {
	words, err = c.EnsureEmbeddings(ctx, rows, ColumnWordEtymology)
	if err != nil {
		return nil, nil, err
	}
	defs, err = c.EnsureEmbeddings(ctx, rows, ColumnDefinition)
	if err != nil {
		return nil, nil, err
	}
	return words, defs, nil
}

// Compute encodes texts in consecutive batches of batchSize, the last one
// possibly shorter, and stacks the results in input order.
func (c *Cache) Compute(ctx context.Context, texts []string) (*matrix.Matrix, error) {
	parts := make([]*matrix.Matrix, 0, (len(texts)+c.batchSize-1)/c.batchSize)
	dim := -1
	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := c.encoder.EncodeBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedcache: encode rows [%d,%d): %w", start, end, err)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("%w: embedcache: encode rows [%d,%d): got %d vectors", domain.ErrShape, start, end, len(vecs))
		}
		part, err := matrix.FromRows(vecs)
		if err != nil {
			return nil, fmt.Errorf("embedcache: encode rows [%d,%d): %w", start, end, err)
		}
		if dim >= 0 && part.Dim() != dim {
			return nil, fmt.Errorf("%w: embedcache: rows [%d,%d) have width %d, earlier rows %d", domain.ErrShape, start, end, part.Dim(), dim)
		}
		dim = part.Dim()
		parts = append(parts, part)
		c.logger.Debug("batch encoded", "start", start, "end", end)
	}
	return matrix.Concat(parts...)
}

func (c *Cache) load(ctx context.Context, key string) (*matrix.Matrix, error) {
	rc, err := c.store.Load(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("embedcache: open %s: %w", key, err)
	}
	defer rc.Close()
	m, err := matrix.Decode(rc)
	if err != nil {
		return nil, fmt.Errorf("embedcache: decode %s: %w", key, err)
	}
	return m, nil
}
