package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strings"

	"etymdef/internal/domain"
	"etymdef/internal/embedcache"
	"etymdef/internal/lexicon"
	"etymdef/internal/matrix"
	"etymdef/internal/regress"
	"etymdef/internal/retrieval"
	"etymdef/internal/split"
)

// ErrNotReady is returned by queries before Run has completed.
var ErrNotReady = errors.New("pipeline has not run")

// Options configures a Pipeline.
type Options struct {
	BatchSize   int
	Compression matrix.Compression

	SampleFraction float64
	TrainFraction  float64
	SplitSeed      int64

	Trainer regress.Config

	K            int
	Sample       int
	MaxSentences int
	ReportSeed   int64
}

// Neighbor is a retrieved lexicon row.
type Neighbor struct {
	Row        int
	Word       string
	Definition string
	Similarity float64
}

// Entry is one word of the report.
type Entry struct {
	Row        int
	Word       string
	Etymology  string
	Definition string
	// HasReference is false for ad-hoc words without a lexicon definition.
	HasReference bool
	// HeldOutSimilarity is cos(predicted, true definition embedding).
	HeldOutSimilarity float64
	Neighbors         []Neighbor
	Gloss             string
}

// Report summarizes one pipeline run.
type Report struct {
	RunID       string
	Loaded      bool
	Encoder     string
	Rows        int
	TrainRows   int
	TestRows    int
	TrainWords  int
	TestWords   int
	Evaluation  regress.Evaluation
	Entries     []Entry
	EmbeddedDim int
}

// Pipeline runs embedding, splitting, training and retrieval over a lexicon.
type Pipeline struct {
	encoder    domain.Encoder
	store      domain.ArtifactStore
	summarizer domain.Summarizer
	opts       Options
	logger     *slog.Logger

	// OnProgress, when set, is passed to the trainer.
	OnProgress func(regress.Progress)

	rows    []domain.LexiconRow
	words   *matrix.Matrix
	defs    *matrix.Matrix
	index   *retrieval.Index
	split   *split.Split
	trainer *regress.Trainer
	// heldOut maps a lowercased test-split word to its first row; known
	// does the same over every row.
	heldOut map[string]int
	known   map[string]int
}

// NewPipeline wires a pipeline from its collaborators.
func NewPipeline(encoder domain.Encoder, store domain.ArtifactStore, summarizer domain.Summarizer, opts Options, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.K <= 0 {
		opts.K = 5
	}
	return &Pipeline{encoder: encoder, store: store, summarizer: summarizer, opts: opts, logger: logger}
}

// Run embeds the lexicon (or loads cached embeddings), splits it by word,
// trains or loads the regressor and reports on a sample of held-out words.
func (p *Pipeline) Run(ctx context.Context, rows []domain.LexiconRow) (*Report, error) {
	cache := embedcache.New(p.encoder, p.store,
		embedcache.WithBatchSize(p.opts.BatchSize),
		embedcache.WithCompression(p.opts.Compression),
		embedcache.WithLogger(p.logger),
	)
	words, defs, err := cache.EnsureAll(ctx, rows)
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}

	candidates, err := split.Downsample(len(rows), p.opts.SampleFraction, p.opts.SplitSeed)
	if err != nil {
		return nil, fmt.Errorf("split: %w", err)
	}
	sp, err := split.ByWord(rows, candidates, p.opts.TrainFraction, p.opts.SplitSeed)
	if err != nil {
		return nil, fmt.Errorf("split: %w", err)
	}
	if leaks := sp.Leaks(rows); len(leaks) > 0 {
		return nil, fmt.Errorf("split: words on both sides: %s", strings.Join(leaks, ", "))
	}
	trainIdx, testIdx := sp.TrainIndices(), sp.TestIndices()
	if len(trainIdx) == 0 || len(testIdx) == 0 {
		return nil, fmt.Errorf("split: %d train rows and %d test rows, both must be non-empty", len(trainIdx), len(testIdx))
	}
	p.logger.Info("split lexicon",
		"rows", len(rows), "sampled", len(candidates),
		"train_rows", len(trainIdx), "test_rows", len(testIdx),
		"train_words", sp.TrainWords, "test_words", sp.TestWords,
	)

	trainX, trainY, err := gather(words, defs, trainIdx)
	if err != nil {
		return nil, err
	}
	testX, testY, err := gather(words, defs, testIdx)
	if err != nil {
		return nil, err
	}

	trainer := regress.NewTrainer(p.opts.Trainer, p.store, regress.WithLogger(p.logger))
	trainer.OnProgress = p.OnProgress
	res, err := trainer.Run(ctx, trainX, trainY, testX, testY)
	if err != nil {
		return nil, rowError(err, trainIdx, testIdx)
	}

	p.rows = rows
	p.words, p.defs = words, defs
	p.index = retrieval.NewIndex(defs)
	p.split = sp
	p.trainer = trainer
	p.known = make(map[string]int, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		p.known[strings.ToLower(rows[i].Word)] = i
	}
	p.heldOut = make(map[string]int, len(testIdx))
	for _, i := range testIdx {
		w := strings.ToLower(rows[i].Word)
		if _, ok := p.heldOut[w]; !ok {
			p.heldOut[w] = i
		}
	}

	entries, err := p.Report(ctx, p.opts.Sample)
	if err != nil {
		return nil, err
	}
	return &Report{
		RunID:       res.RunID,
		Loaded:      res.Loaded,
		Encoder:     p.encoder.Name(),
		Rows:        len(rows),
		TrainRows:   len(trainIdx),
		TestRows:    len(testIdx),
		TrainWords:  sp.TrainWords,
		TestWords:   sp.TestWords,
		Evaluation:  res.Evaluation,
		Entries:     entries,
		EmbeddedDim: words.Dim(),
	}, nil
}

// rowError rewrites a per-example training or evaluation failure to name the
// lexicon row the example was gathered from.
func rowError(err error, trainIdx, testIdx []int) error {
	var exErr *regress.ExampleError
	if !errors.As(err, &exErr) {
		return err
	}
	idx := trainIdx
	if exErr.Stage == "evaluate" {
		idx = testIdx
	}
	if exErr.Index < 0 || exErr.Index >= len(idx) {
		return err
	}
	return fmt.Errorf("lexicon row %d: %w", idx[exErr.Index], err)
}

func gather(words, defs *matrix.Matrix, idx []int) (*matrix.Matrix, *matrix.Matrix, error) {
	x, err := words.Gather(idx)
	if err != nil {
		return nil, nil, err
	}
	y, err := defs.Gather(idx)
	if err != nil {
		return nil, nil, err
	}
	return x, y, nil
}

// Report predicts definitions for up to sample held-out words, using the
// first row of each word, and ranks them by held-out similarity.
func (p *Pipeline) Report(ctx context.Context, sample int) ([]Entry, error) {
	if p.trainer == nil {
		return nil, ErrNotReady
	}
	var firstRows []int
	seen := map[string]struct{}{}
	for _, i := range p.split.TestIndices() {
		w := p.rows[i].Word
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		firstRows = append(firstRows, i)
	}
	rng := rand.New(rand.NewSource(p.opts.ReportSeed))
	rng.Shuffle(len(firstRows), func(i, j int) { firstRows[i], firstRows[j] = firstRows[j], firstRows[i] })
	if sample > 0 && sample < len(firstRows) {
		firstRows = firstRows[:sample]
	}

	entries := make([]Entry, 0, len(firstRows))
	for _, row := range firstRows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e, err := p.entry(row, p.words.Row(row), p.opts.K)
		if err != nil {
			return nil, fmt.Errorf("report: row %d: %w", row, err)
		}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].HeldOutSimilarity > entries[j].HeldOutSimilarity
	})
	return entries, nil
}

// Query predicts a definition embedding for an arbitrary word and etymology
// and returns the k nearest lexicon definitions. An empty etymology is
// filled from the word's first lexicon row. Only held-out words carry a
// reference definition; for them it is the first test-split row.
func (p *Pipeline) Query(ctx context.Context, word, etymology string, k int) (*Entry, error) {
	if p.trainer == nil {
		return nil, ErrNotReady
	}
	if k <= 0 {
		k = p.opts.K
	}
	row := domain.LexiconRow{Word: strings.TrimSpace(word), Etymology: strings.TrimSpace(etymology)}
	if row.Word == "" {
		return nil, errors.New("query: empty word")
	}
	key := strings.ToLower(row.Word)
	ref, isHeldOut := p.heldOut[key]
	if !isHeldOut {
		ref = -1
	}
	if row.Etymology == "" {
		if isHeldOut {
			row.Etymology = p.rows[ref].Etymology
		} else if i, ok := p.known[key]; ok {
			row.Etymology = p.rows[i].Etymology
		}
	}

	vecs, err := p.encoder.EncodeBatch(ctx, lexicon.WordEtymologyTexts([]domain.LexiconRow{row}))
	if err != nil {
		return nil, fmt.Errorf("query: encode: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: query: encoder returned %d vectors", domain.ErrShape, len(vecs))
	}

	e, err := p.entry(ref, vecs[0], k)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	e.Word, e.Etymology = row.Word, row.Etymology
	return &e, nil
}

// entry predicts from input and fills an Entry. ref is the lexicon row whose
// definition is the reference, or -1.
func (p *Pipeline) entry(ref int, input []float32, k int) (Entry, error) {
	model := p.trainer.Model()
	x := make([]float64, len(input))
	for i, v := range input {
		x[i] = float64(v)
	}
	pred, err := model.Predict(x)
	if err != nil {
		return Entry{}, err
	}
	query := make([]float32, len(pred))
	for i, v := range pred {
		query[i] = float32(v)
	}

	var e Entry
	if ref >= 0 {
		r := p.rows[ref]
		e = Entry{Row: ref, Word: r.Word, Etymology: r.Etymology, Definition: r.Definition, HasReference: true}
		e.HeldOutSimilarity = retrieval.CosineSimilarity(query, p.defs.Row(ref))
	} else {
		e.Row = -1
	}

	ns, err := p.index.Search(query, k)
	if err != nil {
		return Entry{}, err
	}
	texts := make([]string, len(ns))
	for i, n := range ns {
		e.Neighbors = append(e.Neighbors, Neighbor{
			Row:        n.Index,
			Word:       p.rows[n.Index].Word,
			Definition: p.rows[n.Index].Definition,
			Similarity: n.Similarity,
		})
		texts[i] = p.rows[n.Index].Definition
	}
	if p.summarizer != nil {
		gloss, err := p.summarizer.Summarize(texts, p.opts.MaxSentences)
		if err != nil {
			return Entry{}, fmt.Errorf("gloss: %w", err)
		}
		e.Gloss = gloss
	}
	return e, nil
}
