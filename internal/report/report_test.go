package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etymdef/internal/regress"
	"etymdef/internal/service"
)

func TestPrinter_Write(t *testing.T) {
	rep := &service.Report{
		RunID:       "run-1",
		Loaded:      true,
		Encoder:     "tfidf",
		Rows:        10,
		TrainRows:   8,
		TestRows:    2,
		TrainWords:  6,
		TestWords:   2,
		EmbeddedDim: 32,
		Evaluation:  regress.Evaluation{Examples: 2, MSE: 0.125, Cosine: 0.5, Loss: 0.625},
		Entries: []service.Entry{{
			Word:              "pyre",
			Etymology:         "Greek pyr",
			Definition:        "A heap of wood for burning.",
			HasReference:      true,
			HeldOutSimilarity: 0.75,
			Gloss:             "A heap of wood.",
			Neighbors: []service.Neighbor{
				{Row: 3, Word: "pyre", Definition: "A heap of wood for burning.", Similarity: 0.9},
			},
		}},
	}

	var buf bytes.Buffer
	p := NewPrinter(&buf)
	require.NoError(t, p.Write(rep))
	out := buf.String()

	assert.Contains(t, out, "run run-1 (loaded)")
	assert.Contains(t, out, "train 8 rows / 6 words")
	assert.Contains(t, out, "mse 0.1250  cosine 0.5000  loss 0.6250")
	assert.Contains(t, out, " 1. pyre")
	assert.Contains(t, out, "similarity 0.7500")
	assert.Contains(t, out, "true:  A heap of wood for burning.")
	assert.Contains(t, out, "gloss: A heap of wood.")
	assert.Contains(t, out, "1. 0.9000  pyre: A heap of wood for burning.")
}

func TestPrinter_EmptyAndAdHoc(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	assert.Contains(t, p.Format(&service.Report{}), "no held-out words")

	out := p.FormatEntry(service.Entry{Word: "hydrophobia", Row: -1})
	assert.NotContains(t, out, "similarity")
	assert.NotContains(t, out, "true:")
}

func TestClip(t *testing.T) {
	p := &Printer{maxLine: 5}
	assert.Equal(t, "a b c", p.clip("a \n b\tc"))
	assert.Equal(t, "abcd…", p.clip("abcdefgh"))
	assert.Equal(t, 5, len([]rune(p.clip(strings.Repeat("x", 20)))))
}
