package gloss

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etymdef/internal/domain"
)

var _ domain.Summarizer = (*FrequencySummarizer)(nil)

func TestSummarize_PicksMostRepresentative(t *testing.T) {
	s := NewFrequencySummarizer()
	texts := []string{"Flowing water.", "A stream of flowing water.", "A rock."}

	got, err := s.Summarize(texts, 1)
	require.NoError(t, err)
	assert.Equal(t, "A stream of flowing water.", got)

	got, err = s.Summarize(texts, 2)
	require.NoError(t, err)
	assert.Equal(t, "Flowing water. A stream of flowing water.", got)
}

func TestSummarize_Edges(t *testing.T) {
	s := NewFrequencySummarizer()
	tests := []struct {
		name  string
		texts []string
		max   int
		want  string
	}{
		{"Empty", nil, 1, ""},
		{"NoPunctuation", []string{"river bank"}, 1, "river bank"},
		{"Duplicates", []string{"Same.", "Same."}, 3, "Same."},
		{"TrailingFragment", []string{"First part. second"}, 5, "First part. second"},
		{"NonPositiveMax", []string{"Alpha.", "Beta."}, 0, "Alpha."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Summarize(tt.texts, tt.max)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
