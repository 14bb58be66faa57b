// Package gloss condenses the definitions of a word's nearest neighbours into
// a short predicted gloss.
package gloss

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

var (
	tokenPattern    = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentencePattern = regexp.MustCompile(`(?U)([^.!?;]+[.!?;])`)
)

// FrequencySummarizer ranks sentences by how common their words are across
// all input texts, stopwords excluded.
type FrequencySummarizer struct {
	stopwords map[string]struct{}
}

// NewFrequencySummarizer creates a frequency-based sentence ranker.
func NewFrequencySummarizer() *FrequencySummarizer {
	return &FrequencySummarizer{stopwords: defaultStopwords()}
}

// Summarize picks the maxSentences best sentences from texts and joins them
// in input order. A text without sentence punctuation counts as one sentence.
func (s *FrequencySummarizer) Summarize(texts []string, maxSentences int) (string, error) {
	if maxSentences <= 0 {
		maxSentences = 1
	}
	sentences := s.sentences(texts)
	if len(sentences) == 0 {
		return "", nil
	}

	freq := map[string]float64{}
	for _, sent := range sentences {
		for _, tok := range s.contentTokens(sent) {
			freq[tok]++
		}
	}
	maxF := 0.0
	for _, v := range freq {
		maxF = math.Max(maxF, v)
	}

	type scored struct {
		idx   int
		score float64
	}
	scores := make([]scored, len(sentences))
	for i, sent := range sentences {
		toks := s.contentTokens(sent)
		var sc float64
		for _, tok := range toks {
			sc += freq[tok] / maxF
		}
		// Normalize by sentence length to avoid favouring long sentences.
		if len(toks) > 0 {
			sc /= math.Sqrt(float64(len(toks)))
		}
		scores[i] = scored{i, sc}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	if maxSentences > len(scores) {
		maxSentences = len(scores)
	}

	selected := make([]int, maxSentences)
	for i := range selected {
		selected[i] = scores[i].idx
	}
	sort.Ints(selected)
	out := make([]string, len(selected))
	for i, idx := range selected {
		out[i] = sentences[idx]
	}
	return strings.Join(out, " "), nil
}

// sentences splits every text and drops exact repeats.
func (s *FrequencySummarizer) sentences(texts []string) []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(sent string) {
		sent = strings.TrimSpace(sent)
		if sent == "" {
			return
		}
		if _, dup := seen[sent]; dup {
			return
		}
		seen[sent] = struct{}{}
		out = append(out, sent)
	}
	for _, text := range texts {
		parts := sentencePattern.FindAllString(text, -1)
		if len(parts) == 0 {
			add(text)
			continue
		}
		rest := text
		for _, p := range parts {
			add(p)
			rest = strings.Replace(rest, p, "", 1)
		}
		// Trailing fragment without punctuation.
		add(rest)
	}
	return out
}

func (s *FrequencySummarizer) contentTokens(text string) []string {
	var out []string
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		if _, stop := s.stopwords[tok]; stop {
			continue
		}
		out = append(out, tok)
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
		"one", "any", "some", "which", "who", "whom", "its", "having", "has", "have", "not", "especially", "used", "also",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
