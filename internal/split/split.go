// Package split partitions lexicon rows into train and test sets so that no
// word contributes rows to both.
package split

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"etymdef/internal/domain"
)

var (
	// ErrInvalidFraction is returned for fractions outside [0, 1].
	ErrInvalidFraction = errors.New("split: fraction must be within [0, 1]")
	// ErrNoRows is returned when there are no candidate rows to split.
	ErrNoRows = errors.New("split: no candidate rows")
)

// Split holds row indices of the train and test partitions.
type Split struct {
	Train *roaring.Bitmap
	Test  *roaring.Bitmap
	// TrainWords and TestWords count distinct words per side.
	TrainWords int
	TestWords  int
}

// TrainIndices returns the train rows in ascending order.
func (s *Split) TrainIndices() []int { return toInts(s.Train) }

// TestIndices returns the test rows in ascending order.
func (s *Split) TestIndices() []int { return toInts(s.Test) }

// Leaks returns the words that occur on both sides, sorted. It is empty for
// any split produced by ByWord.
func (s *Split) Leaks(rows []domain.LexiconRow) []string {
	train := make(map[string]struct{})
	it := s.Train.Iterator()
	for it.HasNext() {
		train[rows[it.Next()].Word] = struct{}{}
	}
	seen := make(map[string]struct{})
	var leaks []string
	it = s.Test.Iterator()
	for it.HasNext() {
		w := rows[it.Next()].Word
		if _, ok := train[w]; !ok {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		leaks = append(leaks, w)
	}
	sort.Strings(leaks)
	return leaks
}

// Downsample keeps floor(fraction*n) of the row indices [0, n), picked by a
// seeded shuffle and returned in ascending order.
func Downsample(n int, fraction float64, seed int64) ([]int, error) {
	if err := checkFraction(fraction); err != nil {
		return nil, err
	}
	keep := int(math.Floor(fraction * float64(n)))
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	out := perm[:keep]
	sort.Ints(out)
	return out, nil
}

// ByWord assigns whole words to train or test. Distinct words among
// candidates are collected in first-seen order, shuffled with seed, and the
// first floor(trainFraction*words) of them go to train. Every candidate row
// follows its word.
func ByWord(rows []domain.LexiconRow, candidates []int, trainFraction float64, seed int64) (*Split, error) {
	if err := checkFraction(trainFraction); err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, ErrNoRows
	}

	var words []string
	rowsOf := make(map[string][]uint32)
	for _, idx := range candidates {
		if idx < 0 || idx >= len(rows) {
			return nil, fmt.Errorf("split: candidate row %d out of range [0,%d)", idx, len(rows))
		}
		w := rows[idx].Word
		if _, ok := rowsOf[w]; !ok {
			words = append(words, w)
		}
		rowsOf[w] = append(rowsOf[w], uint32(idx))
	}

	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(words), func(i, j int) { words[i], words[j] = words[j], words[i] })
	nTrain := int(math.Floor(trainFraction * float64(len(words))))

	s := &Split{
		Train:      roaring.New(),
		Test:       roaring.New(),
		TrainWords: nTrain,
		TestWords:  len(words) - nTrain,
	}
	for i, w := range words {
		if i < nTrain {
			s.Train.AddMany(rowsOf[w])
		} else {
			s.Test.AddMany(rowsOf[w])
		}
	}
	return s, nil
}

func checkFraction(f float64) error {
	if math.IsNaN(f) || f < 0 || f > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidFraction, f)
	}
	return nil
}

func toInts(b *roaring.Bitmap) []int {
	out := make([]int, 0, b.GetCardinality())
	it := b.Iterator()
	for it.HasNext() {
		out = append(out, int(it.Next()))
	}
	return out
}
