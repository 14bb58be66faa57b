// Package lexicon loads the (word, etymology, definition) table produced by
// the external dump parser. Row order in the file is the row index.
package lexicon

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"etymdef/internal/domain"
)

// ErrEmpty is returned when a lexicon file holds no rows.
var ErrEmpty = errors.New("lexicon has no rows")

// LoadFile reads a lexicon from a .tsv or .jsonl file, chosen by extension.
func LoadFile(path string) ([]domain.LexiconRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("lexicon: %w", err)
	}
	defer f.Close()

	var rows []domain.LexiconRow
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tsv", ".txt":
		rows, err = ReadTSV(f)
	case ".jsonl", ".ndjson":
		rows, err = ReadJSONL(f)
	default:
		return nil, fmt.Errorf("lexicon: unsupported file type %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("lexicon: %s: %w", path, err)
	}
	return rows, nil
}

// ReadTSV parses "word<TAB>etymology<TAB>definition" lines. A first line of
// "word etymology definition" column names is treated as a header.
func ReadTSV(r io.Reader) ([]domain.LexiconRow, error) {
	var rows []domain.LexiconRow
	sc := newScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) != 3 {
			return nil, fmt.Errorf("line %d: want 3 tab-separated fields, got %d", line, len(fields))
		}
		if line == 1 && strings.EqualFold(fields[0], "word") && strings.EqualFold(fields[2], "definition") {
			continue
		}
		rows = append(rows, domain.LexiconRow{
			Word:       strings.TrimSpace(fields[0]),
			Etymology:  strings.TrimSpace(fields[1]),
			Definition: strings.TrimSpace(fields[2]),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrEmpty
	}
	return rows, nil
}

// ReadJSONL parses one JSON object per line.
func ReadJSONL(r io.Reader) ([]domain.LexiconRow, error) {
	var rows []domain.LexiconRow
	sc := newScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var row domain.LexiconRow
		if err := json.Unmarshal([]byte(text), &row); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrEmpty
	}
	return rows, nil
}

func newScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	return sc
}

// WordEtymologyTexts returns "word etymology" per row.
func WordEtymologyTexts(rows []domain.LexiconRow) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Word + " " + r.Etymology
	}
	return out
}

// DefinitionTexts returns the definition per row.
func DefinitionTexts(rows []domain.LexiconRow) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Definition
	}
	return out
}
