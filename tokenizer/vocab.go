// Package tokenizer - Caption tokenization into fixed-length id sequences.
package tokenizer

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Special tokens of a BERT-style vocabulary.
const (
	ClsToken = "[CLS]"
	SepToken = "[SEP]"
	UnkToken = "[UNK]"
	PadToken = "[PAD]"
)

// Vocab maps sub-word tokens to integer ids.
type Vocab struct {
	ids    map[string]int64
	tokens []string
}

// NewVocab builds a vocabulary where each token's id is its position.
// Duplicate tokens keep their first id.
func NewVocab(tokens []string) *Vocab {
	v := &Vocab{ids: make(map[string]int64, len(tokens)), tokens: tokens}
	for i, tok := range tokens {
		if _, ok := v.ids[tok]; !ok {
			v.ids[tok] = int64(i)
		}
	}
	return v
}

// LoadVocab reads a vocabulary file with one token per line.
//
// Arguments:
//   - path: Path to the vocab file (e.g. bert-base-uncased vocab.txt).
//
// Returns:
//   - *Vocab: The loaded vocabulary.
//   - error: If the file cannot be read, is empty, or lacks [UNK].
func LoadVocab(path string) (*Vocab, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open vocab")
	}
	defer f.Close()

	v, err := ReadVocab(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read vocab %s", path)
	}
	return v, nil
}

// ReadVocab reads one token per line from r.
func ReadVocab(r io.Reader) (*Vocab, error) {
	var tokens []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		tokens = append(tokens, strings.TrimRight(scanner.Text(), "\r\n"))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, errors.New("vocab is empty")
	}

	v := NewVocab(tokens)
	if _, ok := v.ids[UnkToken]; !ok {
		return nil, errors.Errorf("vocab has no %s token", UnkToken)
	}
	return v, nil
}

// ID returns the id of tok and whether it is in the vocabulary.
func (v *Vocab) ID(tok string) (int64, bool) {
	id, ok := v.ids[tok]
	return id, ok
}

// Contains reports whether tok is in the vocabulary.
func (v *Vocab) Contains(tok string) bool {
	_, ok := v.ids[tok]
	return ok
}

// UnknownID is the id of [UNK].
func (v *Vocab) UnknownID() int64 {
	return v.ids[UnkToken]
}

// Size is the number of entries.
func (v *Vocab) Size() int {
	return len(v.tokens)
}

// Token returns the token with the given id, or [UNK] when out of range.
func (v *Vocab) Token(id int64) string {
	if id < 0 || int(id) >= len(v.tokens) {
		return UnkToken
	}
	return v.tokens[id]
}
