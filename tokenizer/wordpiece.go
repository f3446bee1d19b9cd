package tokenizer

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Tokenizer splits a caption into sub-word tokens.
type Tokenizer interface {
	Tokenize(text string) []string
}

// DefaultMaxCharsPerWord mirrors BERT: longer words become [UNK].
const DefaultMaxCharsPerWord = 100

// WordPiece is a BERT-style tokenizer: basic cleanup and punctuation
// splitting followed by greedy longest-match sub-word lookup.
type WordPiece struct {
	vocab           *Vocab
	lowercase       bool
	maxCharsPerWord int
}

// NewWordPiece creates a WordPiece tokenizer over vocab. With lowercase set,
// text is lowercased and accents are stripped, as with uncased BERT models.
func NewWordPiece(vocab *Vocab, lowercase bool) *WordPiece {
	return &WordPiece{vocab: vocab, lowercase: lowercase, maxCharsPerWord: DefaultMaxCharsPerWord}
}

// Tokenize implements Tokenizer.
//
// @example
// wp := NewWordPiece(vocab, true)
// wp.Tokenize("A red car, parked.") // ["a", "red", "car", ",", "park", "##ed", "."]
func (w *WordPiece) Tokenize(text string) []string {
	var out []string
	for _, word := range w.basic(text) {
		out = append(out, w.subwords(word)...)
	}
	return out
}

func (w *WordPiece) basic(text string) []string {
	text = clean(text)
	text = padCJK(text)

	var words []string
	for _, tok := range strings.Fields(text) {
		if w.lowercase {
			tok = stripAccents(strings.ToLower(tok))
		}
		words = append(words, splitPunct(tok)...)
	}
	return words
}

func (w *WordPiece) subwords(word string) []string {
	chars := []rune(word)
	if len(chars) > w.maxCharsPerWord {
		return []string{UnkToken}
	}

	var pieces []string
	for start := 0; start < len(chars); {
		end := len(chars)
		found := ""
		for start < end {
			piece := string(chars[start:end])
			if start > 0 {
				piece = "##" + piece
			}
			if w.vocab.Contains(piece) {
				found = piece
				break
			}
			end--
		}
		if found == "" {
			return []string{UnkToken}
		}
		pieces = append(pieces, found)
		start = end
	}
	return pieces
}

// clean drops control characters and normalizes whitespace to spaces.
func clean(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r == 0 || r == unicode.ReplacementChar:
		case r == '\t' || r == '\n' || r == '\r' || unicode.IsSpace(r):
			b.WriteRune(' ')
		case unicode.IsControl(r) || unicode.In(r, unicode.Cf):
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func padCJK(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if unicode.Is(unicode.Han, r) {
			b.WriteRune(' ')
			b.WriteRune(r)
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func stripAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func splitPunct(tok string) []string {
	var out []string
	var cur []rune
	for _, r := range tok {
		if isPunct(r) {
			if len(cur) > 0 {
				out = append(out, string(cur))
				cur = cur[:0]
			}
			out = append(out, string(r))
			continue
		}
		cur = append(cur, r)
	}
	if len(cur) > 0 {
		out = append(out, string(cur))
	}
	return out
}

// isPunct treats all non-alphanumeric ASCII as punctuation, like BERT.
func isPunct(r rune) bool {
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) || (r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}
