// Package tokenize implements the default keyword tokenizer the inverted
// index and hybrid search use: lowercase, strip non-alphanumeric runes,
// split on whitespace, drop stop-words. The tokenization policy itself
// (this package) is the one piece spec names as an external collaborator,
// but a store needs a working default, so this mirrors what the original
// implementation's stop-list loader did — load once, not on every call
// (open question 1 explicitly permits a one-time load).
package tokenize

import (
	"bufio"
	"os"
	"strings"
	"unicode"

	"github.com/google/btree"
)

const stopWordsFile = "common_words.txt"

// wordItem adapts a plain string into the btree.Item this package (and the
// inverted index's key cache) shares as the module's one sorted-set
// abstraction.
type wordItem string

func (w wordItem) Less(other btree.Item) bool {
	return string(w) < string(other.(wordItem))
}

// Tokenizer lowercases, strips punctuation, and drops stop-words loaded
// once from common_words.txt in the process's working directory.
type Tokenizer struct {
	stopWords *btree.BTree
}

// New loads the stop-word list (if common_words.txt exists in the current
// working directory) and returns a ready-to-use Tokenizer. A missing file
// means an empty stop-list, not an error.
func New() (*Tokenizer, error) {
	t := &Tokenizer{stopWords: btree.New(2)}

	f, err := os.Open(stopWordsFile)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		word := strings.TrimSpace(scanner.Text())
		if word == "" {
			continue
		}
		t.stopWords.ReplaceOrInsert(wordItem(strings.ToLower(word)))
	}
	return t, scanner.Err()
}

func (t *Tokenizer) isStopWord(w string) bool {
	return t.stopWords.Has(wordItem(w))
}

// Tokenize lowercases s, strips every rune that is not a letter or digit
// (replacing it with a space), splits on whitespace, and drops stop-words.
// The result may contain duplicate tokens; callers that need distinct
// keywords dedupe themselves.
func (t *Tokenizer) Tokenize(s string) []string {
	lowered := strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(lowered))
	for _, r := range lowered {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}

	fields := strings.Fields(b.String())
	tokens := make([]string, 0, len(fields))
	for _, w := range fields {
		if t.isStopWord(w) {
			continue
		}
		tokens = append(tokens, w)
	}
	return tokens
}
