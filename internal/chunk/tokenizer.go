package chunk

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts tokens in a single line.
// Implementations must be deterministic and return at least 1 for any line,
// so that adding a line never decreases a running count.
type TokenCounter interface {
	Count(line string) int
}

// WordCounter counts whitespace-delimited fields.
type WordCounter struct{}

// Count returns the number of whitespace-delimited fields, minimum 1.
func (WordCounter) Count(line string) int {
	n := len(strings.Fields(line))
	if n == 0 {
		return 1
	}
	return n
}

// DefaultEncoding is the BPE encoding used by TiktokenCounter when none is given.
const DefaultEncoding = "cl100k_base"

// TiktokenCounter counts BPE tokens so chunk budgets line up with model context limits.
type TiktokenCounter struct {
	tke *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the named encoding (cl100k_base when empty).
// The encoding may also be given as a model name.
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	tke, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		tke, err = tiktoken.EncodingForModel(encoding)
		if err != nil {
			return nil, fmt.Errorf("load tiktoken encoding %q: %w", encoding, err)
		}
	}
	return &TiktokenCounter{tke: tke}, nil
}

// Count returns the number of BPE tokens in line, minimum 1.
func (c *TiktokenCounter) Count(line string) int {
	n := len(c.tke.Encode(line, nil, nil))
	if n == 0 {
		return 1
	}
	return n
}

// NewTokenCounter returns the counter for the named tokenizer ("words" or "tiktoken").
func NewTokenCounter(name string) (TokenCounter, error) {
	switch name {
	case "", "words":
		return WordCounter{}, nil
	case "tiktoken":
		return NewTiktokenCounter("")
	default:
		return nil, fmt.Errorf("unknown tokenizer: %s", name)
	}
}
