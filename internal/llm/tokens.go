package llm

import (
	"strings"
	"sync"
	"unicode/utf8"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Tokenizer counts tokens with tiktoken, falling back to a rune-based
// estimate when the encoding cannot be loaded (offline hosts lack the BPE
// cache).
type Tokenizer struct {
	encodingName string
	once         sync.Once
	enc          *tiktoken.Tiktoken
}

func NewTokenizer(encodingName string) *Tokenizer {
	if encodingName == "" {
		encodingName = "cl100k_base"
	}
	return &Tokenizer{encodingName: encodingName}
}

// NewTokenizerForModel picks the encoding used by the model family.
func NewTokenizerForModel(model string) *Tokenizer {
	return NewTokenizer(modelToEncoding(model))
}

func modelToEncoding(model string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	switch {
	case strings.HasPrefix(m, "gpt-4o"), strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"):
		return "o200k_base"
	default:
		return "cl100k_base"
	}
}

func (t *Tokenizer) load() {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encodingName)
		if err == nil {
			t.enc = enc
		}
	})
}

func (t *Tokenizer) CountTokens(text string) int {
	t.load()
	if t.enc != nil {
		return len(t.enc.Encode(text, nil, nil))
	}
	return EstimateTokens(text)
}

// EstimateTokens approximates one token per four runes, rounding up.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}
