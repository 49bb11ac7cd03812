// Package tokens estimates prompt sizes for the models the pipeline talks to.
//
// Counts use tiktoken encodings. Models served behind OpenAI-compatible
// endpoints (Qwen and friends) ship their own tokenizers, so for those the
// number is an approximation good enough for logging and run traces.
package tokens

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/tiktoken-go/tokenizer"
)

// Counter counts tokens in plain text for a model.
type Counter struct {
	mu     sync.RWMutex
	codecs map[tokenizer.Encoding]tokenizer.Codec
}

// NewCounter creates a counter with an empty codec cache.
func NewCounter() *Counter {
	return &Counter{
		codecs: make(map[tokenizer.Encoding]tokenizer.Codec),
	}
}

// Count returns the number of tokens in text. When no codec can be loaded it
// falls back to Estimate and reports estimated=true.
func (c *Counter) Count(model, text string) (count int, estimated bool) {
	codec, err := c.codec(model)
	if err != nil {
		return Estimate(text), true
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return Estimate(text), true
	}
	return len(ids), false
}

func (c *Counter) codec(model string) (tokenizer.Codec, error) {
	encoding := modelToEncoding(model)

	c.mu.RLock()
	if cached, ok := c.codecs[encoding]; ok {
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	codec, err := tokenizer.Get(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get tokenizer encoding: %w", err)
	}

	c.mu.Lock()
	c.codecs[encoding] = codec
	c.mu.Unlock()

	return codec, nil
}

// modelToEncoding picks a tiktoken encoding for a model name.
// Unknown models, including non-OpenAI ones, use O200kBase.
func modelToEncoding(model string) tokenizer.Encoding {
	model = strings.ToLower(model)
	if i := strings.LastIndex(model, "/"); i >= 0 {
		model = model[i+1:]
	}

	switch {
	case strings.HasPrefix(model, "gpt-4o"), strings.HasPrefix(model, "gpt-4.1"), strings.HasPrefix(model, "gpt-5"):
		return tokenizer.O200kBase
	case strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"):
		return tokenizer.O200kBase
	case strings.HasPrefix(model, "gpt-4"), strings.HasPrefix(model, "gpt-3.5"):
		return tokenizer.Cl100kBase
	case strings.HasPrefix(model, "text-embedding"):
		return tokenizer.Cl100kBase
	default:
		return tokenizer.O200kBase
	}
}

// Estimate approximates a token count at four characters per token.
func Estimate(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}
