// Package tokens counts tokens in prompt and response text.
package tokens

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// Counter counts tokens in a piece of text.
type Counter interface {
	CountText(text string) (int, error)
}

// DefaultEncoding is used when no model or encoding is configured.
const DefaultEncoding = tokenizer.O200kBase

// TiktokenCounter counts tokens with a tiktoken encoding.
type TiktokenCounter struct {
	codec tokenizer.Codec
}

var (
	codecMu    sync.RWMutex
	codecCache = make(map[tokenizer.Encoding]tokenizer.Codec)
)

// NewTiktokenCounter returns a counter for the encoding used by model. An
// empty model selects DefaultEncoding.
func NewTiktokenCounter(model string) (*TiktokenCounter, error) {
	codec, err := codecFor(modelToEncoding(model))
	if err != nil {
		return nil, err
	}
	return &TiktokenCounter{codec: codec}, nil
}

// CountText returns the number of tokens in text.
func (c *TiktokenCounter) CountText(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

func codecFor(enc tokenizer.Encoding) (tokenizer.Codec, error) {
	codecMu.RLock()
	if cached, ok := codecCache[enc]; ok {
		codecMu.RUnlock()
		return cached, nil
	}
	codecMu.RUnlock()

	codec, err := tokenizer.Get(enc)
	if err != nil {
		return nil, fmt.Errorf("failed to get tokenizer encoding: %w", err)
	}

	codecMu.Lock()
	codecCache[enc] = codec
	codecMu.Unlock()
	return codec, nil
}

// modelToEncoding maps model names to tiktoken encodings.
//
//   - O200kBase: gpt-5, gpt-4.1, gpt-4o, o-series and unknown models
//   - Cl100kBase: gpt-4, gpt-3.5, text-embedding
//   - P50kBase: text-davinci
func modelToEncoding(model string) tokenizer.Encoding {
	model = strings.ToLower(model)

	switch {
	case strings.HasPrefix(model, "gpt-5"),
		strings.HasPrefix(model, "gpt-4.1"),
		strings.HasPrefix(model, "gpt-4o"),
		strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"):
		return tokenizer.O200kBase
	case strings.HasPrefix(model, "gpt-4"),
		strings.HasPrefix(model, "gpt-3.5"),
		strings.HasPrefix(model, "text-embedding"):
		return tokenizer.Cl100kBase
	case strings.HasPrefix(model, "text-davinci"):
		return tokenizer.P50kBase
	default:
		return DefaultEncoding
	}
}

// Estimator approximates token counts from character length. It is the
// fallback when no tiktoken encoding can be loaded.
type Estimator struct {
	// CharsPerToken is the average characters per token (default: 4)
	CharsPerToken float64
}

// NewEstimator creates a new token estimator.
func NewEstimator() *Estimator {
	return &Estimator{CharsPerToken: 4.0}
}

// CountText estimates the token count of text, rounding up.
func (e *Estimator) CountText(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	per := e.CharsPerToken
	if per <= 0 {
		per = 4.0
	}
	n := int(float64(len(text))/per + 0.999)
	if n < 1 {
		n = 1
	}
	return n, nil
}

// NewCounter returns a tiktoken counter for model, falling back to an
// Estimator when the encoding is unavailable.
func NewCounter(model string) Counter {
	c, err := NewTiktokenCounter(model)
	if err != nil {
		return NewEstimator()
	}
	return c
}
