package tokens

import (
	"testing"

	"github.com/tiktoken-go/tokenizer"
)

func TestTiktokenCounter_CountText(t *testing.T) {
	c, err := NewTiktokenCounter("gpt-4o")
	if err != nil {
		t.Fatalf("NewTiktokenCounter() error = %v", err)
	}

	tests := []struct {
		name     string
		text     string
		min, max int
	}{
		{"empty", "", 0, 0},
		{"single word", "hello", 1, 1},
		{"sentence", "Hello, how are you today?", 5, 9},
		{"command", "rm -rf / --no-preserve-root", 5, 15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.CountText(tt.text)
			if err != nil {
				t.Fatalf("CountText() error = %v", err)
			}
			if got < tt.min || got > tt.max {
				t.Errorf("CountText(%q) = %d, want [%d, %d]", tt.text, got, tt.min, tt.max)
			}
		})
	}
}

func TestModelToEncoding(t *testing.T) {
	tests := []struct {
		model string
		want  tokenizer.Encoding
	}{
		{"", tokenizer.O200kBase},
		{"gpt-5-mini", tokenizer.O200kBase},
		{"GPT-4o", tokenizer.O200kBase},
		{"o3-mini", tokenizer.O200kBase},
		{"gpt-4-turbo", tokenizer.Cl100kBase},
		{"gpt-3.5-turbo", tokenizer.Cl100kBase},
		{"text-embedding-3-small", tokenizer.Cl100kBase},
		{"text-davinci-003", tokenizer.P50kBase},
		{"claude-sonnet", tokenizer.O200kBase},
	}
	for _, tt := range tests {
		if got := modelToEncoding(tt.model); got != tt.want {
			t.Errorf("modelToEncoding(%q) = %s, want %s", tt.model, got, tt.want)
		}
	}
}

func TestEstimator_CountText(t *testing.T) {
	e := NewEstimator()
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"abcdefghijklmnop", 4},
	}
	for _, tt := range tests {
		got, _ := e.CountText(tt.text)
		if got != tt.want {
			t.Errorf("CountText(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}

	zero := &Estimator{}
	if got, _ := zero.CountText("abcdefgh"); got != 2 {
		t.Errorf("zero-value Estimator = %d, want 2", got)
	}
}

func TestNewCounter(t *testing.T) {
	c := NewCounter("gpt-4o")
	if _, ok := c.(*TiktokenCounter); !ok {
		t.Errorf("NewCounter() = %T, want *TiktokenCounter", c)
	}
}
