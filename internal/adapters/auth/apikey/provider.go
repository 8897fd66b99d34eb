// Package apikey provides API key-based authentication for the HTTP bridge.
package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"sync"

	"github.com/barrersoftware/copilot-plugin-system/internal/core/ports"
	"github.com/barrersoftware/copilot-plugin-system/internal/pkg/config"
)

// ErrInvalidKey is returned for unknown or empty keys.
var ErrInvalidKey = errors.New("invalid API key")

// Provider implements ports.AuthProvider over configured key hashes.
type Provider struct {
	mu   sync.RWMutex
	keys map[string]config.APIKeyConfig // keyHash -> key
}

var _ ports.AuthProvider = (*Provider)(nil)

// NewProvider creates a provider admitting the given keys.
func NewProvider(keys []config.APIKeyConfig) *Provider {
	p := &Provider{}
	p.Reload(keys)
	return p
}

// Authenticate validates an API key.
func (p *Provider) Authenticate(ctx context.Context, token string) (*ports.AuthContext, error) {
	if token == "" {
		return nil, ErrInvalidKey
	}
	keyHash := HashAPIKey(token)

	p.mu.RLock()
	key, ok := p.keys[keyHash]
	p.mu.RUnlock()

	// Constant-time comparison to prevent timing attacks
	if !ok || subtle.ConstantTimeCompare([]byte(keyHash), []byte(key.KeyHash)) != 1 {
		return nil, ErrInvalidKey
	}
	return &ports.AuthContext{KeyHash: key.KeyHash, Description: key.Description}, nil
}

// Reload replaces the admitted keys.
// This is called by the engine when config changes.
func (p *Provider) Reload(keys []config.APIKeyConfig) {
	m := make(map[string]config.APIKeyConfig, len(keys))
	for _, k := range keys {
		m[k.KeyHash] = k
	}
	p.mu.Lock()
	p.keys = m
	p.mu.Unlock()
}

// Len returns the number of admitted keys.
func (p *Provider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.keys)
}

// HashAPIKey creates a SHA-256 hash of an API key for storage.
func HashAPIKey(apiKey string) string {
	hash := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(hash[:])
}
