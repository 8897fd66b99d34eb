package apikey

import (
	"context"
	"errors"
	"testing"

	"github.com/barrersoftware/copilot-plugin-system/internal/pkg/config"
)

func TestProvider_Authenticate(t *testing.T) {
	p := NewProvider([]config.APIKeyConfig{
		{KeyHash: HashAPIKey("cps_alpha"), Description: "ci"},
	})

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"valid", "cps_alpha", false},
		{"wrong", "cps_beta", true},
		{"empty", "", true},
		{"hash itself", HashAPIKey("cps_alpha"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Authenticate(context.Background(), tt.token)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidKey) {
					t.Errorf("Authenticate() error = %v, want ErrInvalidKey", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Authenticate() error = %v", err)
			}
			if got.Description != "ci" {
				t.Errorf("Description = %q", got.Description)
			}
		})
	}
}

func TestProvider_Reload(t *testing.T) {
	p := NewProvider([]config.APIKeyConfig{{KeyHash: HashAPIKey("old")}})
	p.Reload([]config.APIKeyConfig{{KeyHash: HashAPIKey("new")}, {KeyHash: HashAPIKey("other")}})

	if p.Len() != 2 {
		t.Errorf("Len() = %d, want 2", p.Len())
	}
	if _, err := p.Authenticate(context.Background(), "old"); err == nil {
		t.Error("revoked key still accepted")
	}
	if _, err := p.Authenticate(context.Background(), "new"); err != nil {
		t.Errorf("new key rejected: %v", err)
	}
}

func TestHashAPIKey(t *testing.T) {
	// sha256("abc")
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := HashAPIKey("abc"); got != want {
		t.Errorf("HashAPIKey() = %s", got)
	}
}
