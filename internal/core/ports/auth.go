package ports

import "context"

// AuthContext identifies an authenticated caller of the HTTP bridge.
type AuthContext struct {
	KeyHash     string
	Description string
}

// AuthProvider validates bearer tokens presented to the HTTP bridge.
type AuthProvider interface {
	Authenticate(ctx context.Context, token string) (*AuthContext, error)
}
