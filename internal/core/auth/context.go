// Package auth provides the authentication context for API requests.
// Identity is injected by the fronting gateway as headers; this package only
// extracts and carries it.
package auth

import (
	"context"
	"net/http"
)

// =============================================================================
// Context Key
// =============================================================================

type contextKey string

const authContextKey contextKey = "auth"

// =============================================================================
// Types
// =============================================================================

// Context represents the authentication context for a request.
type Context struct {
	// UserID is the authenticated user's ID (from X-User-ID header).
	UserID string

	// Authenticated indicates whether the request carries an identity.
	Authenticated bool
}

// =============================================================================
// Header Constants
// =============================================================================

const (
	// HeaderUserID is the header containing the authenticated user's ID.
	HeaderUserID = "X-User-ID"

	// HeaderGatewaySecret is the header containing the shared secret the
	// gateway attaches to every proxied request.
	HeaderGatewaySecret = "X-Gateway-Secret"
)

// =============================================================================
// Context Extraction
// =============================================================================

// HeaderGetter is an interface for getting header values. This allows testing
// without requiring an http.Request.
type HeaderGetter interface {
	Get(key string) string
}

// ExtractFromRequest extracts auth context from HTTP request headers. If the
// X-User-ID header is not present, it returns an unauthenticated context.
func ExtractFromRequest(r *http.Request) Context {
	return ExtractFromHeaders(r.Header)
}

// ExtractFromHeaders extracts auth context from headers.
func ExtractFromHeaders(h HeaderGetter) Context {
	userID := h.Get(HeaderUserID)
	if userID == "" {
		return Context{}
	}
	return Context{
		UserID:        userID,
		Authenticated: true,
	}
}

// =============================================================================
// Request Context Storage
// =============================================================================

// WithContext stores the auth context in a request context.
func WithContext(ctx context.Context, ac Context) context.Context {
	return context.WithValue(ctx, authContextKey, ac)
}

// FromContext retrieves the auth context from a request context. Returns an
// unauthenticated context when none was stored.
func FromContext(ctx context.Context) Context {
	if ac, ok := ctx.Value(authContextKey).(Context); ok {
		return ac
	}
	return Context{}
}
