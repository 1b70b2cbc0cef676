package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
)

// Scopes checked by RequireScope.
const (
	ScopePropose = "codegate:propose"
	ScopeApprove = "codegate:approve"
)

// AllScopes is what the anonymous identity holds.
var AllScopes = []string{ScopePropose, ScopeApprove}

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("access denied")
	ErrTooManyRequests = errors.New("rate limit exceeded")
)

// AuthDecision is an authenticator's vote on a request.
type AuthDecision int

const (
	// Yes accepts the request with the returned identity.
	Yes AuthDecision = iota
	// No rejects credentials that were presented but are invalid.
	No
	// Abstain means the credentials are not of a kind this authenticator
	// understands; the next one in a Chain is asked.
	Abstain
)

// AuthResult is a vote plus its payload: Identity for Yes, Err for No.
type AuthResult struct {
	Decision AuthDecision
	Identity *Identity
	Err      error
}

// Identity is an authenticated caller.
type Identity struct {
	Subject     string
	ServiceTier string // selects the rate limit
	Scopes      []string
	Metadata    map[string]string
}

// HasScope reports whether id holds scope. A nil identity holds nothing.
func (id *Identity) HasScope(scope string) bool {
	return id != nil && slices.Contains(id.Scopes, scope)
}

// Anonymous is the identity of every caller when authentication is off.
func Anonymous() *Identity {
	return &Identity{Subject: "anonymous", ServiceTier: "default", Scopes: slices.Clone(AllScopes)}
}

// Authenticator votes on the credentials of a request.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) AuthResult
}

// Chain asks each Authenticator in order and returns the first vote that
// is not Abstain. A chain where everyone abstains abstains itself.
type Chain []Authenticator

func (c Chain) Authenticate(ctx context.Context, r *http.Request) AuthResult {
	for _, a := range c {
		if res := a.Authenticate(ctx, r); res.Decision != Abstain {
			return res
		}
	}
	return AuthResult{Decision: Abstain}
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity Middleware stored, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}
