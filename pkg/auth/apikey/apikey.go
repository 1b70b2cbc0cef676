// Package apikey authenticates agent loops and humans holding static keys.
// Only SHA-256 digests of the keys stay in memory.
package apikey

import (
	"context"
	"crypto/sha256"
	"net/http"
	"slices"
	"strings"

	"github.com/rhuss/codegate/pkg/auth"
)

// HeaderName carries a raw key as an alternative to a bearer token.
const HeaderName = "X-API-Key"

// Key is one configured key and the identity it grants. An identity
// without scopes gets all of them; an empty tier becomes "default".
type Key struct {
	Key      string
	Identity auth.Identity
}

// Authenticator looks presented keys up by digest.
type Authenticator struct {
	byDigest map[[sha256.Size]byte]auth.Identity
}

var _ auth.Authenticator = (*Authenticator)(nil)

func New(keys []Key) *Authenticator {
	a := &Authenticator{byDigest: make(map[[sha256.Size]byte]auth.Identity, len(keys))}
	for _, k := range keys {
		id := k.Identity
		if len(id.Scopes) == 0 {
			id.Scopes = auth.AllScopes
		}
		if id.ServiceTier == "" {
			id.ServiceTier = "default"
		}
		a.byDigest[sha256.Sum256([]byte(k.Key))] = id
	}
	return a
}

// Authenticate votes Abstain without a key, No for an empty or unknown
// key and Yes otherwise. The returned identity is a private copy.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.AuthResult {
	key, presented := presentedKey(r.Header)
	switch {
	case !presented:
		return auth.AuthResult{Decision: auth.Abstain}
	case key == "":
		return auth.AuthResult{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}

	id, ok := a.byDigest[sha256.Sum256([]byte(key))]
	if !ok {
		return auth.AuthResult{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}
	id.Scopes = slices.Clone(id.Scopes)
	return auth.AuthResult{Decision: auth.Yes, Identity: &id}
}

// presentedKey prefers X-API-Key. Authorization schemes other than Bearer
// belong to someone else.
func presentedKey(h http.Header) (string, bool) {
	if v := h.Values(HeaderName); len(v) > 0 {
		return strings.TrimSpace(v[0]), true
	}
	return strings.CutPrefix(h.Get("Authorization"), "Bearer ")
}
