// Package jwt authenticates bearer JWTs, verified either with a shared
// HMAC secret or with RSA keys from a JWKS endpoint. The subject, the rate
// limit tier and the granted scopes are read from configurable claims.
package jwt

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/rhuss/codegate/pkg/auth"
)

// Config selects how tokens are verified and which claims are read.
type Config struct {
	Issuer   string // expected iss; empty skips the check
	Audience string // expected aud; empty skips the check

	// HMACSecret verifies HS256/384/512 tokens. When empty, RS256/384/512
	// tokens are verified with keys from JWKSURL.
	HMACSecret []byte
	JWKSURL    string
	CacheTTL   time.Duration // JWKS reuse period, default 1h
	HTTPClient *http.Client

	UserClaim   string // default "sub"
	TierClaim   string // default "tier"
	ScopesClaim string // default "scope"; space separated or an array
}

// Authenticator implements auth.Authenticator for JWT bearer tokens.
type Authenticator struct {
	cfg    Config
	parser *jwtlib.Parser
	keys   *keySet // nil in HMAC mode
}

var _ auth.Authenticator = (*Authenticator)(nil)

// New builds an Authenticator, filling in claim names and cache defaults.
func New(cfg Config) *Authenticator {
	cfg.UserClaim = cmp.Or(cfg.UserClaim, "sub")
	cfg.TierClaim = cmp.Or(cfg.TierClaim, "tier")
	cfg.ScopesClaim = cmp.Or(cfg.ScopesClaim, "scope")
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}

	a := &Authenticator{cfg: cfg}
	methods := []string{"HS256", "HS384", "HS512"}
	if len(cfg.HMACSecret) == 0 {
		methods = []string{"RS256", "RS384", "RS512"}
		a.keys = newKeySet(cfg.JWKSURL, cfg.CacheTTL, cfg.HTTPClient)
	}
	opts := []jwtlib.ParserOption{jwtlib.WithValidMethods(methods), jwtlib.WithExpirationRequired()}
	if cfg.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwtlib.WithAudience(cfg.Audience))
	}
	a.parser = jwtlib.NewParser(opts...)
	return a
}

// Authenticate abstains unless the request carries a bearer token.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) auth.AuthResult {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return auth.AuthResult{Decision: auth.Abstain}
	}
	if raw == "" {
		return reject(errors.New("empty bearer token"))
	}

	claims := jwtlib.MapClaims{}
	if _, err := a.parser.ParseWithClaims(raw, claims, a.verificationKey(ctx)); err != nil {
		slog.Debug("rejecting JWT", "error", err)
		return reject(err)
	}

	subject, _ := claims[a.cfg.UserClaim].(string)
	if subject == "" {
		return reject(fmt.Errorf("claim %q is missing", a.cfg.UserClaim))
	}
	tier, _ := claims[a.cfg.TierClaim].(string)
	return auth.AuthResult{Decision: auth.Yes, Identity: &auth.Identity{
		Subject:     subject,
		ServiceTier: cmp.Or(tier, "default"),
		Scopes:      extractScopes(claims, a.cfg.ScopesClaim),
		Metadata:    map[string]string{"auth": "jwt"},
	}}
}

func (a *Authenticator) verificationKey(ctx context.Context) jwtlib.Keyfunc {
	return func(t *jwtlib.Token) (any, error) {
		if a.keys == nil {
			return a.cfg.HMACSecret, nil
		}
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token has no kid header")
		}
		return a.keys.key(ctx, kid)
	}
}

func reject(err error) auth.AuthResult {
	return auth.AuthResult{Decision: auth.No, Err: fmt.Errorf("%w: %v", auth.ErrUnauthenticated, err)}
}

// extractScopes reads key as either "a b c" or ["a", "b", "c"]. Non-string
// array entries are skipped.
func extractScopes(claims jwtlib.MapClaims, key string) []string {
	var out []string
	switch v := claims[key].(type) {
	case string:
		out = strings.Fields(v)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
