// Package noop lets every request through as auth.Anonymous. It backs
// auth type "none" when a rate limit still has to be applied.
package noop

import (
	"context"
	"net/http"

	"github.com/rhuss/codegate/pkg/auth"
)

type Authenticator struct{}

var _ auth.Authenticator = Authenticator{}

func (Authenticator) Authenticate(context.Context, *http.Request) auth.AuthResult {
	return auth.AuthResult{Decision: auth.Yes, Identity: auth.Anonymous()}
}
