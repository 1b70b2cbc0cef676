// Package auth decides who is calling the codegate HTTP surface and what
// they may do.
//
// Authenticators vote Yes, No or Abstain on a request's credentials and
// are combined in a Chain. Middleware rejects any request the chain does
// not accept, applies the per-tier rate limit and stores the Identity in
// the request context.
//
// The reasoning loop and the human reviewer are told apart by scope:
// ScopePropose covers proposing code and emitting steps, ScopeApprove
// covers approving, cancelling and rating. RequireScope guards each route.
package auth
