// Package transport holds the HTTP plumbing shared by the codegate
// surfaces: error mapping onto status codes, request IDs, access logging,
// panic recovery and the registry of in-flight executions that a cancel
// request can interrupt.
//
// Middleware here has the net/http shape func(http.Handler) http.Handler
// so it composes with chi routers and the MCP handler alike.
package transport
