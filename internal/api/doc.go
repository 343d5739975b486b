// Package api hosts the HTTP handlers that front the solarsync REST API.
//
// The handlers assembled by Handler coordinate request validation, token
// verification, and response shaping while delegating persistence to
// storage.Repository implementations injected at construction time. Access
// tokens are verified through an auth.TokenIssuer and refresh tokens live in
// an auth.SessionManager; the package does not reach for globals or
// singletons and expects callers to supply fully configured dependencies.
//
// The upstream monitoring client, the Redis power cache, and the outbound
// messaging senders are injected behind narrow interfaces so endpoints stay
// testable without live credentials.
//
// Handler implementations assume upstream middleware from internal/server has
// already enforced authentication, rate limiting, metrics, and logging
// concerns. New routes should preserve that contract by avoiding duplicate
// validation and by leaning on the middleware guarantees established in the
// server stack.
package api
