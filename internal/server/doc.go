// Package server hosts the solarsync REST API behind a single HTTP server.
//
// The server builds a consistent middleware chain of security headers, CORS,
// request IDs, logging, audit, metrics, rate limiting, and bearer auth so
// handlers all share common protections and instrumentation.
package server
