// Package api implements the Keystone HTTP API and WebSocket event stream.
//
// This package provides:
//   - Registration, login and refresh endpoints backed by auth.Service
//   - The request gate (authGate) that verifies access tokens and attaches
//     claims to the request context
//   - Identity and audit endpoints for the authenticated caller
//   - A WebSocket hub streaming each user's own auth events
//   - Middleware stack (request ID, client source, logging, metrics, recovery,
//     CORS, body limits, per-IP rate limiting)
//
// # Errors
//
// Every failure is a JSON envelope {status, code, message}. Service errors are
// mapped in one place (writeAuthError); internal error text is logged and
// never returned to the client.
//
// # Metrics
//
// The Prometheus exposition is served by a second listener
// (api.metrics.host:port) and is never mounted on the public router.
//
// # Client address
//
// Rate limiting and event sources use the TCP peer address. X-Forwarded-For
// is honoured only when the peer is one of api.trusted_proxies.
//
// # WebSocket authentication
//
// Browsers cannot set headers on the upgrade request, so a logged-in client
// first obtains a single-use ticket from POST /auth/ws-ticket and passes it as
// ?ticket=. Other clients may send the usual Authorization header instead.
package api
