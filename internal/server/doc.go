// Package server implements the HTTP surface of the room relay.
//
// The WebSocket and server-sent event adapters turn transport connections
// into relay handles, and the Hub owns the relay event loop and client pumps.
// Configuration, origin policy, rate limiting, routing and handlers live in
// their own files.
package server
