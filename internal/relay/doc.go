// Package relay implements the transport-agnostic room broadcast core.
//
// A Relay owns a connection registry and a room directory and mutates them
// from a single event loop, so join, leave, close and broadcast operations
// are applied one at a time in arrival order. Transport adapters feed it
// through Connect, Inbound, Disconnect and Broadcast.
package relay
