// Package server wires HTTP handlers into a ServeMux for the room relay.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application routes.
func (s *Server) SetupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.HealthHandler)
	mux.HandleFunc("/health", s.HealthHandler)
	mux.HandleFunc("/rooms", s.RoomsHandler)
	mux.HandleFunc("/ws", s.WebSocketHandler)
	mux.HandleFunc("/events", s.EventsHandler)
	mux.HandleFunc("/messages", s.PublishHandler)
	mux.HandleFunc("/test", s.TestPageHandler)
	return mux
}
