// Package server wires HTTP handlers into a ServeMux for the SafeChat
// application via routing helpers.
package server

import "net/http"

// Routes returns an HTTP ServeMux with all application routes: health check,
// authentication, room occupancy, WebSocket endpoint and test page.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.HealthHandler)
	mux.HandleFunc("/ws", s.WebSocketHandler)
	mux.HandleFunc("/test", TestPageHandler)
	mux.HandleFunc("/api/auth/register", s.RegisterHandler)
	mux.HandleFunc("/api/auth/login", s.LoginHandler)
	mux.HandleFunc("/api/rooms", s.RoomsHandler)
	return mux
}
