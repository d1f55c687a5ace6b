package httpserver

import (
	"net/http"
	"time"
)

// New builds an HTTP server with timeouts suited to the local diagnostics
// surface: small responses, loopback clients.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       time.Minute,
	}
}
