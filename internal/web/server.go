package web

import (
	"context"
	"log"
	"net/http"
	"time"
)

// NewServer creates an HTTP server with production timeout defaults. The
// read timeout is left unset because WebSocket connections outlive any
// sensible request deadline; slow-client protection lives in the chat
// package's ping/pong and write deadlines.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Shutdown gracefully shuts down the HTTP server, waiting for active
// requests to finish or the timeout to elapse.
func Shutdown(server *http.Server, timeout time.Duration) error {
	log.Println("Shutting down HTTP server...")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		return err
	}

	log.Println("HTTP server shutdown completed")
	return nil
}
