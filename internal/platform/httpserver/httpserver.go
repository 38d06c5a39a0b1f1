package httpserver

import (
	"net/http"
	"time"
)

// New builds an HTTP server with sane defaults for this project. The write
// timeout leaves room for two sequential provider calls at their maximum
// deadline.
func New(addr string, handler http.Handler, callTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      2*callTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
