// Package httpserver builds the curation API's http.Server and its health
// endpoint.
package httpserver

import (
	"net/http"
	"time"
)

const (
	defaultReadHeaderTimeout = 5 * time.Second
	defaultReadTimeout       = 15 * time.Second
	defaultWriteTimeout      = 15 * time.Second
	defaultIdleTimeout       = 60 * time.Second
)

type Option func(*http.Server)

// WithWriteTimeout bounds how long a handler may take to write its response.
// A transition can run several storage transactions back to back, so the
// server passes attempts times the transaction timeout plus headroom.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *http.Server) {
		if d > 0 {
			s.WriteTimeout = d
		}
	}
}

// New builds an HTTP server with the defaults this service runs with.
func New(addr string, handler http.Handler, opts ...Option) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		ReadTimeout:       defaultReadTimeout,
		WriteTimeout:      defaultWriteTimeout,
		IdleTimeout:       defaultIdleTimeout,
	}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

// WriteTimeoutFor returns a write timeout covering attempts transactions of
// txTimeout each, never below the default.
func WriteTimeoutFor(attempts int, txTimeout time.Duration) time.Duration {
	d := time.Duration(attempts)*txTimeout + defaultReadHeaderTimeout
	if d < defaultWriteTimeout {
		return defaultWriteTimeout
	}
	return d
}
