package httpserver

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		srv := New(":8080", http.NotFoundHandler())

		assert.Equal(t, ":8080", srv.Addr)
		assert.Equal(t, defaultReadHeaderTimeout, srv.ReadHeaderTimeout)
		assert.Equal(t, defaultWriteTimeout, srv.WriteTimeout)
		assert.Equal(t, defaultIdleTimeout, srv.IdleTimeout)
	})

	t.Run("write timeout option overrides the default", func(t *testing.T) {
		srv := New(":8080", http.NotFoundHandler(), WithWriteTimeout(40*time.Second))
		assert.Equal(t, 40*time.Second, srv.WriteTimeout)
	})

	t.Run("non-positive write timeout is ignored", func(t *testing.T) {
		srv := New(":8080", http.NotFoundHandler(), WithWriteTimeout(0))
		assert.Equal(t, defaultWriteTimeout, srv.WriteTimeout)
	})
}

func TestWriteTimeoutFor(t *testing.T) {
	assert.Equal(t, defaultWriteTimeout, WriteTimeoutFor(1, time.Second))
	assert.Equal(t, 3*10*time.Second+defaultReadHeaderTimeout, WriteTimeoutFor(3, 10*time.Second))
}
