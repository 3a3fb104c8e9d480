package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type typedErr struct{}

func (typedErr) Error() string    { return "typed" }
func (typedErr) DomainCode() Code { return CodeFourEyesViolation }

func TestHasCode(t *testing.T) {
	t.Run("matches direct coded error", func(t *testing.T) {
		err := New(CodeNotFound, "curation not found")
		assert.True(t, HasCode(err, CodeNotFound))
		assert.False(t, HasCode(err, CodeConflict))
	})

	t.Run("matches through fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("load: %w", New(CodeConflict, "stale"))
		assert.True(t, Is(err, CodeConflict))
	})

	t.Run("typed errors join the taxonomy", func(t *testing.T) {
		err := fmt.Errorf("transition: %w", typedErr{})
		assert.True(t, HasCode(err, CodeFourEyesViolation))
	})

	t.Run("uncoded errors are internal", func(t *testing.T) {
		assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
		assert.False(t, HasCode(nil, CodeInternal))
	})
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(cause, CodeInternal, "failed to load curation")

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "failed to load curation: connection reset", err.Error())
	assert.Nil(t, Wrap(nil, CodeInternal, "ignored"))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(New(CodeSlotConflict, "contended")))
	assert.False(t, Retryable(New(CodeConflict, "stale version")))
	assert.False(t, Retryable(New(CodeFourEyesViolation, "same actor")))
}

func TestToHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeBadRequest:        http.StatusBadRequest,
		CodeForbidden:         http.StatusForbidden,
		CodeFourEyesViolation: http.StatusForbidden,
		CodeNotFound:          http.StatusNotFound,
		CodeConflict:          http.StatusConflict,
		CodeInvalidTransition: http.StatusUnprocessableEntity,
		CodeSlotConflict:      http.StatusServiceUnavailable,
		CodeInternal:          http.StatusInternalServerError,
		Code("unknown"):       http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, ToHTTPStatus(code), "code %s", code)
	}
}
