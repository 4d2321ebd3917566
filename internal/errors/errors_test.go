package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError(t *testing.T) {
	t.Run("Error includes code and message", func(t *testing.T) {
		err := CodeNotFound()
		assert.Contains(t, err.Error(), "CODE_NOT_FOUND")
		assert.Contains(t, err.Error(), "pairing code")
	})

	t.Run("Error includes cause when present", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := Database(cause)
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("Unwrap returns the cause", func(t *testing.T) {
		cause := errors.New("boom")
		err := Wrap(ErrCodeDatabase, "query failed", cause)
		assert.True(t, errors.Is(err, cause))
	})
}

func TestAsAppError(t *testing.T) {
	t.Run("finds AppError through wrapping", func(t *testing.T) {
		wrapped := fmt.Errorf("redeem: %w", CodeNotFound())
		appErr, ok := AsAppError(wrapped)
		require.True(t, ok)
		assert.Equal(t, ErrCodeCodeNotFound, appErr.Code)
	})

	t.Run("returns false for plain errors", func(t *testing.T) {
		_, ok := AsAppError(errors.New("plain"))
		assert.False(t, ok)
	})
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, ErrCodeSessionNotLinked, GetCode(SessionNotLinked()))
	assert.Equal(t, ErrCodeInternal, GetCode(errors.New("plain")))
}

func TestHasCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", LinkIDMismatch())
	assert.True(t, HasCode(err, ErrCodeLinkIDMismatch))
	assert.False(t, HasCode(err, ErrCodeCodeNotFound))
	assert.False(t, HasCode(errors.New("plain"), ErrCodeLinkIDMismatch))
}

func TestTaxonomy(t *testing.T) {
	t.Run("allocation exhaustion names the attempt count", func(t *testing.T) {
		err := CodeAllocationExhausted(10)
		assert.Equal(t, ErrCodeAllocationExhausted, err.Code)
		assert.Contains(t, err.Message, "10")
	})

	t.Run("link not found carries the client token", func(t *testing.T) {
		err := LinkNotFound("tok-123")
		assert.Equal(t, ErrCodeLinkNotFound, err.Code)
		details, ok := err.Details.(map[string]string)
		require.True(t, ok)
		assert.Equal(t, "tok-123", details["clientToken"])
	})
}
