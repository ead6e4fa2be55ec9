package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConcurrencyConflict_IsRetryable(t *testing.T) {
	err := NewConcurrencyConflict("inventory_level", "item:wh", 3)

	assert.Equal(t, CodeConcurrencyConflict, err.Code)
	assert.Equal(t, http.StatusConflict, err.HTTPStatus)
	assert.Equal(t, 3, err.Details["attempts"])
	assert.True(t, IsConcurrencyConflict(err))
	assert.True(t, IsRetryable(err))
	assert.False(t, IsConcurrentModification(err))
}

func TestHelpers_SeeThroughWrapping(t *testing.T) {
	base := NewInsufficientStock("item", "wh", "5.0000", "2.0000")
	wrapped := fmt.Errorf("consume line 1: %w", base)

	assert.True(t, IsInsufficientStock(wrapped))
	assert.True(t, IsBusinessRule(wrapped))
	assert.False(t, IsRetryable(wrapped))
	assert.Equal(t, http.StatusUnprocessableEntity, GetHTTPStatus(wrapped))
}

func TestDataIntegrity_NotRetryable(t *testing.T) {
	err := NewDataIntegrity("lots do not cover level")

	assert.True(t, IsDataIntegrity(err))
	assert.False(t, IsRetryable(err))
	assert.False(t, IsBusinessRule(err))
}

func TestGetHTTPStatus_PlainError(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, GetHTTPStatus(errors.New("boom")))
	assert.False(t, IsNotFound(errors.New("boom")))
}

func TestError_IncludesCause(t *testing.T) {
	err := NewInternal(errors.New("pool closed"))
	assert.Contains(t, err.Error(), "pool closed")
	assert.ErrorIs(t, err, err.Err)
}
