//go:build !debug

package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardError_UnwrapsSentinel(t *testing.T) {
	err := CapacityExhausted("connection table", 64)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, ErrCapacity))
	assert.Contains(t, err.Error(), "CAPACITY_EXHAUSTED")
	assert.Contains(t, err.Caller, "TestStandardError_UnwrapsSentinel")

	wrapped := fmt.Errorf("spawn: %w", err)
	cat, ok := CategoryOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, CategoryCapacity, cat)
}

func TestInvariant_ReturnsTypedFailureInReleaseBuilds(t *testing.T) {
	err := Invariant("actor id %d outside arena", 300)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, ErrInvariant))
	cat, ok := CategoryOf(err)
	require.True(t, ok)
	assert.Equal(t, CategoryInvariant, cat)
}

func TestCategoryOf_PlainError(t *testing.T) {
	_, ok := CategoryOf(stderrors.New("plain"))
	assert.False(t, ok)
}
