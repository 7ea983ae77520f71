package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIs(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"same sentinel", ErrParentNotFound, ErrParentNotFound, true},
		{"detailed copy matches sentinel", ErrParentNotFound.Withf("uuid %q", "abc"), ErrParentNotFound, true},
		{"wrapped detailed copy matches sentinel", fmt.Errorf("apply: %w", ErrObjectNotFound.Withf("x")), ErrObjectNotFound, true},
		{"different codes do not match", ErrParentNotFound, ErrObjectNotFound, false},
		{"member matches family", ErrDuplicateTypeName, ErrInvalidDefinition, true},
		{"detailed member matches family", ErrInvalidPropertyKind.Withf("Foo"), ErrInvalidDefinition, true},
		{"family does not match member", ErrInvalidDefinition, ErrDuplicateTypeName, false},
		{"plain error does not match", errors.New("boom"), ErrServer, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, tt.target))
		})
	}
}

func TestWithfExtendsMessage(t *testing.T) {
	err := ErrPropertyValidationFailed.Withf("property %q", "age")
	assert.Equal(t, `property validation failed: property "age"`, err.Error())
	assert.Equal(t, ErrPropertyValidationFailed.Code, err.Code)
	assert.Equal(t, ErrPropertyValidationFailed.Slug, err.Slug)
	assert.Equal(t, "property validation failed", ErrPropertyValidationFailed.Message, "sentinel must not be mutated")
}

func TestAsError(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, AsError(nil))
	})

	t.Run("wrapped error keeps code and full message", func(t *testing.T) {
		got := AsError(fmt.Errorf("persist: %w", ErrNotFound))
		require.NotNil(t, got)
		assert.Equal(t, ErrNotFound.Code, got.Code)
		assert.Equal(t, "persist: object does not exist", got.Message)
		assert.ErrorIs(t, got, ErrNotFound)
	})

	t.Run("foreign error becomes server error", func(t *testing.T) {
		got := AsError(errors.New("disk on fire"))
		assert.Equal(t, ErrServer.Code, got.Code)
		assert.Equal(t, "server-error", got.Slug)
		assert.Equal(t, "disk on fire", got.Message)
	})
}

func TestResultJSON(t *testing.T) {
	tests := []struct {
		name   string
		result Result
		want   string
	}{
		{"success is empty object", Result{}, `{}`},
		{"failure carries message code and slug", ResultFromError(ErrUnknownType.Withf("Robot")), `{"error":{"code":120,"slug":"unknown-type","message":"unknown type: Robot"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.result)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestResultOK(t *testing.T) {
	assert.True(t, Result{}.OK())
	assert.False(t, ResultFromError(ErrGraphInconsistency).OK())
}
