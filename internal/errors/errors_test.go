package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorTypes(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantType  ErrorType
		forceable bool
	}{
		{"not found", NotFound("missing"), ErrorTypeNotFound, false},
		{"validation", ValidationError("bad name", nil), ErrorTypeValidation, false},
		{"forceable precondition", Precondition("pending changes", true), ErrorTypePrecondition, true},
		{"hard precondition", Precondition("last branch", false), ErrorTypePrecondition, false},
		{"corrupt", Corrupt("bad delta", stderrors.New("eof")), ErrorTypeCorrupt, false},
		{"internal", Internal("creating content safe", stderrors.New("bad level")), ErrorTypeInternal, false},
		{"wrapped", fmt.Errorf("committing: %w", Precondition("nothing to commit", true)), ErrorTypePrecondition, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, Is(tt.err, tt.wantType))
			assert.Equal(t, tt.forceable, IsForceable(tt.err))
		})
	}
}

func TestErrorMessage(t *testing.T) {
	cause := stderrors.New("unexpected end of JSON input")
	err := Corrupt("reading delta b0/r3", cause)

	assert.Equal(t, "reading delta b0/r3: unexpected end of JSON input", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.False(t, Is(stderrors.New("plain"), ErrorTypeCorrupt))
}
