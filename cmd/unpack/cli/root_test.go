package cli

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oci/unpack"
)

func TestFormatError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"not found", fmt.Errorf("pull: %w", unpack.ErrNotFound), "Error: not found: pull: unpack: not found"},
		{"unauthorized", unpack.ErrUnauthorized, "Error: authentication failed (check your credentials)"},
		{"invalid ref", fmt.Errorf("parse: %w", unpack.ErrInvalidRef), "Error: invalid reference: parse: unpack: invalid reference"},
		{"path traversal", unpack.ErrPathTraversal, "Error: path traversal detected (security violation)"},
		{"invalid archive", unpack.ErrInvalidArchive, "Error: invalid or corrupt archive"},
		{"sandbox unavailable", unpack.ErrSandboxUnavailable, "Error: filesystem sandbox unavailable (pass --no-sandbox to proceed without it)"},
		{"canceled", context.Canceled, "Error: operation canceled"},
		{"other", errors.New("boom"), "Error: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatError(tt.err))
		})
	}
}

func TestSignalContext_CancelFunc(t *testing.T) {
	ctx, cancel := signalContext()
	defer cancel()

	assert.NoError(t, ctx.Err())
	cancel()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}
