package firestore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/style-suite/api/internal/platform/config"
)

func TestWrapErrorClassifiesCodes(t *testing.T) {
	cases := []struct {
		code        codes.Code
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{code: codes.NotFound, notFound: true},
		{code: codes.Aborted, conflict: true},
		{code: codes.AlreadyExists, conflict: true},
		{code: codes.Unavailable, unavailable: true},
		{code: codes.ResourceExhausted, unavailable: true},
		{code: codes.PermissionDenied},
	}
	for _, tc := range cases {
		t.Run(tc.code.String(), func(t *testing.T) {
			err := WrapError("idempotency.reserve", status.Error(tc.code, "boom"))
			var fsErr *Error
			require.ErrorAs(t, err, &fsErr)
			assert.Equal(t, tc.notFound, fsErr.IsNotFound())
			assert.Equal(t, tc.conflict, fsErr.IsConflict())
			assert.Equal(t, tc.unavailable, fsErr.IsUnavailable())
			assert.Contains(t, err.Error(), "idempotency.reserve")
		})
	}
}

func TestWrapErrorPassesThroughContextAndPlainErrors(t *testing.T) {
	assert.NoError(t, WrapError("op", nil))
	assert.ErrorIs(t, WrapError("op", context.DeadlineExceeded), context.DeadlineExceeded)
	assert.ErrorIs(t, WrapError("op", status.Error(codes.Canceled, "gone")), context.Canceled)

	sentinel := errors.New("fingerprint mismatch")
	assert.Same(t, sentinel, WrapError("op", sentinel))
}

func TestProviderRequiresProjectAndHonoursClose(t *testing.T) {
	t.Setenv(envGoogleProjectID, "")
	provider := NewProvider(config.FirestoreConfig{})
	_, err := provider.Client(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "project id is required")

	require.NoError(t, provider.Close())
	_, err = provider.Client(context.Background())
	assert.ErrorIs(t, err, ErrProviderClosed)
}
