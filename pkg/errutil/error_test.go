package errutil

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestBaseErrorCarriesStatusThroughWrapping(t *testing.T) {
	err := NotFound("user not registered", nil)
	wrapped := fmt.Errorf("handling request: %w", err)

	var be BaseError
	require.True(t, errors.As(wrapped, &be))
	require.Equal(t, StatusNotFound, be.Status())
	require.Equal(t, StatusNotFound, StatusOf(wrapped))
}

func TestConstructorKeepsCause(t *testing.T) {
	cause := errors.New("boom")
	err := Internal("write failed", cause)

	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "write failed")
	require.Contains(t, err.Error(), "boom")
}

func TestStatusOfUnknown(t *testing.T) {
	require.Equal(t, StatusUnknown, StatusOf(nil))
	require.Equal(t, StatusUnknown, StatusOf(errors.New("plain")))
}

func TestToGRPCError(t *testing.T) {
	cases := []struct {
		err  error
		code codes.Code
	}{
		{Unauthorized("who are you", nil), codes.Unauthenticated},
		{Forbidden("not an owner", nil), codes.PermissionDenied},
		{NotFound("missing", nil), codes.NotFound},
		{Conflict("already done", nil), codes.AlreadyExists},
		{TooManyRequest("slow down", nil), codes.ResourceExhausted},
		{UnprocessableEntity("cannot", nil), codes.FailedPrecondition},
		{BadRequest("bad", nil), codes.InvalidArgument},
		{errors.New("plain"), codes.Internal},
	}

	for _, tc := range cases {
		st, ok := status.FromError(ToGRPCError(tc.err))
		require.True(t, ok)
		require.Equal(t, tc.code, st.Code())
	}

	require.NoError(t, ToGRPCError(nil))
}
