package kerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKinded_IsMatchesKind(t *testing.T) {
	cause := errors.New("device offline")
	err := New("swap.Write", ErrNoSwap, cause)

	require.ErrorIs(t, err, ErrNoSwap)
	require.False(t, errors.Is(err, ErrOutOfMemory))
}

func TestKinded_ErrorIncludesOpAndCause(t *testing.T) {
	cause := errors.New("sector out of range")
	err := New("frame.Acquire", ErrOutOfMemory, cause)

	msg := err.Error()
	require.Contains(t, msg, "frame.Acquire")
	require.Contains(t, msg, ErrOutOfMemory.Error())
	require.Contains(t, msg, "sector out of range")
}

func TestKinded_ErrorWithoutCauseOmitsTrailer(t *testing.T) {
	err := New("vmfault.HandleFault", ErrInvalidUserPointer, nil)
	require.Equal(t, "vmfault.HandleFault: "+ErrInvalidUserPointer.Error(), err.Error())
}
