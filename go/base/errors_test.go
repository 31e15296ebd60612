/*
   Copyright 2025 GitHub Inc.
	 See https://github.com/github/gh-ost/blob/master/LICENSE
*/

package base

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorfKinds(t *testing.T) {
	err := Errorf(ErrUnsupportedBinLogFormat, "Unsupported binary log format: %s, only ROW is supported", "MIXED")
	require.EqualError(t, err, "Unsupported binary log format: MIXED, only ROW is supported")
	require.True(t, errors.Is(err, ErrUnsupportedBinLogFormat))
	require.True(t, errors.Is(err, ErrReplicationNotAvailable))
	require.False(t, errors.Is(err, ErrMigrationPreCheck))
	require.False(t, errors.Is(err, ErrGTIDModeDisabled))
	require.Equal(t, ErrUnsupportedBinLogFormat, KindOf(err))
}

func TestErrorfWrapsCause(t *testing.T) {
	err := Errorf(ErrEndpointConnection, "Connection to %s failed: %w", "source", io.ErrUnexpectedEOF)
	require.True(t, errors.Is(err, io.ErrUnexpectedEOF))
	require.True(t, errors.Is(err, ErrEndpointConnection))
	require.True(t, errors.Is(err, ErrMigrationPreCheck))
	require.NotEmpty(t, err.(*MigrationFailure).StackTrace)
}

func TestKindOfPlainError(t *testing.T) {
	require.Nil(t, KindOf(errors.New("boom")))
	require.Nil(t, KindOf(nil))
}

func TestErrorKindWithoutParent(t *testing.T) {
	require.Nil(t, ErrMySQLDump.Unwrap())
	require.Equal(t, "MySQLDump", ErrMySQLDump.Error())
}
