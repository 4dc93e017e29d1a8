package mongoerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodeNameKnownAndUnknown(t *testing.T) {
	require.Equal(t, "BadValue", CodeBadValue.Name())
	require.Equal(t, "CursorInUse", CodeCursorInUse.Name())
	require.Equal(t, "UnknownError", Code(99999).Name())
}

func TestErrorMessageWithAndWithoutCause(t *testing.T) {
	plain := New(CodeBadValue, "bad filter: %s", "$foo")
	require.Equal(t, "BadValue: bad filter: $foo", plain.Error())

	wrapped := Wrap(CodeInternalError, errors.New("disk full"), "insert failed")
	require.Equal(t, "InternalError: insert failed: disk full", wrapped.Error())
	require.Equal(t, "disk full", wrapped.Unwrap().Error())
}

func TestConstructorsSetExpectedCodes(t *testing.T) {
	cases := []struct {
		name string
		err  *Error
		code Code
	}{
		{"BadValue", BadValue("x"), CodeBadValue},
		{"FailedToParse", FailedToParse("x"), CodeFailedToParse},
		{"NamespaceNotFound", NamespaceNotFound("db.coll"), CodeNamespaceNotFound},
		{"ReadOnlyOperation", ReadOnlyOperation("update"), CodeReadOnlyOperation},
		{"CursorNotFound", CursorNotFound(7), CodeCursorNotFound},
		{"CursorInUse", CursorInUse(7), CodeCursorInUse},
		{"Aborted", Aborted("find"), CodeAborted},
		{"ExceededTimeLimit", ExceededTimeLimit("find"), CodeExceededTimeLimit},
		{"HostUnreachable", HostUnreachable(errors.New("boom")), CodeHostUnreachable},
		{"CommandNotFound", CommandNotFound("bogus"), CodeCommandNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.code, tc.err.Code)
		})
	}
}

func TestAsUnwrapsThroughFmtErrorf(t *testing.T) {
	base := BadValue("nope")
	wrapped := fmt.Errorf("context: %w", base)

	found, ok := As(wrapped)
	require.True(t, ok)
	require.Equal(t, CodeBadValue, found.Code)
}

func TestAsReportsFalseForOrdinaryError(t *testing.T) {
	_, ok := As(errors.New("plain"))
	require.False(t, ok)
}
