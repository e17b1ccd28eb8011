// File: api/protocol/protocol_test.go
package protocol

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageKind(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
		want Kind
	}{
		{"ResponseByID", Message{ID: 7}, KindResponse},
		{"CreateIsLifecycle", Message{GUID: "b1", Method: MethodCreate}, KindLifecycle},
		{"DisposeIsLifecycle", Message{GUID: "b1", Method: MethodDispose}, KindLifecycle},
		{"AnythingElseIsEvent", Message{GUID: "p1", Method: "console"}, KindEvent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.msg.Kind())
		})
	}
}

func TestErrorFormatting(t *testing.T) {
	t.Run("LaunchErrorUnwraps", func(t *testing.T) {
		cause := errors.New("permission denied")
		err := &LaunchError{Path: "/opt/driver", Err: cause}
		assert.Contains(t, err.Error(), "/opt/driver")
		assert.ErrorIs(t, err, cause)
	})

	t.Run("ConnectionClosedWithAndWithoutCause", func(t *testing.T) {
		assert.Equal(t, "connection closed (driver exited)",
			(&ConnectionClosedError{Reason: "driver exited"}).Error())

		cause := errors.New("broken pipe")
		err := &ConnectionClosedError{Reason: "driver connection lost", Cause: cause}
		assert.Contains(t, err.Error(), "broken pipe")
		assert.ErrorIs(t, err, cause)
	})

	t.Run("TimeoutErrorNamesTheCall", func(t *testing.T) {
		err := &TimeoutError{Method: "goto", GUID: "page-1", Cause: fmt.Errorf("context deadline exceeded")}
		assert.Contains(t, err.Error(), "goto")
		assert.Contains(t, err.Error(), "page-1")
	})
}

func TestRemoteErrorTrail(t *testing.T) {
	re := &RemoteError{Name: "TargetClosedError", Message: "page crashed"}

	err := WithFrame(re, "click", "frame-2")
	err = WithFrame(err, "goto", "page-1")
	err = WithFrame(err, "initialize", RootGUID)

	got, ok := err.(*RemoteError)
	require.True(t, ok)
	require.Len(t, got.Trail, 3)

	msg := got.Error()
	assert.Contains(t, msg, "TargetClosedError: page crashed")
	assert.Contains(t, msg, "click@frame-2 <- goto@page-1 <- initialize")
	assert.NotContains(t, msg, "initialize@", "root frames render without a guid suffix")
}

func TestWithFramePassesOtherErrorsThrough(t *testing.T) {
	plain := errors.New("not remote")
	assert.Equal(t, plain, WithFrame(plain, "goto", "page-1"))
}
