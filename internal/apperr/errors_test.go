package apperr

import (
	"database/sql"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	err := New(NotFound, "policy %s not found", "p1")
	assert.Equal(t, NotFound, KindOf(err))
	assert.Equal(t, "policy p1 not found", Message(err))

	wrapped := fmt.Errorf("loading: %w", err)
	assert.True(t, Is(wrapped, NotFound))

	assert.Equal(t, Internal, KindOf(sql.ErrConnDone))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestWrapHidesCause(t *testing.T) {
	err := Wrap(sql.ErrConnDone, "load enrollment")
	require.Error(t, err)
	assert.Equal(t, Internal, KindOf(err))
	assert.Equal(t, "internal server error", Message(err))
	assert.ErrorIs(t, err, sql.ErrConnDone)

	// Already-classified errors pass through untouched.
	orig := New(InvalidState, "command is not pending")
	assert.Same(t, orig, Wrap(orig, "cancel"))
	assert.NoError(t, Wrap(nil, "noop"))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		Unauthenticated: http.StatusUnauthorized,
		Unauthorized:    http.StatusForbidden,
		NotFound:        http.StatusNotFound,
		InvalidState:    http.StatusConflict,
		InvalidArgument: http.StatusBadRequest,
		PrecheckFailed:  http.StatusPreconditionFailed,
		Internal:        http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, HTTPStatus(kind), kind)
	}
}

func TestReason(t *testing.T) {
	err := WithReason(InvalidState, "expired", "enrollment token expired")
	assert.Equal(t, "expired", ReasonOf(fmt.Errorf("provision: %w", err)))
	assert.Equal(t, InvalidState, KindOf(err))
	assert.Empty(t, ReasonOf(New(NotFound, "x")))
	assert.Empty(t, ReasonOf(sql.ErrNoRows))
}
