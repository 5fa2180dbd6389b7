package lending

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{ErrInvalid("x"), 400},
		{ErrNotOwner(), 403},
		{ErrNotFound("x"), 404},
		{ErrLimitReached(3), 409},
		{ErrNoCopies(), 409},
		{ErrInvalidTransition("x"), 409},
		{ErrTransient("x"), 503},
		{ErrUnavailable("x"), 503},
		{ErrInventoryInvariant("x"), 500},
		{ErrInternal("x"), 500},
		{errors.New("plain"), 500},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, toHTTPStatus(c.err), "err=%v", c.err)
	}
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeNoCopies, CodeOf(ErrNoCopies()))
	// ラップされていても取り出せる
	wrapped := fmt.Errorf("borrow: %w", ErrLimitReached(2))
	assert.Equal(t, CodeLimitReached, CodeOf(wrapped))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
}

func TestIsTransientErr(t *testing.T) {
	assert.True(t, isTransientErr(ErrTransient("deadlock")))
	assert.False(t, isTransientErr(ErrUnavailable("down")))
	assert.False(t, isTransientErr(nil))
}
