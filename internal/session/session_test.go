package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestState_Authenticated(t *testing.T) {
	now := time.Now()

	assert.False(t, New(now).Authenticated())
	assert.False(t, (*State)(nil).Authenticated())

	sess := New(now)
	sess.Identity = &Identity{SubjectID: "user-1"}
	assert.True(t, sess.Authenticated())
}

func TestState_ConsumeNonce(t *testing.T) {
	t.Run("nonce is single use", func(t *testing.T) {
		sess := New(time.Now())
		sess.OIDCNonce = "nonce-1"

		nonce, ok := sess.ConsumeNonce()
		assert.True(t, ok)
		assert.Equal(t, "nonce-1", nonce)
		assert.Empty(t, sess.OIDCNonce)

		_, ok = sess.ConsumeNonce()
		assert.False(t, ok, "second consumption must report absence")
	})

	t.Run("no pending nonce", func(t *testing.T) {
		_, ok := New(time.Now()).ConsumeNonce()
		assert.False(t, ok)
	})
}
