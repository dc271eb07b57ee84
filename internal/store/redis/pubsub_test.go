package redis_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	redisstore "github.com/gosuda/acplink/internal/store/redis"
)

func TestSessionChannel(t *testing.T) {
	t.Parallel()

	t.Run("happy path", func(t *testing.T) {
		t.Parallel()

		got := redisstore.SessionChannel("sess-1")
		assert.Equal(t, "acplink:session:sess-1", got)
	})

	t.Run("prefix", func(t *testing.T) {
		t.Parallel()

		got := redisstore.SessionChannel("sess-1")
		assert.True(t, strings.HasPrefix(got, "acplink:session:"), "expected prefix 'acplink:session:', got %q", got)
	})

	t.Run("different sessions produce different channels", func(t *testing.T) {
		t.Parallel()

		a := redisstore.SessionChannel("sess-1")
		b := redisstore.SessionChannel("sess-2")
		assert.NotEqual(t, a, b)
	})

	t.Run("no collision with global channel", func(t *testing.T) {
		t.Parallel()

		assert.NotEqual(t, redisstore.GlobalChannel(), redisstore.SessionChannel(""))
	})
}
