package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("CHAT_TEST_STR", "value")
	t.Setenv("CHAT_TEST_INT", "42")
	t.Setenv("CHAT_TEST_BAD_INT", "forty-two")
	t.Setenv("CHAT_TEST_DUR", "1500ms")
	t.Setenv("CHAT_TEST_BOOL", "true")

	assert.Equal(t, "value", GetEnv("CHAT_TEST_STR", "def"))
	assert.Equal(t, "def", GetEnv("CHAT_TEST_MISSING", "def"))

	assert.Equal(t, 42, GetEnvInt("CHAT_TEST_INT", 1))
	assert.Equal(t, 1, GetEnvInt("CHAT_TEST_BAD_INT", 1))

	assert.Equal(t, 1500*time.Millisecond, GetEnvDuration("CHAT_TEST_DUR", time.Second))
	assert.Equal(t, time.Second, GetEnvDuration("CHAT_TEST_MISSING", time.Second))

	assert.True(t, GetEnvBool("CHAT_TEST_BOOL", false))
	assert.False(t, GetEnvBool("CHAT_TEST_MISSING", false))
}
