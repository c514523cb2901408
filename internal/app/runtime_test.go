package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTestModeFlag(t *testing.T) {
	t.Setenv(testModeEnv, "true")
	RefreshTestMode()
	assert.True(t, InTestMode())

	t.Setenv(testModeEnv, "nope")
	RefreshTestMode()
	assert.False(t, InTestMode())

	t.Setenv(testModeEnv, "0")
	RefreshTestMode()
	assert.False(t, InTestMode())
}
