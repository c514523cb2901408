// Package testing puts test binaries that blank-import it into test mode and
// fills in the secrets the config loader requires.
package testing

import (
	"os"
	stdtesting "testing"
)

var testEnv = [][2]string{
	{"REQTRACK_TEST_MODE", "1"},
	{"SESSION_SECRET", "test-session-secret"},
	{"CSRF_SECRET", "test-csrf-secret"},
	{"RBAC_SEED_ON_START", "false"},
}

func init() {
	for _, kv := range testEnv {
		if _, set := os.LookupEnv(kv[0]); !set || kv[0] == "REQTRACK_TEST_MODE" {
			_ = os.Setenv(kv[0], kv[1])
		}
	}
}

// TestMain runs m after init has prepared the environment.
func TestMain(m *stdtesting.M) {
	os.Exit(m.Run())
}
