// Package testutil holds helpers shared by tests across packages.
package testutil

import (
	"os"
	"testing"
)

// SkipIfNoNetwork skips the test if BACKLOT_TEST_SKIP_NETWORK is set.
// Use this for tests that listen on loopback TCP, which sandboxed
// environments may not allow.
func SkipIfNoNetwork(t *testing.T) {
	t.Helper()
	if os.Getenv("BACKLOT_TEST_SKIP_NETWORK") != "" {
		t.Skip("skipping network test: BACKLOT_TEST_SKIP_NETWORK is set")
	}
}
