package testutil

import (
	"os"
	"testing"
)

// RequireVM skips the test if the LINKD_VM_TEST environment variable is not set.
// Tests that create and destroy real kernel links only run in a disposable VM.
func RequireVM(t *testing.T) {
	t.Helper()
	if os.Getenv("LINKD_VM_TEST") == "" {
		t.Skip("Skipping test: requires LINKD_VM_TEST environment")
	}
}
