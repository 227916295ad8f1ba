//go:build linux

package testutil

import (
	"runtime"
	"testing"

	"github.com/vishvananda/netns"
)

// NewNetns creates a named network namespace for the duration of the test
// and leaves the calling thread in its original namespace.
func NewNetns(t *testing.T, name string) {
	t.Helper()
	RequireVM(t)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	orig, err := netns.Get()
	if err != nil {
		t.Fatalf("get current netns: %v", err)
	}
	ns, err := netns.NewNamed(name)
	if err != nil {
		orig.Close()
		t.Fatalf("create netns %s: %v", name, err)
	}
	if err := netns.Set(orig); err != nil {
		t.Fatalf("restore netns: %v", err)
	}

	t.Cleanup(func() {
		ns.Close()
		orig.Close()
		if err := netns.DeleteNamed(name); err != nil {
			t.Logf("delete netns %s: %v", name, err)
		}
	})
}
