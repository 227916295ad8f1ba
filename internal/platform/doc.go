// Package platform owns the in-process view of kernel network links.
//
// # Overview
//
// A Platform combines four pieces:
//
//   - a [Transport] that issues link mutations to the kernel and yields
//     raw notifications ([NetlinkTransport] on Linux, [FakeTransport] for
//     tests and dry runs)
//   - a [Cache], the authoritative snapshot of every link keyed by handle
//     (the kernel ifindex), mutated only through [Cache.Apply]
//   - a [Notifier] publishing added/changed/removed events whenever the
//     cache changes, whatever the cause
//   - the operations API on [Platform], which validates requests against
//     the cache, calls the transport and waits until the cache reflects the
//     result before returning
//
// There is no background goroutine touching the cache. Notifications are
// drained explicitly, either by a mutation waiting for its own effect or by
// [Platform.Process] for changes made by other processes.
//
// # Events
//
// Every state-changing operation publishes exactly one event per affected
// handle. Enslave and release touch the slave and its master and publish
// one event for each. Operations that do not change a link (re-enslaving to
// the same master, setting an already-up link up, option writes) publish
// nothing.
//
// # Link types
//
// Type-specific behavior is driven by a capability table rather than by
// branching in the operations: whether a type aggregates slaves, whether it
// can be created, whether enslaving brings the slave up, default ARP state
// and the option keys valid in master and slave scope. See [Capabilities].
//
// # Example
//
//	t, err := platform.NewNetlinkTransport(platform.NetlinkOptions{})
//	if err != nil {
//	    return err
//	}
//	p, err := platform.New(ctx, t, platform.Options{})
//	if err != nil {
//	    return err
//	}
//	br, err := p.AddBridge(ctx, "br0")
//	d, err := p.AddDummy(ctx, "dummy0")
//	err = p.Enslave(ctx, br, d)
package platform
