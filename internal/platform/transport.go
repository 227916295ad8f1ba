package platform

import (
	"context"
	"time"
)

// OptionScope selects which option namespace a key belongs to.
type OptionScope int

const (
	// ScopeMaster options configure an aggregating link itself
	// (bridge forward_delay, bond mode).
	ScopeMaster OptionScope = iota + 1

	// ScopeSlave options configure a link's membership in its master
	// (bridge port priority, bond queue_id).
	ScopeSlave
)

func (s OptionScope) String() string {
	switch s {
	case ScopeMaster:
		return "master"
	case ScopeSlave:
		return "slave"
	default:
		return "unknown"
	}
}

// LinkSpec describes a link to create.
type LinkSpec struct {
	Name string
	Type LinkType
}

// Patch is a partial link update. Nil fields are left unchanged.
// A Master of 0 detaches the link from its master.
type Patch struct {
	Up     *bool
	ARP    *bool
	Master *int
}

// Transport issues link mutations and yields notifications about changes
// made by anyone. Every successful mutation must eventually be visible
// through Poll; events are never dropped silently.
//
// Errors are reported with the platform taxonomy: a name collision is
// KindAlreadyExists, an unknown handle KindNotFound, a kernel refusal of the
// requested state KindInvalidOperation, and anything else
// KindTransportFailure carrying the errno.
type Transport interface {
	Create(ctx context.Context, spec LinkSpec) (int, error)
	Modify(ctx context.Context, handle int, patch Patch) error
	Delete(ctx context.Context, handle int) error

	// Poll returns pending notifications. When none are pending it waits up
	// to wait for the first one; a zero wait never blocks.
	Poll(ctx context.Context, wait time.Duration) ([]RawEvent, error)

	// Dump returns every link currently known to the kernel.
	Dump(ctx context.Context) ([]Link, error)

	GetOption(ctx context.Context, handle int, scope OptionScope, key string) (string, error)
	SetOption(ctx context.Context, handle int, scope OptionScope, key, value string) error

	Close() error
}

func boolPtr(b bool) *bool { return &b }

func intPtr(i int) *int { return &i }
