package platform

import (
	"grimm.is/linkd/internal/logging"
	"grimm.is/linkd/internal/metrics"
)

// CarrierProbe reports whether a device can detect carrier. Only physical
// devices need probing; every other type takes the capability table's value.
type CarrierProbe interface {
	SupportsCarrierDetect(name string) bool
}

// NetlinkOptions configures a NetlinkTransport.
type NetlinkOptions struct {
	// Netns is the named network namespace to operate in; empty for the
	// current one.
	Netns string

	// QueueLimit sizes the notification buffer. When the kernel overruns
	// it the transport resynchronizes with a full dump.
	QueueLimit int

	// System defaults to a RealSystemController on /sys/class/net.
	System SystemController

	// Probe defaults to an ethtool-based probe.
	Probe CarrierProbe

	Logger  *logging.Logger
	Metrics *metrics.Registry
}

// DefaultQueueLimit is the default notification buffer size.
const DefaultQueueLimit = 4096
