package platform

import (
	"fmt"
	"strings"
)

// LinkType is the closed set of link kinds the platform knows about.
type LinkType int

const (
	LinkTypeNone LinkType = iota
	LinkTypeLoopback
	LinkTypeEthernet
	LinkTypeDummy
	LinkTypeBridge
	LinkTypeBond
	LinkTypeTeam
	LinkTypeVLAN
	LinkTypeVeth
	LinkTypeTun
	LinkTypeUnknown
)

// Capabilities describes the behavior shared by every link of one type.
type Capabilities struct {
	Name string

	// Aggregating types can be masters.
	Aggregating bool

	// Virtual types can be created with AddVirtual.
	Virtual bool

	CarrierDetect bool
	VLANs         bool

	// DefaultARP is the ARP flag the kernel assigns on creation.
	DefaultARP bool

	// AutoUpSlaves types bring a slave up when it is enslaved and take it
	// down again when it is released.
	AutoUpSlaves bool

	// SlavesDown types refuse to enslave a link that is up.
	SlavesDown bool

	// MasterOptions are the option keys valid on a link of this type.
	MasterOptions []string

	// SlaveOptions are the option keys valid on a link enslaved to a
	// master of this type.
	SlaveOptions []string
}

var capabilities = map[LinkType]Capabilities{
	LinkTypeNone: {Name: "none"},
	LinkTypeLoopback: {
		Name:          "loopback",
		CarrierDetect: true,
	},
	LinkTypeEthernet: {
		Name:          "ethernet",
		CarrierDetect: true,
		VLANs:         true,
		DefaultARP:    true,
	},
	LinkTypeDummy: {
		Name:    "dummy",
		Virtual: true,
		VLANs:   true,
	},
	LinkTypeBridge: {
		Name:        "bridge",
		Aggregating: true,
		Virtual:     true,
		VLANs:       true,
		DefaultARP:  true,
		MasterOptions: []string{
			"forward_delay", "hello_time", "max_age",
			"stp_state", "priority", "ageing_time",
		},
		SlaveOptions: []string{"priority", "path_cost", "hairpin_mode"},
	},
	LinkTypeBond: {
		Name:         "bond",
		Aggregating:  true,
		Virtual:      true,
		VLANs:        true,
		DefaultARP:   true,
		AutoUpSlaves: true,
		SlavesDown:   true,
		MasterOptions: []string{
			"mode", "miimon", "updelay", "downdelay", "arp_interval",
			"primary", "lacp_rate", "xmit_hash_policy",
		},
		SlaveOptions: []string{"queue_id"},
	},
	LinkTypeTeam: {
		Name:         "team",
		Aggregating:  true,
		Virtual:      true,
		VLANs:        true,
		DefaultARP:   true,
		AutoUpSlaves: true,
		SlavesDown:   true,
	},
	LinkTypeVLAN: {
		Name:       "vlan",
		VLANs:      true,
		DefaultARP: true,
	},
	LinkTypeVeth: {
		Name:          "veth",
		CarrierDetect: true,
		VLANs:         true,
		DefaultARP:    true,
	},
	LinkTypeTun: {
		Name:       "tun",
		DefaultARP: true,
	},
	LinkTypeUnknown: {Name: "unknown"},
}

// Capabilities returns the capability row for the type.
func (t LinkType) Capabilities() Capabilities {
	if c, ok := capabilities[t]; ok {
		return c
	}
	return capabilities[LinkTypeUnknown]
}

func (t LinkType) String() string {
	return t.Capabilities().Name
}

// IsAggregating reports whether links of this type can have slaves.
func (t LinkType) IsAggregating() bool {
	return t.Capabilities().Aggregating
}

// ParseLinkType maps a type name ("bridge", "bond", ...) to its LinkType.
func ParseLinkType(s string) (LinkType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, c := range capabilities {
		if t != LinkTypeNone && t != LinkTypeUnknown && c.Name == s {
			return t, nil
		}
	}
	return LinkTypeNone, fmt.Errorf("unknown link type %q", s)
}

func hasKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

// Link is a snapshot of one kernel link. Values returned by the platform
// are copies; mutating them has no effect on the cache.
type Link struct {
	Handle       int
	Name         string
	Type         LinkType
	Up           bool
	ARP          bool
	Carrier      bool
	MTU          int
	HardwareAddr string

	// Master is the handle of the aggregating master, 0 when unattached.
	Master int

	// Slaves lists the handles enslaved to this link, ascending.
	// Derived by the cache.
	Slaves []int

	// Connected is Up && Carrier for ordinary links. A master is connected
	// when it is up and at least one slave is connected. Derived by the cache.
	Connected bool

	CarrierDetect bool
	VLANs         bool
}

// Equal reports whether two snapshots are identical.
func (l Link) Equal(o Link) bool {
	if l.Handle != o.Handle ||
		l.Name != o.Name ||
		l.Type != o.Type ||
		l.Up != o.Up ||
		l.ARP != o.ARP ||
		l.Carrier != o.Carrier ||
		l.MTU != o.MTU ||
		l.HardwareAddr != o.HardwareAddr ||
		l.Master != o.Master ||
		l.Connected != o.Connected ||
		l.CarrierDetect != o.CarrierDetect ||
		l.VLANs != o.VLANs {
		return false
	}
	if len(l.Slaves) != len(o.Slaves) {
		return false
	}
	for i := range l.Slaves {
		if l.Slaves[i] != o.Slaves[i] {
			return false
		}
	}
	return true
}

// clone returns a copy that shares no memory with l.
func (l Link) clone() Link {
	if l.Slaves != nil {
		l.Slaves = append([]int(nil), l.Slaves...)
	}
	return l
}

func (l Link) String() string {
	var flags []string
	if l.Up {
		flags = append(flags, "UP")
	}
	if l.Carrier {
		flags = append(flags, "LOWER_UP")
	}
	if !l.ARP {
		flags = append(flags, "NOARP")
	}
	s := fmt.Sprintf("%d: %s <%s> type %s mtu %d", l.Handle, l.Name, strings.Join(flags, ","), l.Type, l.MTU)
	if l.HardwareAddr != "" {
		s += " addr " + l.HardwareAddr
	}
	if l.Master != 0 {
		s += fmt.Sprintf(" master %d", l.Master)
	}
	if len(l.Slaves) > 0 {
		s += fmt.Sprintf(" slaves %v", l.Slaves)
	}
	if l.Connected {
		s += " connected"
	}
	return s
}
