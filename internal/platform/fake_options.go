package platform

import (
	"fmt"
	"strconv"
	"strings"
)

// Option defaults and read-back formatting as the kernel's bridge and
// bonding sysfs attributes present them.

var (
	bondModes      = []string{"balance-rr", "active-backup", "balance-xor", "broadcast", "802.3ad", "balance-tlb", "balance-alb"}
	bondLACPRates  = []string{"slow", "fast"}
	bondHashPolicy = []string{"layer2", "layer3+4", "layer2+3", "encap2+3", "encap3+4", "vlan+srcmac"}
)

var masterDefaults = map[LinkType]map[string]string{
	LinkTypeBridge: {
		"forward_delay": "1500",
		"hello_time":    "200",
		"max_age":       "2000",
		"stp_state":     "0",
		"priority":      "32768",
		"ageing_time":   "30000",
	},
	LinkTypeBond: {
		"mode":             "balance-rr 0",
		"miimon":           "0",
		"updelay":          "0",
		"downdelay":        "0",
		"arp_interval":     "0",
		"primary":          "",
		"lacp_rate":        "slow 0",
		"xmit_hash_policy": "layer2 0",
	},
}

// slaveDefaults is keyed by the master's type.
var slaveDefaults = map[LinkType]map[string]string{
	LinkTypeBridge: {
		"priority":     "32",
		"path_cost":    "100",
		"hairpin_mode": "0",
	},
	LinkTypeBond: {
		"queue_id": "0",
	},
}

func copyOptions(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// normalizeEnum accepts a name or its index and returns "name index".
func normalizeEnum(names []string, value string) (string, bool) {
	value = strings.TrimSpace(value)
	for i, n := range names {
		if value == n || value == strconv.Itoa(i) {
			return fmt.Sprintf("%s %d", n, i), true
		}
	}
	return "", false
}

func normalizeUint(value string, max uint64) (string, bool) {
	n, err := strconv.ParseUint(strings.TrimSpace(value), 10, 64)
	if err != nil || n > max {
		return "", false
	}
	return strconv.FormatUint(n, 10), true
}

// normalizeOption validates value for key and returns the form a read
// returns. typ is the master's type for both scopes.
func normalizeOption(typ LinkType, scope OptionScope, key, value string) (string, bool) {
	switch {
	case typ == LinkTypeBond && scope == ScopeMaster:
		switch key {
		case "mode":
			return normalizeEnum(bondModes, value)
		case "lacp_rate":
			return normalizeEnum(bondLACPRates, value)
		case "xmit_hash_policy":
			return normalizeEnum(bondHashPolicy, value)
		case "primary":
			return strings.TrimSpace(value), true
		default:
			return normalizeUint(value, 1<<31-1)
		}
	case typ == LinkTypeBond && scope == ScopeSlave:
		return normalizeUint(value, 1<<16-1)
	case typ == LinkTypeBridge && scope == ScopeMaster:
		switch key {
		case "stp_state":
			return normalizeUint(value, 1)
		case "priority":
			return normalizeUint(value, 1<<16-1)
		default:
			return normalizeUint(value, 1<<32-1)
		}
	case typ == LinkTypeBridge && scope == ScopeSlave:
		switch key {
		case "priority":
			return normalizeUint(value, 63)
		case "hairpin_mode":
			return normalizeUint(value, 1)
		default:
			return normalizeUint(value, 1<<32-1)
		}
	}
	return "", false
}
