// Package config handles linkd configuration parsing and validation.
//
// Configuration is written in HCL (or the equivalent JSON syntax) and has
// four singleton blocks plus any number of link blocks:
//
//	platform {
//	  backend             = "netlink"   # or "fake"
//	  netns               = "test-ns"
//	  wait_timeout        = "5s"
//	  settle_time         = "20ms"
//	  prune_implicit_bond = true
//	}
//
//	logging { level = "debug" }
//	metrics { listen = ":9465" }
//	journal {
//	  path      = "/var/lib/linkd/events.db"
//	  retention = "720h"
//	}
//
//	link "bond1" {
//	  type    = "bond"
//	  up      = true
//	  options = { mode = "active-backup", miimon = 100 }
//	}
//
//	link "eth1" {
//	  type          = "ethernet"
//	  master        = "bond1"
//	  slave_options = { queue_id = 1 }
//	}
//
// Option maps accept strings, numbers and booleans; values are converted
// to their string form before they reach the platform layer.
package config
