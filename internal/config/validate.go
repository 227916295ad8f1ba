package config

import (
	"fmt"
	"strings"
	"time"

	"grimm.is/linkd/internal/logging"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// LinkTypes lists the type names accepted in link blocks. Kept in sync with
// the platform capability table; "ethernet" and "loopback" may only
// reference existing links.
var LinkTypes = []string{"loopback", "ethernet", "dummy", "bridge", "bond", "team", "vlan", "veth", "tun"}

var aggregatingTypes = map[string]bool{"bridge": true, "bond": true, "team": true}

// MaxNameLen is the kernel's IFNAMSIZ minus the terminator.
const MaxNameLen = 15

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs ValidationErrors

	if p := c.Platform; p != nil {
		switch p.Backend {
		case "", BackendNetlink, BackendFake:
		default:
			errs = append(errs, ValidationError{"platform.backend", fmt.Sprintf("unknown backend %q", p.Backend)})
		}
		errs = append(errs, checkDuration("platform.wait_timeout", p.WaitTimeout, false)...)
		errs = append(errs, checkDuration("platform.settle_time", p.SettleTime, true)...)
		if p.EventQueueLimit < 0 {
			errs = append(errs, ValidationError{"platform.event_queue_limit", "must not be negative"})
		}
		if p.Netns != "" && p.Backend == BackendFake {
			errs = append(errs, ValidationError{"platform.netns", "not supported by the fake backend"})
		}
	}

	if c.Logging != nil {
		if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
			errs = append(errs, ValidationError{"logging.level", err.Error()})
		}
	}

	if c.Journal != nil {
		errs = append(errs, checkDuration("journal.retention", c.Journal.Retention, true)...)
	}

	byName := make(map[string]*LinkConfig, len(c.Links))
	for i := range c.Links {
		l := &c.Links[i]
		field := fmt.Sprintf("link[%q]", l.Name)
		if l.Name == "" || len(l.Name) > MaxNameLen {
			errs = append(errs, ValidationError{field, fmt.Sprintf("name must be 1-%d characters", MaxNameLen)})
		}
		if _, dup := byName[l.Name]; dup {
			errs = append(errs, ValidationError{field, "duplicate link name"})
		}
		byName[l.Name] = l
		if !knownType(l.Type) {
			errs = append(errs, ValidationError{field + ".type", fmt.Sprintf("unknown link type %q", l.Type)})
		}
		if l.SlaveType != "" && !aggregatingTypes[l.SlaveType] {
			errs = append(errs, ValidationError{field + ".slave_type", fmt.Sprintf("%q is not an aggregating type", l.SlaveType)})
		}
		if _, err := l.MasterOptions(); err != nil {
			errs = append(errs, ValidationError{field + ".options", err.Error()})
		}
		if _, err := l.SlaveOptionMap(); err != nil {
			errs = append(errs, ValidationError{field + ".slave_options", err.Error()})
		}
	}

	for i := range c.Links {
		l := &c.Links[i]
		if l.Master == "" {
			if l.SlaveType != "" || !l.SlaveOptions.IsNull() {
				errs = append(errs, ValidationError{fmt.Sprintf("link[%q]", l.Name), "slave settings without master"})
			}
			continue
		}
		field := fmt.Sprintf("link[%q].master", l.Name)
		if l.Master == l.Name {
			errs = append(errs, ValidationError{field, "link cannot be its own master"})
			continue
		}
		// Masters outside the config are resolved against the kernel at apply time.
		m, ok := byName[l.Master]
		if !ok {
			continue
		}
		if !aggregatingTypes[m.Type] {
			errs = append(errs, ValidationError{field, fmt.Sprintf("%q is a %s, not an aggregating link", m.Name, m.Type)})
		} else if l.SlaveType != "" && l.SlaveType != m.Type {
			errs = append(errs, ValidationError{field, fmt.Sprintf("slave_type %q does not match master type %q", l.SlaveType, m.Type)})
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func knownType(t string) bool {
	for _, k := range LinkTypes {
		if k == t {
			return true
		}
	}
	return false
}

func checkDuration(field, s string, allowZero bool) ValidationErrors {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return ValidationErrors{{field, fmt.Sprintf("invalid duration %q", s)}}
	}
	if d < 0 || (d == 0 && !allowZero) {
		return ValidationErrors{{field, fmt.Sprintf("duration %q out of range", s)}}
	}
	return nil
}
