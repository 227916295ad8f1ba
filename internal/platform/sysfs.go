package platform

import (
	"os"
	"path/filepath"
	"strings"
)

// SystemController abstracts the sysfs files bridge and bonding options
// live in.
type SystemController interface {
	ReadSysfs(path string) (string, error)
	WriteSysfs(path, value string) error
	IsNotExist(err error) bool
}

// DefaultSysfsRoot is where per-link directories live.
const DefaultSysfsRoot = "/sys/class/net"

// RealSystemController reads and writes files below Root.
type RealSystemController struct {
	Root string
}

func (r *RealSystemController) path(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	root := r.Root
	if root == "" {
		root = DefaultSysfsRoot
	}
	return filepath.Join(root, p)
}

// ReadSysfs reads a sysfs attribute. Paths are relative to Root unless absolute.
func (r *RealSystemController) ReadSysfs(path string) (string, error) {
	data, err := os.ReadFile(r.path(path))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// WriteSysfs writes a sysfs attribute.
func (r *RealSystemController) WriteSysfs(path, value string) error {
	return os.WriteFile(r.path(path), []byte(value), 0644)
}

// IsNotExist reports whether err means the attribute does not exist.
func (r *RealSystemController) IsNotExist(err error) bool {
	return os.IsNotExist(err)
}

// optionFiles returns the attribute to read and the attribute and value to
// write for an option. masterType is the link's own type in ScopeMaster and
// its master's type in ScopeSlave.
func optionFiles(name, masterName string, masterType LinkType, scope OptionScope, key, value string) (read, write, writeValue string, ok bool) {
	switch {
	case scope == ScopeMaster && masterType == LinkTypeBridge:
		p := filepath.Join(name, "bridge", key)
		return p, p, value, true
	case scope == ScopeMaster && masterType == LinkTypeBond:
		p := filepath.Join(name, "bonding", key)
		return p, p, value, true
	case scope == ScopeSlave && masterType == LinkTypeBridge:
		p := filepath.Join(name, "brport", key)
		return p, p, value, true
	case scope == ScopeSlave && masterType == LinkTypeBond:
		// bonding_slave is read-only; queue_id is set through the master.
		return filepath.Join(name, "bonding_slave", key),
			filepath.Join(masterName, "bonding", key),
			name + ":" + value, true
	}
	return "", "", "", false
}
