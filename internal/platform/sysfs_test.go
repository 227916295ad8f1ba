package platform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealSystemController(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "br0", "bridge")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "forward_delay"), []byte("1500\n"), 0644))

	r := &RealSystemController{Root: root}
	v, err := r.ReadSysfs("br0/bridge/forward_delay")
	require.NoError(t, err)
	assert.Equal(t, "1500", v)

	require.NoError(t, r.WriteSysfs("br0/bridge/forward_delay", "789"))
	v, err = r.ReadSysfs(filepath.Join(dir, "forward_delay"))
	require.NoError(t, err)
	assert.Equal(t, "789", v)

	_, err = r.ReadSysfs("br0/bridge/missing")
	assert.True(t, r.IsNotExist(err))

	def := &RealSystemController{}
	assert.Equal(t, "/sys/class/net/eth0/speed", def.path("eth0/speed"))
}

func TestOptionFiles(t *testing.T) {
	tests := []struct {
		name               string
		owner              string
		ownerType          LinkType
		scope              OptionScope
		read, write, value string
		ok                 bool
	}{
		{"br0", "br0", LinkTypeBridge, ScopeMaster, "br0/bridge/stp_state", "br0/bridge/stp_state", "1", true},
		{"bond1", "bond1", LinkTypeBond, ScopeMaster, "bond1/bonding/stp_state", "bond1/bonding/stp_state", "1", true},
		{"eth0", "br0", LinkTypeBridge, ScopeSlave, "eth0/brport/stp_state", "eth0/brport/stp_state", "1", true},
		{"eth0", "bond1", LinkTypeBond, ScopeSlave, "eth0/bonding_slave/stp_state", "bond1/bonding/stp_state", "eth0:1", true},
		{"team0", "team0", LinkTypeTeam, ScopeMaster, "", "", "", false},
		{"d0", "d0", LinkTypeDummy, ScopeSlave, "", "", "", false},
	}
	for _, tt := range tests {
		read, write, value, ok := optionFiles(tt.name, tt.owner, tt.ownerType, tt.scope, "stp_state", "1")
		assert.Equal(t, tt.ok, ok, "%s %s", tt.ownerType, tt.scope)
		assert.Equal(t, tt.read, read)
		assert.Equal(t, tt.write, write)
		assert.Equal(t, tt.value, value)
	}
}
