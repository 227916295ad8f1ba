package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleHCL = `
platform {
  backend      = "fake"
  wait_timeout = "2s"
  settle_time  = "0s"
}

logging {
  level = "debug"
}

journal {
  path      = "/tmp/linkd.db"
  retention = "24h"
}

link "bond1" {
  type    = "bond"
  up      = true
  options = {
    mode   = "active-backup"
    miimon = 100
  }
}

link "eth1" {
  type          = "ethernet"
  master        = "bond1"
  slave_type    = "bond"
  slave_options = { queue_id = 1 }
}
`

func TestLoadHCL(t *testing.T) {
	cfg, err := LoadHCL([]byte(sampleHCL), "test.hcl")
	require.NoError(t, err)

	assert.Equal(t, BackendFake, cfg.Platform.Backend)
	assert.Equal(t, 2*time.Second, cfg.Platform.WaitTimeoutDuration())
	assert.Equal(t, time.Duration(0), cfg.Platform.SettleTimeDuration())
	assert.True(t, cfg.Platform.ShouldPruneImplicitBond())
	assert.Equal(t, DefaultEventQueueLimit, cfg.Platform.EventQueueLimit)
	assert.Equal(t, "debug", cfg.Logging.Level)
	require.NotNil(t, cfg.Metrics)
	require.NotNil(t, cfg.Journal)
	assert.Equal(t, "/tmp/linkd.db", cfg.Journal.Path)
	assert.Equal(t, 24*time.Hour, cfg.Journal.RetentionDuration())

	require.Len(t, cfg.Links, 2)
	bond := cfg.Link("bond1")
	require.NotNil(t, bond)
	require.NotNil(t, bond.Up)
	assert.True(t, *bond.Up)

	opts, err := bond.MasterOptions()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"mode": "active-backup", "miimon": "100"}, opts)

	eth := cfg.Link("eth1")
	require.NotNil(t, eth)
	assert.Nil(t, eth.Up)
	assert.Equal(t, "bond1", eth.Master)
	slaveOpts, err := eth.SlaveOptionMap()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"queue_id": "1"}, slaveOpts)

	noOpts, err := eth.MasterOptions()
	require.NoError(t, err)
	assert.Nil(t, noOpts)

	assert.Nil(t, cfg.Link("missing"))
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, BackendNetlink, cfg.Platform.Backend)
	assert.Equal(t, DefaultWaitTimeout, cfg.Platform.WaitTimeoutDuration())
	assert.Equal(t, DefaultSettleTime, cfg.Platform.SettleTimeDuration())
	assert.True(t, cfg.Platform.ShouldPruneImplicitBond())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoadJSON(t *testing.T) {
	data := []byte(`{
  "platform": {"backend": "fake", "prune_implicit_bond": false},
  "link": {
    "br0": {"type": "bridge", "options": {"stp_state": 0, "forward_delay": "1500"}}
  }
}`)
	cfg, err := LoadJSON(data, "test.json")
	require.NoError(t, err)

	assert.False(t, cfg.Platform.ShouldPruneImplicitBond())
	br := cfg.Link("br0")
	require.NotNil(t, br)
	assert.Equal(t, "bridge", br.Type)
	opts, err := br.MasterOptions()
	require.NoError(t, err)
	assert.Equal(t, "0", opts["stp_state"])
	assert.Equal(t, "1500", opts["forward_delay"])
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	hclPath := filepath.Join(dir, "linkd.hcl")
	require.NoError(t, os.WriteFile(hclPath, []byte(sampleHCL), 0644))
	cfg, err := LoadFile(hclPath)
	require.NoError(t, err)
	assert.Len(t, cfg.Links, 2)

	// Unknown extension falls back to JSON.
	confPath := filepath.Join(dir, "linkd.conf")
	require.NoError(t, os.WriteFile(confPath, []byte(`{"logging": {"level": "warn"}}`), 0644))
	cfg, err = LoadFile(confPath)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)

	_, err = LoadFile(filepath.Join(dir, "missing.hcl"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		hcl   string
		field string
	}{
		{
			name:  "unknown backend",
			hcl:   `platform { backend = "ioctl" }`,
			field: "platform.backend",
		},
		{
			name:  "bad duration",
			hcl:   `platform { wait_timeout = "soon" }`,
			field: "platform.wait_timeout",
		},
		{
			name:  "zero wait",
			hcl:   `platform { wait_timeout = "0s" }`,
			field: "platform.wait_timeout",
		},
		{
			name:  "bad retention",
			hcl:   `journal { retention = "-1h" }`,
			field: "journal.retention",
		},
		{
			name:  "bad level",
			hcl:   `logging { level = "loud" }`,
			field: "logging.level",
		},
		{
			name:  "unknown type",
			hcl:   `link "x0" { type = "wifi" }`,
			field: `link["x0"].type`,
		},
		{
			name:  "name too long",
			hcl:   `link "averyveryverylongname" { type = "dummy" }`,
			field: `link["averyveryverylongname"]`,
		},
		{
			name: "duplicate",
			hcl: `
link "d0" { type = "dummy" }
link "d0" { type = "dummy" }`,
			field: `link["d0"]`,
		},
		{
			name: "master not aggregating",
			hcl: `
link "d0" { type = "dummy" }
link "d1" {
  type   = "dummy"
  master = "d0"
}`,
			field: `link["d1"].master`,
		},
		{
			name: "slave type mismatch",
			hcl: `
link "br0" { type = "bridge" }
link "d1" {
  type       = "dummy"
  master     = "br0"
  slave_type = "bond"
}`,
			field: `link["d1"].master`,
		},
		{
			name: "self master",
			hcl: `
link "br0" {
  type   = "bridge"
  master = "br0"
}`,
			field: `link["br0"].master`,
		},
		{
			name: "slave options without master",
			hcl: `
link "d0" {
  type          = "dummy"
  slave_options = { priority = 1 }
}`,
			field: `link["d0"]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadHCL([]byte(tt.hcl), "test.hcl")
			require.Error(t, err)

			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs), "expected ValidationErrors, got %v", err)
			fields := make([]string, 0, len(verrs))
			for _, v := range verrs {
				fields = append(fields, v.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestValidateExternalMaster(t *testing.T) {
	// A master that is not declared is resolved at apply time.
	_, err := LoadHCL([]byte(`
link "d1" {
  type   = "dummy"
  master = "br-existing"
}`), "test.hcl")
	assert.NoError(t, err)
}

func TestParseError(t *testing.T) {
	_, err := LoadHCL([]byte(`link "x" {`), "broken.hcl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HCL parse error")
}

func TestEncodeLinks(t *testing.T) {
	up := true
	links := []LinkConfig{
		{
			Name:    "br0",
			Type:    "bridge",
			Up:      &up,
			Options: OptionsValue(map[string]string{"stp_state": "0", "priority": "4096"}),
		},
		{
			Name:         "d0",
			Type:         "dummy",
			Master:       "br0",
			SlaveOptions: OptionsValue(map[string]string{"path_cost": "10"}),
		},
	}

	out := EncodeLinks(links)
	cfg, err := LoadHCL(out, "export.hcl")
	require.NoError(t, err, string(out))
	require.Len(t, cfg.Links, 2)

	br := cfg.Link("br0")
	require.NotNil(t, br)
	require.NotNil(t, br.Up)
	assert.True(t, *br.Up)
	opts, err := br.MasterOptions()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"stp_state": "0", "priority": "4096"}, opts)

	d0 := cfg.Link("d0")
	require.NotNil(t, d0)
	assert.Equal(t, "br0", d0.Master)
	slaveOpts, err := d0.SlaveOptionMap()
	require.NoError(t, err)
	assert.Equal(t, "10", slaveOpts["path_cost"])
}

func TestOptionMapRejectsNonObject(t *testing.T) {
	_, err := LoadHCL([]byte(`
link "b0" {
  type    = "bond"
  options = ["mode"]
}`), "test.hcl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "options")
}
