package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rmacdonaldsmith/pumprelay-go/internal/config"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseServeFlags(t *testing.T, args ...string) (*cobra.Command, overrides) {
	t.Helper()
	var o overrides
	cmd := &cobra.Command{Use: "serve"}
	bindServeFlags(cmd.Flags(), &o)
	require.NoError(t, cmd.ParseFlags(args))
	return cmd, o
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Equal(t, "pumprelay v0.1.0\n", out.String())
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("PUMPRELAY_SECRET", "env-secret")
	cmd, o := parseServeFlags(t)

	cfg, err := loadConfig(cmd, o)
	require.NoError(t, err)
	assert.Equal(t, "env-secret", cfg.HTTP.SecretKey)
	assert.Equal(t, config.BackendSim, cfg.Pump.Backend)
	assert.Empty(t, cfg.Transport.Nodes)
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
node:
  id: from-file
http:
  listen_address: ":7000"
  secret_key: file-secret
pump:
  backend: bluez
`), 0o600))

	cmd, o := parseServeFlags(t,
		"--config", path,
		"--node-id", "from-flag",
		"--backend", "sim",
		"--host", "http://10.0.0.5:8081",
		"--host", "http://10.0.0.6:8081",
	)

	cfg, err := loadConfig(cmd, o)
	require.NoError(t, err)
	assert.Equal(t, "from-flag", cfg.Node.ID)
	assert.Equal(t, "from-flag", cfg.Transport.ClientID)
	assert.Equal(t, ":7000", cfg.HTTP.ListenAddress)
	assert.Equal(t, "file-secret", cfg.HTTP.SecretKey)
	assert.Equal(t, config.BackendSim, cfg.Pump.Backend)
	require.Len(t, cfg.Transport.Nodes, 2)
	assert.Equal(t, "http://10.0.0.6:8081", cfg.Transport.Nodes[1].URL)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("PUMPRELAY_SECRET", "")

	cmd, o := parseServeFlags(t)
	_, err := loadConfig(cmd, o)
	assert.Error(t, err, "secret is required without --no-auth")

	cmd, o = parseServeFlags(t, "--no-auth", "--backend", "usb")
	_, err = loadConfig(cmd, o)
	assert.ErrorIs(t, err, config.ErrUnknownBackend)

	cmd, o = parseServeFlags(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err = loadConfig(cmd, o)
	assert.Error(t, err)
}
