package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/opd-ai/meshlink/config"
	"github.com/opd-ai/meshlink/transport"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestHelp(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "network-attached mesh radio")
	assert.Contains(t, out, "--config")
	assert.Contains(t, out, "--address")
}

func TestConfigCommandMergesFileAndFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meshlinkd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("radio:\n  address: 10.1.1.1\nservice:\n  sleep_grace: 45s\n"), 0o600))

	out, err := execute(t, "config", "--config", path, "--listen", ":9999")
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &cfg), out)
	assert.Equal(t, "10.1.1.1", cfg.Radio.Address)
	assert.Equal(t, 45*time.Second, cfg.Service.SleepGrace)
	assert.Equal(t, ":9999", cfg.HTTP.Listen)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestConfigCommandRejectsBadLogLevel(t *testing.T) {
	_, err := execute(t, "config", "--log-level", "loud")
	assert.Error(t, err)
}

func TestOpenLinkDefaultsToTCP(t *testing.T) {
	cfg := config.Default()
	cfg.Radio.Address = "192.168.4.1"
	cfg.Service.EarlyBufferSize = 12

	link, err := openLink(cfg.Radio)
	require.NoError(t, err)
	assert.IsType(t, &transport.TCP{}, link.transport)
	assert.Equal(t, "192.168.4.1:4403", link.name)

	opts := serviceOptions(cfg, link)
	assert.Equal(t, 12, opts.EarlyBufferSize)
	assert.Equal(t, cfg.Service.ResponseTimeout, opts.ResponseTimeout)
	assert.Equal(t, "t192.168.4.1:4403", opts.TransportKey)
}

func TestOpenLinkUsesDevice(t *testing.T) {
	dev := filepath.Join(t.TempDir(), "radio")
	require.NoError(t, os.WriteFile(dev, nil, 0o600))

	link, err := openLink(config.Radio{Address: "ignored", Device: dev})
	require.NoError(t, err)
	stream, ok := link.transport.(*transport.Stream)
	require.True(t, ok)
	t.Cleanup(func() { stream.Close() })
	assert.Equal(t, "s"+dev, link.key)

	_, err = openLink(config.Radio{Device: filepath.Join(t.TempDir(), "absent")})
	assert.Error(t, err)
}
