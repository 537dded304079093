package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"meshroster/internal/config"
	"meshroster/internal/probe"
)

func TestBuildScanner(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("defaults", func(t *testing.T) {
		cfg := config.DefaultConfig()
		assert.Equal(t, 1, buildScanner(cfg, logger).Len())
	})

	t.Run("none enabled", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Scanners.Serial = false
		assert.Equal(t, 0, buildScanner(cfg, logger).Len())
	})

	t.Run("all enabled", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Scanners.Static = []string{"/dev/ttyUSB0"}
		cfg.Scanners.MDNS.Enabled = true
		cfg.Scanners.Nmap.Enabled = true
		cfg.Scanners.Nmap.Targets = []string{"192.168.1.0/24"}
		assert.Equal(t, 4, buildScanner(cfg, logger).Len())
	})
}

func TestBuildRunner(t *testing.T) {
	logger := zaptest.NewLogger(t)

	cfg := config.DefaultConfig()
	assert.IsType(t, probe.ExecRunner{}, buildRunner(cfg, logger))

	cfg.Probe.Remote = &config.RemoteConfig{Host: "gw.local", User: "pi", Password: "secret"}
	assert.IsType(t, &probe.SSHRunner{}, buildRunner(cfg, logger))
}

func TestValidatorOptions(t *testing.T) {
	cfg := config.DefaultConfig()
	assert.Len(t, validatorOptions(cfg), 4)

	cfg.Serial.SkipCheck = true
	assert.Len(t, validatorOptions(cfg), 2, "skip_check drops the serial checker")

	cfg.Serial.SkipCheck = false
	cfg.Probe.Remote = &config.RemoteConfig{Host: "gw.local", User: "pi", Password: "secret"}
	assert.Len(t, validatorOptions(cfg), 2, "remote probes skip the local serial check")
}

func TestNewApp(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Database.Path = ":memory:"
	cfg.Scanners.Serial = false

	a, err := newApp(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.svc)
	assert.NotNil(t, a.bus)
}
