package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestLoadFileDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, "release", cfg.Mode)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, 54*time.Second, cfg.PingPeriod)
	require.Equal(t, 60*time.Second, cfg.PongWait())
	require.Equal(t, 256, cfg.SendBuffer)
	require.Equal(t, 60*time.Second, cfg.HeartbeatTTL)
	require.Equal(t, 30*time.Second, cfg.PresenceInterval)
	require.Equal(t, 120*time.Second, cfg.HardTimeout)

	// an unset secret is replaced by a fresh random key
	require.Len(t, cfg.Secret, 64)
	again, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.NotEqual(t, cfg.Secret, again.Secret)
}

func TestLoadFileKeepsConfiguredSecret(t *testing.T) {
	t.Setenv("STUDYROOM_SECRET", "s3cret")
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, "s3cret", cfg.Secret)
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9090\nheartbeat_ttl: 10s\nhard_timeout: 20s\n"), 0o600))

	t.Setenv("STUDYROOM_SEND_BUFFER", "8")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Port)
	require.Equal(t, 10*time.Second, cfg.HeartbeatTTL)
	require.Equal(t, 20*time.Second, cfg.HardTimeout)
	require.Equal(t, 8, cfg.SendBuffer)
}

func TestLoadFileRejectsShortHardTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("heartbeat_ttl: 60s\nhard_timeout: 5s\n"), 0o600))

	_, err := LoadFile(path)
	require.Error(t, err)
}

func TestLoadClientFlagsAndICE(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterClientFlags(fs)
	require.NoError(t, fs.Parse([]string{
		"--user", "alice",
		"--turn", "turn:turn.example.org:3478",
		"--turn-user", "u",
		"--turn-pass", "p",
	}))

	cfg, err := LoadClient(fs)
	require.NoError(t, err)
	require.Equal(t, "alice", cfg.User)
	require.Equal(t, 30*time.Second, cfg.Heartbeat)

	ice := cfg.ICEServers()
	require.Len(t, ice, 2)
	require.Equal(t, []string{DefaultSTUN}, ice[0].URLs)
	require.Equal(t, "u", ice[1].Username)
	require.Equal(t, "p", ice[1].Credential)
}
