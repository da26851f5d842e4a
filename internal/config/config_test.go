package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
[smtp]
host = "0.0.0.0"
port = 2525
allowedRecipientDomains = ["example.com"]

[main]
gatewayMode = "local"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0", cfg.SMTP.Host)
	require.Equal(t, []string{"VRFY", "EXPN", "ETRN", "TURN"}, cfg.SMTP.DisabledCommands)
	require.True(t, cfg.SMTPRateLimit.Enabled)
	require.Equal(t, GatewayModeLocal, cfg.Main.GatewayMode)
}

func TestLoadRejectsBackendMode(t *testing.T) {
	path := writeTempConfig(t, `
[smtp]
host = "0.0.0.0"
port = 2525
allowedRecipientDomains = ["example.com"]

[main]
gatewayMode = "backend"
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMissingDomains(t *testing.T) {
	path := writeTempConfig(t, `
[smtp]
host = "0.0.0.0"
port = 2525

[main]
gatewayMode = "local"
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestParseBytesSuffixes(t *testing.T) {
	n, err := ParseBytes("2MB")
	require.NoError(t, err)
	require.Equal(t, int64(2<<20), n)

	n, err = ParseBytes("512")
	require.NoError(t, err)
	require.Equal(t, int64(512), n)
}
