package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "daymark.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 3, cfg.Gateway.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Gateway.BaseDelay.Std())
	assert.Equal(t, "none", cfg.Notify.Kind)
	assert.Empty(t, cfg.Providers())
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
log_level: debug
batch_delay: 90s
store:
  driver: sqlite
  path: /tmp/daymark.db
gateway:
  provider: anthropic
  max_attempts: 5
  base_delay: 250ms
  anthropic:
    api_key: sk-test
    model: claude-sonnet-4-20250514
notify:
  kind: slack
  slack:
    token: xoxb-test
    channel: "#journal"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 90*time.Second, cfg.BatchDelay.Std())
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 5, cfg.Gateway.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Gateway.BaseDelay.Std())
	assert.Equal(t, "#journal", cfg.Notify.Slack.Channel)

	providers := cfg.Providers()
	require.Len(t, providers, 1)
	assert.Equal(t, "anthropic", providers[0].Name)
	assert.Equal(t, "sk-test", providers[0].Provider.APIKey)
}

func TestLoadEnvironmentWinsOverYAML(t *testing.T) {
	path := writeConfigFile(t, `
log_level: debug
gateway:
  provider: anthropic
  anthropic:
    api_key: from-file
`)
	t.Setenv("DAYMARK_LOG_LEVEL", "warn")
	t.Setenv("DAYMARK_GATEWAY_ANTHROPIC_API_KEY", "from-env")
	t.Setenv("DAYMARK_GATEWAY_TIMEOUT", "10s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "from-env", cfg.Gateway.Anthropic.APIKey)
	assert.Equal(t, 10*time.Second, cfg.Gateway.Timeout.Std())
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown store driver",
			yaml: "store:\n  driver: postgres\n",
			want: "unknown driver",
		},
		{
			name: "sqlite without path",
			yaml: "store:\n  driver: sqlite\n",
			want: "requires a path",
		},
		{
			name: "unknown provider",
			yaml: "gateway:\n  provider: mistral\n",
			want: "unknown provider",
		},
		{
			name: "slack without token",
			yaml: "notify:\n  kind: slack\n",
			want: "requires a token",
		},
		{
			name: "smtp without host",
			yaml: "notify:\n  kind: smtp\n",
			want: "requires host",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfigFile(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDurationUnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Std())
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
