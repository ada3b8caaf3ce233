// ABOUTME: Tests for configuration loading, env expansion, and validation.
// ABOUTME: Covers defaults, duration parsing, and rejection of bad values.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig writes a config file into a temp dir and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crewmux.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 60*time.Second, cfg.Discovery.StaleThreshold)
	assert.Equal(t, 5*time.Second, cfg.Discovery.TmuxTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.False(t, cfg.Journal.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
discovery:
  stale_threshold: "90s"
  tmux_timeout: "2s"
  session: "crew"
signatures:
  extra: ["my-worker"]
  packs: ["/etc/crewmux/site.toml"]
journal:
  enabled: true
  path: ".crewmux/journal.db"
logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.Discovery.StaleThreshold)
	assert.Equal(t, 2*time.Second, cfg.Discovery.TmuxTimeout)
	assert.Equal(t, "crew", cfg.Discovery.Session)
	assert.Equal(t, []string{"my-worker"}, cfg.Signatures.Extra)
	assert.True(t, cfg.Journal.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_PartialConfigKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
discovery:
  session: "crew"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "crew", cfg.Discovery.Session)
	assert.Equal(t, 60*time.Second, cfg.Discovery.StaleThreshold)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("CREWMUX_TEST_SESSION", "expanded-session")
	path := writeConfig(t, `
discovery:
  session: "${CREWMUX_TEST_SESSION}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "expanded-session", cfg.Discovery.Session)
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeConfig(t, `
discovery:
  stale_threshold: "soon"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stale_threshold")
}

func TestLoad_BadLogLevel(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: "loud"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestLoad_JournalEnabledNeedsPath(t *testing.T) {
	path := writeConfig(t, `
journal:
  enabled: true
  path: ""
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "journal.path")
}

func TestLoadDefault_NoFileYieldsDefaults(t *testing.T) {
	t.Setenv("CREWMUX_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	oldWD, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(oldWD) })

	cfg, err := LoadDefault()
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, cfg.Discovery.StaleThreshold)
}

func TestLoadDefault_EnvPathWins(t *testing.T) {
	path := writeConfig(t, `
discovery:
  session: "from-env-path"
`)
	t.Setenv("CREWMUX_CONFIG", path)

	cfg, err := LoadDefault()
	require.NoError(t, err)
	assert.Equal(t, "from-env-path", cfg.Discovery.Session)
}
