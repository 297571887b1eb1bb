package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolvePathPrecedence(t *testing.T) {
	explicit := "/tmp/custom.jsonc"
	resolved, err := ResolvePath(explicit)
	require.NoError(t, err)
	require.Equal(t, explicit, resolved)

	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	resolved, err = ResolvePath("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(xdg, "kiroku", "config.jsonc"), resolved)

	t.Setenv("XDG_CONFIG_HOME", "")
	home := t.TempDir()
	t.Setenv("HOME", home)
	resolved, err = ResolvePath("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, ".config", "kiroku", "config.jsonc"), resolved)
}

func TestEnvFilePathSitsNextToConfig(t *testing.T) {
	require.Equal(t, "/home/me/.config/kiroku/.env", EnvFilePath("/home/me/.config/kiroku/config.jsonc"))
}

func TestLoadMissingConfigUsesDefaultsWithWarning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.jsonc")

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, path, loaded.Path)
	require.False(t, loaded.Exists)
	require.Empty(t, loaded.EnvFile)
	require.Equal(t, Default(), loaded.Config)
	require.NotEmpty(t, loaded.Warnings)
	require.Contains(t, loaded.Warnings[0].Message, "not found")
}

func TestLoadExistingJSONCParsesAndValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.jsonc")
	contents := `
{
  "engine": {
    "path": "/opt/whisper/faster-whisper-xxl",
    "language": "ja"
  },
  "clipboard": {
    "enable": false
  }
}
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.True(t, loaded.Exists)
	require.Equal(t, path, loaded.Path)
	require.Equal(t, "/opt/whisper/faster-whisper-xxl", loaded.Config.Engine.Path)
	require.False(t, loaded.Config.Clipboard.Enable)
}

func TestLoadAppliesDotenvAndProcessOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(`{"engine": {"language": "ja"}}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(
		"KIROKU_ENGINE_LANGUAGE=en\nKIROKU_MQTT_BROKER=tcp://broker:1883\nKIROKU_LOG_LEVEL=warn\n",
	), 0o600))
	t.Setenv("KIROKU_LOG_LEVEL", "debug")

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, ".env"), loaded.EnvFile)
	require.Equal(t, "en", loaded.Config.Engine.Language)
	require.Equal(t, "tcp://broker:1883", loaded.Config.Events.MQTTBroker)
	require.Equal(t, "debug", loaded.Config.LogLevel, "process env wins over .env")
}

func TestLoadRejectsInvalidEnvironmentOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.jsonc")
	t.Setenv("KIROKU_LOG_LEVEL", "loud")

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "environment overrides")
	require.Contains(t, err.Error(), "log_level")
}

func TestLoadParseErrorIncludesPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.jsonc")
	require.NoError(t, os.WriteFile(path, []byte("{ not-json }"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse config")
	require.Contains(t, err.Error(), path)
}
