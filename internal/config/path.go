package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

const envFileName = ".env"

// ResolvePath applies CLI/XDG/home fallback rules for config.jsonc location.
func ResolvePath(explicit string) (string, error) {
	if strings.TrimSpace(explicit) != "" {
		return explicit, nil
	}

	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, "kiroku", "config.jsonc"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("unable to resolve user home for config fallback")
	}

	return filepath.Join(home, ".config", "kiroku", "config.jsonc"), nil
}

// EnvFilePath returns the optional dotenv file that sits next to configPath.
func EnvFilePath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), envFileName)
}
