package config

import (
	"fmt"
	"os"
	"strings"
)

// ResolveSecret reads a secret using the *_FILE convention: envName+"_FILE"
// names a file holding the value and takes precedence over envName itself.
// Returns empty string if neither is set.
func ResolveSecret(envName string) (string, error) {
	value, _, err := LookupSecret(envName)
	return value, err
}

// LookupSecret is ResolveSecret that also reports whether a source was set.
func LookupSecret(envName string) (string, bool, error) {
	fileEnv := envName + "_FILE"
	if filePath := os.Getenv(fileEnv); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err != nil {
			return "", false, fmt.Errorf("failed to read secret from %s=%s: %w", fileEnv, filePath, err)
		}
		return strings.TrimSpace(string(content)), true, nil
	}

	value, ok := os.LookupEnv(envName)
	return value, ok, nil
}

// EnvOr returns the environment value of key, or def when unset or empty.
func EnvOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
