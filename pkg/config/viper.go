// Package config locates the sentinel configuration file on disk.
//
// The typed settings themselves live in internal/config; this package only
// answers "which file should be read" for the CLI, following the usual search
// order of working directory, user home, then system-wide location.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
)

// FileName is the base name looked up in the home directory.
const FileName = ".sentinel.yaml"

// SearchPaths lists candidate config files in lookup order.
func SearchPaths() []string {
	paths := []string{"config.yaml"}
	if home, err := homedir.Dir(); err == nil {
		paths = append(paths, filepath.Join(home, FileName))
	}
	return append(paths, "/etc/sentinel/config.yaml")
}

// Resolve returns the config file to read. An explicit path must exist; with no
// explicit path the first existing search path wins, and an empty result means
// defaults plus SENTINEL_* environment variables.
func Resolve(explicit string) (string, error) {
	if explicit != "" {
		expanded, err := homedir.Expand(explicit)
		if err != nil {
			return "", fmt.Errorf("expand config path: %w", err)
		}
		if _, err := os.Stat(expanded); err != nil {
			return "", fmt.Errorf("config file: %w", err)
		}
		return expanded, nil
	}
	for _, candidate := range SearchPaths() {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", nil
}
