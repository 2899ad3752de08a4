package cli

import (
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/groundwork-io/groundctl/pkg/state"
	"github.com/groundwork-io/groundctl/pkg/state/backend"
)

// Environment variable names for state backend configuration.
const (
	// EnvStateBackend sets the state backend type (local, s3, gcs, azurerm).
	EnvStateBackend = "GROUNDCTL_STATE_BACKEND"

	// EnvStatePrefix is the prefix for backend-specific config environment variables.
	// For example, GROUNDCTL_STATE_PATH sets the "path" config for the local backend,
	// GROUNDCTL_STATE_BUCKET sets the "bucket" config for S3/GCS backends.
	EnvStatePrefix = "GROUNDCTL_STATE_"
)

// createStateManagerWithConfig creates a state manager with the given backend type and config.
//
// Configuration precedence (highest to lowest):
//  1. Subcommand flags (--backend, --backend-config)
//  2. Environment variables (GROUNDCTL_STATE_BACKEND, GROUNDCTL_STATE_*)
//  3. Config file and the root --backend flag, through viper
//     ("backend" and "backend_config" keys)
//  4. Hardcoded default (local backend with ~/.groundctl/state)
func createStateManagerWithConfig(backendType string, backendConfig []string) (state.Manager, error) {
	effectiveBackend := "local"
	effectiveConfig := make(map[string]string)

	// Config file / bound root flag, via viper.
	if v := viper.GetString("backend"); v != "" {
		effectiveBackend = v
	}
	for k, v := range viper.GetStringMapString("backend_config") {
		effectiveConfig[strings.ToLower(k)] = v
	}

	// Environment variables.
	if envBackend := os.Getenv(EnvStateBackend); envBackend != "" {
		effectiveBackend = envBackend
	}

	// Backend-specific env vars (GROUNDCTL_STATE_PATH, GROUNDCTL_STATE_BUCKET, etc.)
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, EnvStatePrefix) && !strings.HasPrefix(env, EnvStateBackend) {
			parts := strings.SplitN(env, "=", 2)
			if len(parts) == 2 {
				// Convert GROUNDCTL_STATE_PATH to "path", GROUNDCTL_STATE_BUCKET to "bucket", etc.
				key := strings.ToLower(strings.TrimPrefix(parts[0], EnvStatePrefix))
				effectiveConfig[key] = parts[1]
			}
		}
	}

	// Subcommand flags, highest priority.
	if backendType != "" {
		effectiveBackend = backendType
	}

	for _, c := range backendConfig {
		parts := strings.SplitN(c, "=", 2)
		if len(parts) == 2 {
			effectiveConfig[parts[0]] = parts[1]
		}
	}

	config := backend.Config{
		Type:   effectiveBackend,
		Config: effectiveConfig,
	}

	return state.NewManagerFromConfig(config)
}
