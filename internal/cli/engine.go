package cli

import (
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/groundwork-io/groundctl/pkg/engine"
	"github.com/groundwork-io/groundctl/pkg/provider"
	"github.com/groundwork-io/groundctl/pkg/provider/null"
	"github.com/groundwork-io/groundctl/pkg/state"
)

// createEngine creates an orchestration engine over the given state
// manager. The null provider answers for kinds without a real provider,
// which keeps plan and apply usable in dry environments.
func createEngine(stateManager state.Manager) *engine.Engine {
	registry := provider.NewRegistry()
	registry.RegisterFallback(null.New())
	return engine.NewEngine(stateManager, registry, newLogger())
}

func newLogger() zerolog.Logger {
	level := zerolog.WarnLevel
	if os.Getenv("GROUNDCTL_DEBUG") != "" {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()
}

// whoAmI identifies the caller for lock records.
func whoAmI() string {
	user := os.Getenv("USER")
	if user == "" {
		user = "unknown"
	}
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return user + "@" + host
}
