package common

import (
	"context"
	"io"
	"sync"

	"github.com/YoshitsuguKoike/repairdesk/internal/app"
	"github.com/YoshitsuguKoike/repairdesk/internal/app/config"
	"github.com/YoshitsuguKoike/repairdesk/internal/infrastructure/di"
)

// Output formats accepted by --output
const (
	OutputCLI  = "cli"
	OutputJSON = "json"
)

var (
	mu           sync.RWMutex
	globalConfig config.Config
	outputFormat = OutputCLI
)

// SetRuntime records what the root command loaded before any command runs
func SetRuntime(cfg config.Config, format string) {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = cfg
	outputFormat = format
}

// Config returns the loaded configuration, nil before the root ran
func Config() config.Config {
	mu.RLock()
	defer mu.RUnlock()
	return globalConfig
}

// OutputFormat returns the --output value
func OutputFormat() string {
	mu.RLock()
	defer mu.RUnlock()
	return outputFormat
}

// OpenContainer wires the application for one command. The caller closes it.
func OpenContainer(ctx context.Context, out io.Writer) (*di.Container, error) {
	return di.NewContainer(ctx, Config(), di.Options{
		OutputFormat: OutputFormat(),
		OutputWriter: out,
		Logger:       app.GetLogger(),
	})
}
