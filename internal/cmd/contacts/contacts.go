// Package contacts parses contacts service flags and launches the service.
package contacts

import (
	"context"
	"flag"

	entrypoint "github.com/wirebird/contactsync/internal/platform/cmd"
	server "github.com/wirebird/contactsync/internal/services/contacts/app"
)

// Config holds contacts command configuration.
type Config struct {
	Port int `env:"CONTACTSYNC_PORT" envDefault:"8080"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The contacts HTTP server port")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the contacts HTTP API service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceContacts, func(context.Context) error {
		return server.Run(ctx, cfg.Port)
	})
}
