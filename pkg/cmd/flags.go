package cmd

import (
	"github.com/dukex/orchestron/pkg/config"
	"github.com/urfave/cli/v3"
)

// ConfigFlags are shared by every binary. Flags override the config file.
func ConfigFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to the YAML configuration file",
			Sources: cli.EnvVars("ORCHESTRON_CONFIG"),
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Database connection URL for persistence (file://path or postgres://...)",
			Sources: cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "checkpoint-url",
			Usage:   "Redis URL for execution checkpoints",
			Sources: cli.EnvVars("CHECKPOINT_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (gochannel, kafka)",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringSliceFlag{
			Name:    "kafka-brokers",
			Usage:   "Kafka broker addresses",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "plugins-path",
			Usage:   "Path to the directory containing app plugins",
			Sources: cli.EnvVars("PLUGINS_PATH"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
		&cli.StringFlag{
			Name:    "http-address",
			Usage:   "Address the HTTP API listens on",
			Sources: cli.EnvVars("HTTP_ADDRESS"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export traces over OTLP HTTP",
			Sources: cli.EnvVars("TRACING_ENABLED"),
		},
	}
}

// LoadConfig reads the config file named by --config and applies the flags that were set.
func LoadConfig(command *cli.Command) (config.Config, error) {
	cfg, err := config.LoadOrDefault(command.String("config"))
	if err != nil {
		return config.Config{}, err
	}

	overrides := map[string]*string{
		"database-url":   &cfg.DatabaseURL,
		"checkpoint-url": &cfg.CheckpointURL,
		"event-bus":      &cfg.EventBus,
		"plugins-path":   &cfg.PluginsPath,
		"log-level":      &cfg.LogLevel,
		"log-format":     &cfg.LogFormat,
		"http-address":   &cfg.HTTP.Address,
	}

	for name, target := range overrides {
		if command.IsSet(name) {
			*target = command.String(name)
		}
	}

	if command.IsSet("kafka-brokers") {
		cfg.Kafka.Brokers = command.StringSlice("kafka-brokers")
	}

	if command.IsSet("tracing") {
		cfg.Tracing.Enabled = command.Bool("tracing")
	}

	return cfg, cfg.Validate()
}
