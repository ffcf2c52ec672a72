// Package config loads the engine configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	BranchPolicyFirstMatch = "first_match"
	BranchPolicyFanOut     = "fan_out"

	EventBusGoChannel = "gochannel"
	EventBusKafka     = "kafka"
)

type Config struct {
	LogLevel      string `yaml:"log_level"      validate:"oneof=debug info warn error"`
	LogFormat     string `yaml:"log_format"     validate:"oneof=text json"`
	DatabaseURL   string `yaml:"database_url"   validate:"required"`
	CheckpointURL string `yaml:"checkpoint_url"`
	EventBus      string `yaml:"event_bus"      validate:"oneof=gochannel kafka"`
	PluginsPath   string `yaml:"plugins_path"`

	Kafka      KafkaConfig      `yaml:"kafka"`
	Workers    WorkersConfig    `yaml:"workers"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	HTTP       HTTPConfig       `yaml:"http"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	ConsumerGroup string   `yaml:"consumer_group"`
}

type WorkersConfig struct {
	Processes         int           `yaml:"processes"           validate:"min=1"`
	ThreadsPerProcess int           `yaml:"threads_per_process" validate:"min=1"`
	QueueWaitTimeout  time.Duration `yaml:"queue_wait_timeout"  validate:"min=0"`
	// MaxStreamResultsSizeKB caps every result payload.
	MaxStreamResultsSizeKB int `yaml:"max_stream_results_size_kb" validate:"min=1"`
}

// Slots is the global bound on concurrently executing actions.
func (w WorkersConfig) Slots() int {
	return w.Processes * w.ThreadsPerProcess
}

type DispatcherConfig struct {
	BranchPolicy     string        `yaml:"branch_policy"     validate:"oneof=first_match fan_out"`
	MaxSteps         int           `yaml:"max_steps"         validate:"min=1"`
	ActionTimeout    time.Duration `yaml:"action_timeout"    validate:"min=0"`
	TransportRetries int           `yaml:"transport_retries" validate:"min=0"`
}

type SchedulerConfig struct {
	Location  string     `yaml:"location"`
	Schedules []Schedule `yaml:"schedules" validate:"dive"`
}

// Schedule activates WorkflowIDs under Task whenever its trigger fires.
type Schedule struct {
	Task        string         `yaml:"task"         validate:"required"`
	WorkflowIDs []string       `yaml:"workflow_ids" validate:"required,min=1"`
	Type        string         `yaml:"type"         validate:"required,oneof=date interval cron"`
	Args        map[string]any `yaml:"args"`
}

// TimeZone resolves the scheduler location, time.Local when unset.
func (s SchedulerConfig) TimeZone() (*time.Location, error) {
	if s.Location == "" {
		return time.Local, nil
	}

	loc, err := time.LoadLocation(s.Location)
	if err != nil {
		return nil, fmt.Errorf("failed to load scheduler location %q: %w", s.Location, err)
	}

	return loc, nil
}

type HTTPConfig struct {
	Address string `yaml:"address" validate:"required"`
}

type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns a configuration suitable for a single local process.
func Default() Config {
	return Config{
		LogLevel:    "info",
		LogFormat:   "text",
		DatabaseURL: "file://./data",
		EventBus:    EventBusGoChannel,
		Kafka: KafkaConfig{
			ConsumerGroup: "orchestron",
		},
		Workers: WorkersConfig{
			Processes:              1,
			ThreadsPerProcess:      4,
			QueueWaitTimeout:       30 * time.Second,
			MaxStreamResultsSizeKB: 156,
		},
		Dispatcher: DispatcherConfig{
			BranchPolicy:     BranchPolicyFirstMatch,
			MaxSteps:         1000,
			ActionTimeout:    5 * time.Minute,
			TransportRetries: 0,
		},
		HTTP: HTTPConfig{
			Address: ":9091",
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	err = cfg.Validate()
	if err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadOrDefault loads path when it is set, otherwise returns the defaults.
func LoadOrDefault(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}

	return Load(path)
}

func (c Config) Validate() error {
	err := validator.New(validator.WithRequiredStructEnabled()).Struct(c)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.EventBus == EventBusKafka && len(c.Kafka.Brokers) == 0 {
		return errors.New("invalid configuration: kafka.brokers is required when event_bus is kafka")
	}

	_, err = c.Scheduler.TimeZone()

	return err
}
