package config

import "time"

// Config holds every tunable of the task executor. Values come from
// defaults, then environment variables, then explicit overrides.
type Config struct {
	Executor ExecutorConfig `koanf:"executor" validate:"required"`
	Runtime  RuntimeConfig  `koanf:"runtime"  validate:"required"`
}

// ExecutorConfig contains the executor's timing and buffering knobs.
type ExecutorConfig struct {
	// VisibilityDuration is how long a naturally Completed task stays in
	// the registry before the cleanup sweep evicts it.
	VisibilityDuration time.Duration `koanf:"visibility_duration" env:"EXECUTOR_VISIBILITY_DURATION" validate:"min=0"`
	// CancelGraceWindow is the delay between canceling a task and removing
	// it, so observers can see the cancellation before it disappears.
	CancelGraceWindow time.Duration `koanf:"cancel_grace_window" env:"EXECUTOR_CANCEL_GRACE_WINDOW" validate:"min=0"`
	CommandBuffer     int           `koanf:"command_buffer"     env:"EXECUTOR_COMMAND_BUFFER"     validate:"min=1"`
	SubscriberBuffer  int           `koanf:"subscriber_buffer"  env:"EXECUTOR_SUBSCRIBER_BUFFER"  validate:"min=1"`
}

// RuntimeConfig contains logging behavior.
type RuntimeConfig struct {
	LogLevel string `koanf:"log_level" env:"RUNTIME_LOG_LEVEL" validate:"oneof=debug info warn error"`
	LogJSON  bool   `koanf:"log_json"  env:"RUNTIME_LOG_JSON"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Executor: ExecutorConfig{
			VisibilityDuration: 5 * time.Minute,
			CancelGraceWindow:  2 * time.Second,
			CommandBuffer:      64,
			SubscriberBuffer:   16,
		},
		Runtime: RuntimeConfig{
			LogLevel: "info",
		},
	}
}
