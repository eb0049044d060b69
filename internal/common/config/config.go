// Package config loads process-level settings from the environment.
// Workspace content lives in workspace.toml; this covers how the daemon
// itself runs.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the daemon configuration, read from POCHI_* environment
// variables.
type Config struct {
	LogLevel  string
	LogFormat string

	// Workspace overrides workspace discovery; empty means walk up from
	// the working directory.
	Workspace string

	APIEnabled bool
	APIAddr    string

	// NATSURL enables the external event bus; empty keeps events
	// in-process.
	NATSURL string

	DebounceWindow    time.Duration
	ProgressEditEvery time.Duration
	PollTimeout       time.Duration
}

// Load reads the environment with defaults applied.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("POCHI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("workspace", "")
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.addr", ":8199")
	v.SetDefault("nats.url", "")
	v.SetDefault("debounce.window", 200*time.Millisecond)
	v.SetDefault("progress.edit.every", time.Second)
	v.SetDefault("poll.timeout", 50*time.Second)

	return &Config{
		LogLevel:          v.GetString("log.level"),
		LogFormat:         v.GetString("log.format"),
		Workspace:         v.GetString("workspace"),
		APIEnabled:        v.GetBool("api.enabled"),
		APIAddr:           v.GetString("api.addr"),
		NATSURL:           v.GetString("nats.url"),
		DebounceWindow:    v.GetDuration("debounce.window"),
		ProgressEditEvery: v.GetDuration("progress.edit.every"),
		PollTimeout:       v.GetDuration("poll.timeout"),
	}, nil
}
