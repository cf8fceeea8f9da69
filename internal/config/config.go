package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Settings holds the process-level configuration read from the
// environment. Loading the .env file itself happens in main.
type Settings struct {
	HAURL        string
	HAToken      string
	PollInterval time.Duration
	HTTPPort     int
	BindingsFile string
	PushDisabled bool
}

const (
	defaultPollInterval = 30 * time.Second
	defaultHTTPPort     = 8000
	defaultBindingsFile = "config/devices.yaml"
)

// FromEnv builds Settings from environment variables. HA_URL and
// HA_TOKEN are required; everything else has a default.
func FromEnv() (*Settings, error) {
	s := &Settings{
		HAURL:        os.Getenv("HA_URL"),
		HAToken:      os.Getenv("HA_TOKEN"),
		PollInterval: defaultPollInterval,
		HTTPPort:     defaultHTTPPort,
		BindingsFile: defaultBindingsFile,
		PushDisabled: os.Getenv("PUSH_DISABLED") == "true",
	}

	if s.HAURL == "" || s.HAToken == "" {
		return nil, fmt.Errorf("HA_URL and HA_TOKEN environment variables must be set")
	}

	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			return nil, fmt.Errorf("invalid POLL_INTERVAL %q: expected positive integer seconds", v)
		}
		s.PollInterval = time.Duration(secs) * time.Second
	}

	if v := os.Getenv("HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("invalid HTTP_PORT %q", v)
		}
		s.HTTPPort = port
	}

	if v := os.Getenv("BINDINGS_FILE"); v != "" {
		s.BindingsFile = v
	}

	return s, nil
}
