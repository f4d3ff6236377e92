package main

import (
	"errors"
	"net"
	"time"

	"github.com/artpar/choices/bootstrap"
	"github.com/rs/zerolog"
)

// serviceConfig is the configuration the demo server exposes.
type serviceConfig struct {
	Port     uint16        `choices:"min=1024"`
	Host     string        `choices:"not_empty,validator=CheckHost"`
	Debug    bool          `choices:"on_set=DebugChanged"`
	LogFile  string        `choices:"pattern=^/"`
	Level    string        `choices:"one_of=trace|debug|info|warn|error,on_set=LevelChanged"`
	Timeout  time.Duration `choices:"min=0"`
	Greeting *string
	Token    string `choices:"hide_get,min_len=8"`
	Build    string `choices:"hide_put"`

	logger zerolog.Logger
}

func newServiceConfig(logger zerolog.Logger) *serviceConfig {
	return &serviceConfig{
		Port:    8000,
		Host:    "localhost",
		LogFile: "/var/log/choices.log",
		Level:   "info",
		Timeout: 5 * time.Second,
		Build:   version,
		logger:  logger,
	}
}

// CheckHost accepts IP literals and plain host names.
func (c *serviceConfig) CheckHost(host string) error {
	if net.ParseIP(host) != nil {
		return nil
	}
	for _, r := range host {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
		default:
			return errors.New("must be an IP address or host name")
		}
	}
	return nil
}

// DebugChanged runs after debug passed validation, before it is stored.
func (c *serviceConfig) DebugChanged(on bool) {
	c.logger.Info().Bool("was", c.Debug).Bool("now", on).Msg("debug toggled")
}

// LevelChanged applies the new log level to the process.
func (c *serviceConfig) LevelChanged(level string) {
	bootstrap.SetLevel(level)
}
