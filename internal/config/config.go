package config

import (
	"encoding/json"
	"fmt"
	"os"

	"chatrelay/internal/constants"
	"chatrelay/internal/models"
)

var (
	ErrMissingDBPath  = models.ConfigError{Message: "missing database path"}
	ErrMissingSources = models.ConfigError{Message: "at least one source must be configured"}
)

func LoadConfig(path string) (*models.Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	if err := validate(&config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	return &config, nil
}

func validate(c *models.Config) error {
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}
	if len(c.Sources) == 0 {
		return ErrMissingSources
	}

	slugs := make(map[string]bool)
	for i, source := range c.Sources {
		if source.Slug == "" {
			return models.ConfigError{Message: fmt.Sprintf("empty slug in source %d", i)}
		}
		if slugs[source.Slug] {
			return models.ConfigError{Message: fmt.Sprintf("duplicate source slug: %s", source.Slug)}
		}
		slugs[source.Slug] = true
	}

	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}

	if c.Dispatch.Workers <= 0 {
		c.Dispatch.Workers = constants.DefaultDispatchWorkers
	}
	if c.Dispatch.QueueSize <= 0 {
		c.Dispatch.QueueSize = constants.DefaultDispatchQueueSize
	}
	if c.Dispatch.TimeoutSec <= 0 {
		c.Dispatch.TimeoutSec = constants.DefaultDeliveryTimeoutSec
	}
	if c.Dispatch.MaxAttempts <= 0 {
		c.Dispatch.MaxAttempts = constants.DefaultDeliveryMaxAttempts
	}
	if c.Dispatch.InitialBackoffMs <= 0 {
		c.Dispatch.InitialBackoffMs = constants.DefaultDeliveryBackoffMs
	}
	if c.Dispatch.MaxBackoffMs < c.Dispatch.InitialBackoffMs {
		c.Dispatch.MaxBackoffMs = constants.DefaultDeliveryMaxBackoffMs
	}
	if c.Dispatch.ProviderQPS <= 0 {
		c.Dispatch.ProviderQPS = constants.DefaultProviderQPS
	}
	if c.Dispatch.ProviderBurst <= 0 {
		c.Dispatch.ProviderBurst = constants.DefaultProviderBurst
	}

	if c.RetentionDays <= 0 {
		c.RetentionDays = constants.DefaultRetentionDays
	}

	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if path := os.Getenv("DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}

	// Secrets should come from the environment rather than the config file.
	// CHATRELAY_SECRET_<SLUG> overrides the inbound secret of the matching
	// source (slug upper-cased, dashes as underscores).
	for i := range c.Sources {
		if secret := os.Getenv(secretEnvName(c.Sources[i].Slug)); secret != "" {
			c.Sources[i].InboundSecret = secret
		}
	}
}

func secretEnvName(slug string) string {
	name := make([]byte, 0, len(slug))
	for i := 0; i < len(slug); i++ {
		ch := slug[i]
		switch {
		case ch >= 'a' && ch <= 'z':
			name = append(name, ch-('a'-'A'))
		case ch == '-':
			name = append(name, '_')
		default:
			name = append(name, ch)
		}
	}
	return "CHATRELAY_SECRET_" + string(name)
}
