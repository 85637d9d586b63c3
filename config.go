// SPDX-FileCopyrightText: 2025 Exedra Development, S.L.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"time"

	"github.com/exedra-dev/xrgate/catalog/db"
	"github.com/exedra-dev/xrgate/identity"
	"github.com/exedra-dev/xrgate/model"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"github.com/xmidt-org/candlelight"
	"github.com/xmidt-org/touchstone"
)

// ServerConfig is one listen address; each server runs on its own.
type ServerConfig struct {
	Address string `validate:"required"`
}

// RefreshConfig drives the background catalog refresh loop.
type RefreshConfig struct {
	// Enabled turns the scheduler on. Principal must then name whose catalog
	// to keep fresh.
	Enabled   bool
	Principal string
	Interval  time.Duration
}

// Config is the whole application configuration tree.
type Config struct {
	Vault struct {
		// MasterKey is the AES-256 key as 64 hex characters. A wrong length is
		// fatal at boot, never at request time.
		MasterKey string `validate:"required,hexadecimal,len=64"`
	}

	// Identity carries the outbound mTLS policy knobs.
	Identity identity.Config

	// DefaultClient and DefaultBaseURL seed a principal's profile on first
	// certificate upload.
	DefaultClient  model.ClientID
	DefaultBaseURL string `validate:"omitempty,url"`

	Auth struct {
		// JWTSecret verifies the portal-issued bearer tokens.
		JWTSecret string `validate:"required,min=16"`
	}

	Refresh RefreshConfig

	// Prometheus configures the metrics factory.
	Prometheus touchstone.Config

	// Tracing configures the candlelight exporter; the application name is
	// always overridden.
	Tracing candlelight.Config

	// Stores selects the catalog backend; empty means in-memory.
	Stores db.Configs

	Servers struct {
		Primary ServerConfig
		Health  ServerConfig
		Metrics ServerConfig
	}
}

func provideConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if cfg.Refresh.Interval <= 0 {
		cfg.Refresh.Interval = 5 * time.Minute
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Refresh.Enabled && cfg.Refresh.Principal == "" {
		return cfg, fmt.Errorf("refresh.principal is required when refresh.enabled is set")
	}
	return cfg, nil
}
