// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/platform-engineering-labs/formae/pkg/model"
)

// Environment variables read by FromTargetConfig.
const (
	EnvEndpoint    = "CLOUDSTACK_API_URL"
	EnvAPIKey      = "CLOUDSTACK_API_KEY"
	EnvSecretKey   = "CLOUDSTACK_SECRET_KEY"
	EnvZone        = "CLOUDSTACK_ZONE"
	EnvLogLevel    = "CLOUDSTACK_LOG_LEVEL"
	EnvMetricsAddr = "CLOUDSTACK_METRICS_ADDR"
)

// Defaults applied when the target config leaves a tuning field unset.
const (
	DefaultTimeoutSeconds         = 60
	DefaultRetryMax               = 3
	DefaultDeleteRetryMax         = 6
	DefaultDeleteRetryWaitSeconds = 10
)

// Config holds CloudStack connection configuration
// Note: Only the endpoint, zone and tuning knobs are stored in the target
// config. The API key and secret are always read from environment variables
// to avoid storing secrets in the database.
type Config struct {
	// Stored in target config (non-sensitive)
	Endpoint               string `json:"endpoint" validate:"required,url"` // https://cloud.example.com/client/api
	Zone                   string `json:"zone,omitempty"`
	TimeoutSeconds         int    `json:"timeoutSeconds,omitempty" validate:"gte=0,lte=600"`
	RetryMax               int    `json:"retryMax,omitempty" validate:"gte=0,lte=10"`
	DeleteRetryMax         int    `json:"deleteRetryMax,omitempty" validate:"gte=0,lte=100"`
	DeleteRetryWaitSeconds int    `json:"deleteRetryWaitSeconds,omitempty" validate:"gte=0,lte=3600"`
	InsecureSkipVerify     bool   `json:"insecureSkipVerify,omitempty"`

	// Read from environment variables only (never stored)
	APIKey    string `json:"-" validate:"required"` // From CLOUDSTACK_API_KEY
	SecretKey string `json:"-" validate:"required"` // From CLOUDSTACK_SECRET_KEY
	LogLevel  string `json:"-"`                     // From CLOUDSTACK_LOG_LEVEL
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// FromTarget extracts CloudStack configuration from a Target
func FromTarget(target *model.Target) (*Config, error) {
	if target == nil {
		return nil, fmt.Errorf("target is nil")
	}
	return FromTargetConfig(target.Config)
}

// FromTargetConfig extracts CloudStack configuration from a TargetConfig JSON.
// Endpoint and zone fall back to environment variables; credentials are
// always read from the environment.
func FromTargetConfig(targetConfig json.RawMessage) (*Config, error) {
	var cfg Config

	if len(targetConfig) > 0 {
		if err := json.Unmarshal(targetConfig, &cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal target config: %w", err)
		}
	}

	if cfg.Endpoint == "" {
		cfg.Endpoint = os.Getenv(EnvEndpoint)
	}
	if cfg.Zone == "" {
		cfg.Zone = os.Getenv(EnvZone)
	}

	// Credentials are ALWAYS read from environment variables (never stored)
	cfg.APIKey = os.Getenv(EnvAPIKey)
	cfg.SecretKey = os.Getenv(EnvSecretKey)
	cfg.LogLevel = os.Getenv(EnvLogLevel)

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if c.RetryMax == 0 {
		c.RetryMax = DefaultRetryMax
	}
	if c.DeleteRetryMax == 0 {
		c.DeleteRetryMax = DefaultDeleteRetryMax
	}
	if c.DeleteRetryWaitSeconds == 0 {
		c.DeleteRetryWaitSeconds = DefaultDeleteRetryWaitSeconds
	}
}

// Validate checks the configuration and reports every offending field.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	switch fe.Field() {
	case "Endpoint":
		if fe.Tag() == "required" {
			return fmt.Sprintf("endpoint is required (set %s or provide in target config)", EnvEndpoint)
		}
		return fmt.Sprintf("endpoint %q is not a valid URL", fe.Value())
	case "APIKey":
		return fmt.Sprintf("%s environment variable is required", EnvAPIKey)
	case "SecretKey":
		return fmt.Sprintf("%s environment variable is required", EnvSecretKey)
	default:
		return fmt.Sprintf("%s failed %s=%s (got %v)", fe.Field(), fe.Tag(), fe.Param(), fe.Value())
	}
}

// Timeout is the per-request HTTP timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DeleteRetryWait is how long a conflicted delete waits before the next attempt.
func (c *Config) DeleteRetryWait() time.Duration {
	return time.Duration(c.DeleteRetryWaitSeconds) * time.Second
}
