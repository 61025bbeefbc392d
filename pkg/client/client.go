// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package client

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/config"
	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/telemetry"
	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/transport/cloudstack"
)

// Client bundles what every provisioner needs to talk to one CloudStack
// endpoint. It holds no session state and is safe for concurrent use.
type Client struct {
	Config *config.Config

	// Transport executes signed API commands
	Transport cloudstack.Doer

	Logger  zerolog.Logger
	Metrics *telemetry.Metrics
}

// NewClient creates a CloudStack client from configuration
func NewClient(cfg *config.Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	logger := telemetry.NewLogger(cfg.LogLevel, nil)

	transport, err := cloudstack.NewClient(cloudstack.Options{
		Endpoint:           cfg.Endpoint,
		APIKey:             cfg.APIKey,
		SecretKey:          cfg.SecretKey,
		Timeout:            cfg.Timeout(),
		RetryMax:           cfg.RetryMax,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		Logger:             logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create CloudStack transport: %w", err)
	}

	return &Client{
		Config:    cfg,
		Transport: transport,
		Logger:    logger,
		Metrics:   telemetry.DefaultMetrics(),
	}, nil
}
