// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"os"

	"github.com/platform-engineering-labs/formae/pkg/plugin/sdk"

	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/config"
	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/telemetry"
)

func main() {
	if addr := os.Getenv(config.EnvMetricsAddr); addr != "" {
		logger := telemetry.NewLogger(os.Getenv(config.EnvLogLevel), os.Stderr)
		go func() {
			if err := telemetry.StartMetricsServer(context.Background(), addr, telemetry.DefaultMetrics()); err != nil {
				logger.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
			}
		}()
	}

	sdk.RunWithManifest(&Plugin{}, sdk.RunConfig{})
}
