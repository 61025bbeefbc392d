// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/platform-engineering-labs/formae/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setCredentials(t *testing.T) {
	t.Setenv(EnvAPIKey, "api-key")
	t.Setenv(EnvSecretKey, "secret-key")
}

func TestFromTargetConfig_ReadsTargetAndEnvironment(t *testing.T) {
	setCredentials(t)
	t.Setenv(EnvLogLevel, "debug")

	cfg, err := FromTargetConfig(json.RawMessage(`{
		"endpoint": "https://cloud.example.com/client/api",
		"zone": "zone-1",
		"deleteRetryMax": 3,
		"deleteRetryWaitSeconds": 2
	}`))

	require.NoError(t, err)
	assert.Equal(t, "https://cloud.example.com/client/api", cfg.Endpoint)
	assert.Equal(t, "zone-1", cfg.Zone)
	assert.Equal(t, "api-key", cfg.APIKey)
	assert.Equal(t, "secret-key", cfg.SecretKey)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 3, cfg.DeleteRetryMax)
	assert.Equal(t, 2*time.Second, cfg.DeleteRetryWait())
	assert.Equal(t, DefaultRetryMax, cfg.RetryMax)
	assert.Equal(t, time.Duration(DefaultTimeoutSeconds)*time.Second, cfg.Timeout())
}

func TestFromTargetConfig_EndpointFallsBackToEnvironment(t *testing.T) {
	setCredentials(t)
	t.Setenv(EnvEndpoint, "http://localhost:8080/client/api")

	cfg, err := FromTargetConfig(nil)

	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/client/api", cfg.Endpoint)
}

func TestFromTargetConfig_CredentialsNeverComeFromTarget(t *testing.T) {
	t.Setenv(EnvAPIKey, "")
	t.Setenv(EnvSecretKey, "")

	_, err := FromTargetConfig(json.RawMessage(`{"endpoint":"https://cloud.example.com/client/api","APIKey":"leaked"}`))

	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvAPIKey)
	assert.Contains(t, err.Error(), EnvSecretKey)
}

func TestFromTargetConfig_Invalid(t *testing.T) {
	setCredentials(t)
	t.Setenv(EnvEndpoint, "")

	tests := []struct {
		name    string
		target  string
		wantErr string
	}{
		{"missing endpoint", `{}`, "endpoint is required"},
		{"bad endpoint", `{"endpoint":"not a url"}`, "not a valid URL"},
		{"negative retries", `{"endpoint":"https://c/client/api","retryMax":-1}`, "RetryMax"},
		{"malformed json", `{"endpoint":`, "failed to unmarshal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromTargetConfig(json.RawMessage(tt.target))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFromTarget(t *testing.T) {
	setCredentials(t)

	_, err := FromTarget(nil)
	assert.Error(t, err)

	cfg, err := FromTarget(&model.Target{
		Namespace: "CloudStack",
		Config:    json.RawMessage(`{"endpoint":"https://cloud.example.com/client/api"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "https://cloud.example.com/client/api", cfg.Endpoint)
}
