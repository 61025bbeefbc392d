// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/platform-engineering-labs/formae/pkg/plugin/resource"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/client"
	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/config"
	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/telemetry"
	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/transport/cloudstack"
)

var (
	// CloudStack API configuration - read from environment variables
	Endpoint  = os.Getenv(config.EnvEndpoint)
	APIKey    = os.Getenv(config.EnvAPIKey)
	SecretKey = os.Getenv(config.EnvSecretKey)

	// Zone for testing
	ZoneID = os.Getenv(config.EnvZone)

	// Offerings and templates differ per cloud; tests needing them skip when unset.
	TestServiceOfferingID = getEnvOrDefault("CLOUDSTACK_TEST_SERVICE_OFFERING_ID", "")
	TestTemplateID        = getEnvOrDefault("CLOUDSTACK_TEST_TEMPLATE_ID", "")
	TestNetworkOfferingID = getEnvOrDefault("CLOUDSTACK_TEST_NETWORK_OFFERING_ID", "")
	TestVPCOfferingID     = getEnvOrDefault("CLOUDSTACK_TEST_VPC_OFFERING_ID", "")
)

// getEnvOrDefault returns the environment variable value or the default if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// IsConfigured returns true if the CloudStack endpoint and credentials are set
func IsConfigured() bool {
	return Endpoint != "" && APIKey != "" && SecretKey != "" && ZoneID != ""
}

// SkipIfNotConfigured skips the test if the CloudStack environment is not set
func SkipIfNotConfigured(t interface{ Skip(...any) }) {
	if !IsConfigured() {
		t.Skip("Skipping test: CloudStack not configured. Set CLOUDSTACK_API_URL, CLOUDSTACK_API_KEY, CLOUDSTACK_SECRET_KEY and CLOUDSTACK_ZONE environment variables.")
	}
}

// SkipIfComputeNotConfigured additionally requires an offering and a template.
func SkipIfComputeNotConfigured(t interface{ Skip(...any) }) {
	SkipIfNotConfigured(t)
	if TestServiceOfferingID == "" || TestTemplateID == "" {
		t.Skip("Skipping test: set CLOUDSTACK_TEST_SERVICE_OFFERING_ID and CLOUDSTACK_TEST_TEMPLATE_ID.")
	}
}

// TargetConfig returns the target config JSON for the environment.
func TargetConfig() json.RawMessage {
	raw, _ := json.Marshal(map[string]any{
		"endpoint": Endpoint,
		"zone":     ZoneID,
	})
	return raw
}

// NewID returns a random UUID, the identifier format CloudStack uses.
func NewID() string {
	return uuid.NewString()
}

// UnitConfig is a configuration for tests against a FakeTransport: zone
// "zone-1", three delete attempts and no wait between them.
func UnitConfig() *config.Config {
	return &config.Config{
		Endpoint:       "https://cloud.example.com/client/api",
		Zone:           "zone-1",
		TimeoutSeconds: 5,
		DeleteRetryMax: 3,
		APIKey:         "api-key",
		SecretKey:      "secret-key",
	}
}

// NewClient wraps a transport in a client with a silent logger and private metrics.
func NewClient(d cloudstack.Doer, cfg *config.Config) *client.Client {
	return &client.Client{
		Config:    cfg,
		Transport: d,
		Logger:    zerolog.Nop(),
		Metrics:   telemetry.NewMetrics(),
	}
}

// Reply is one scripted answer of a FakeTransport.
type Reply struct {
	Body string
	Err  error
}

// OK answers with body as the unwrapped response object.
func OK(body string) Reply {
	return Reply{Body: body}
}

// Empty answers with an empty object, which is what CloudStack sends for a
// list command that matched nothing.
func Empty() Reply {
	return OK(`{}`)
}

// Fail answers with a CloudStack API error.
func Fail(code int, message string) Reply {
	return Reply{Err: cloudstack.NewAPIError(code, message)}
}

// Unreachable answers with a failure below the API, carrying no error code.
func Unreachable(message string) Reply {
	return Reply{Err: cloudstack.NewError(cloudstack.ErrorCodeUnavailable, message, nil)}
}

// List answers a list command with items under key.
func List(key string, items ...string) Reply {
	return OK(fmt.Sprintf(`{"count":%d,%q:[%s]}`, len(items), key, strings.Join(items, ",")))
}

// Job answers queryAsyncJobResult.
func Job(status cloudstack.JobStatus, resultCode int, result string) Reply {
	if result == "" {
		result = `{}`
	}
	return OK(fmt.Sprintf(`{"jobstatus":%d,"jobresultcode":%d,"jobresult":%s}`, status, resultCode, result))
}

// FakeTransport is a scripted cloudstack.Doer. Each command has a queue of
// replies; the last reply of a queue repeats. Commands without a script
// fail the call.
type FakeTransport struct {
	mu      sync.Mutex
	replies map[string][]Reply
	calls   []cloudstack.Request
}

var _ cloudstack.Doer = (*FakeTransport)(nil)

// NewFakeTransport creates an empty FakeTransport.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{replies: map[string][]Reply{}}
}

// On appends replies to command's queue.
func (f *FakeTransport) On(command string, replies ...Reply) *FakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[command] = append(f.replies[command], replies...)
	return f
}

// Do implements cloudstack.Doer.
func (f *FakeTransport) Do(ctx context.Context, req cloudstack.Request) (*cloudstack.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	recorded := req
	if req.Params != nil {
		recorded.Params = make(map[string][]string, len(req.Params))
		for k, v := range req.Params {
			recorded.Params[k] = append([]string(nil), v...)
		}
	}
	f.calls = append(f.calls, recorded)

	queue := f.replies[req.Command]
	if len(queue) == 0 {
		return nil, fmt.Errorf("fake transport: unexpected command %s", req.Command)
	}
	reply := queue[0]
	if len(queue) > 1 {
		f.replies[req.Command] = queue[1:]
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	return &cloudstack.Response{
		StatusCode: 200,
		Command:    req.Command,
		Body:       gjson.Parse(reply.Body),
	}, nil
}

// Calls returns the recorded requests for command, in order.
func (f *FakeTransport) Calls(command string) []cloudstack.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []cloudstack.Request
	for _, c := range f.calls {
		if c.Command == command {
			out = append(out, c)
		}
	}
	return out
}

// CallCount returns how many times command was issued.
func (f *FakeTransport) CallCount(command string) int {
	return len(f.Calls(command))
}

// StatusChecker defines the interface for checking operation status
type StatusChecker interface {
	Status(ctx context.Context, request *resource.StatusRequest) (*resource.StatusResult, error)
}

// PollConfig configures the polling behavior
type PollConfig struct {
	MaxAttempts   int
	CheckInterval time.Duration
	ResourceType  string
	OperationName string // "Create", "Delete" for better logging
}

// DefaultPollConfig returns sensible defaults for polling
func DefaultPollConfig() PollConfig {
	return PollConfig{
		MaxAttempts:   100,
		CheckInterval: 5 * time.Second,
		OperationName: "Operation",
	}
}

// PollConfigBuilder provides a fluent API for building PollConfig
type PollConfigBuilder struct {
	config PollConfig
}

// NewPollConfig creates a new PollConfigBuilder with defaults
func NewPollConfig() *PollConfigBuilder {
	return &PollConfigBuilder{config: DefaultPollConfig()}
}

func (b *PollConfigBuilder) WithMaxAttempts(attempts int) *PollConfigBuilder {
	b.config.MaxAttempts = attempts
	return b
}

func (b *PollConfigBuilder) WithCheckInterval(interval time.Duration) *PollConfigBuilder {
	b.config.CheckInterval = interval
	return b
}

func (b *PollConfigBuilder) WithResourceType(resourceType string) *PollConfigBuilder {
	b.config.ResourceType = resourceType
	return b
}

// ForCreate configures for a create operation
func (b *PollConfigBuilder) ForCreate() *PollConfigBuilder {
	b.config.OperationName = "Create"
	return b
}

// ForDelete configures for a delete operation. Deletes of in-use objects
// wait out the plugin's retry window, so allow for it.
func (b *PollConfigBuilder) ForDelete() *PollConfigBuilder {
	b.config.OperationName = "Delete"
	b.config.MaxAttempts = 40
	return b
}

// ForVirtualMachine configures for deploy/destroy of an instance, which
// commonly takes several minutes.
func (b *PollConfigBuilder) ForVirtualMachine() *PollConfigBuilder {
	b.config.MaxAttempts = 200 // ~20 minutes with 6s intervals
	b.config.CheckInterval = 6 * time.Second
	return b
}

// Build returns the final PollConfig
func (b *PollConfigBuilder) Build() PollConfig {
	return b.config
}

// PollUntilComplete polls Status until the operation completes or times out.
// The request id is replaced by the one each status result hands back, so
// tokens that carry attempt counters advance.
func PollUntilComplete(
	t *testing.T,
	ctx context.Context,
	checker StatusChecker,
	progress *resource.ProgressResult,
	targetConfig json.RawMessage,
	config PollConfig,
) (*resource.ProgressResult, error) {
	t.Helper()
	require.NotNil(t, progress, "%s progress result should not be nil", config.OperationName)

	if config.MaxAttempts == 0 {
		config.MaxAttempts = 30
	}
	if config.CheckInterval == 0 {
		config.CheckInterval = 2 * time.Second
	}

	current := progress
	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		switch current.OperationStatus {
		case resource.OperationStatusSuccess:
			t.Logf("%s completed with native ID: %s", config.OperationName, current.NativeID)
			return current, nil
		case resource.OperationStatusFailure:
			return current, fmt.Errorf("%s operation failed: %s (error code: %s)",
				config.OperationName, current.StatusMessage, current.ErrorCode)
		}

		time.Sleep(config.CheckInterval)

		result, err := checker.Status(ctx, &resource.StatusRequest{
			RequestID:    current.RequestID,
			NativeID:     current.NativeID,
			ResourceType: config.ResourceType,
			TargetConfig: targetConfig,
		})
		require.NoError(t, err, "%s status check should not return error", config.OperationName)
		require.NotNil(t, result, "%s status result should not be nil", config.OperationName)
		require.NotNil(t, result.ProgressResult, "%s progress result should not be nil", config.OperationName)

		t.Logf("%s status check attempt %d/%d: %s (status: %s)",
			config.OperationName, attempt+1, config.MaxAttempts,
			result.ProgressResult.StatusMessage, result.ProgressResult.OperationStatus)
		current = result.ProgressResult
	}

	return current, fmt.Errorf("%s operation timed out after %d attempts", config.OperationName, config.MaxAttempts)
}
