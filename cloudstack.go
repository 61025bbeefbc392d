// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/platform-engineering-labs/formae/pkg/plugin"
	"github.com/platform-engineering-labs/formae/pkg/plugin/resource"

	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/client"
	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/config"
	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/prov"
	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/registry"
	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/resources/network"

	// Import resources to trigger init() registration
	_ "github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/resources/compute"
)

// Plugin implements the Formae ResourcePlugin interface.
// The SDK automatically provides identity methods (Name, Version, Namespace)
// and schema methods (SupportedResources, SchemaForResourceType) by reading
// formae-plugin.pkl and schema/pkl/ at startup.
type Plugin struct{}

// Compile-time check: Plugin must satisfy ResourcePlugin interface.
var _ plugin.ResourcePlugin = &Plugin{}

// RateLimit returns the rate limit configuration for this plugin
func (p *Plugin) RateLimit() plugin.RateLimitConfig {
	return plugin.RateLimitConfig{
		Scope:                            plugin.RateLimitScopeNamespace,
		MaxRequestsPerSecondForNamespace: 10, // CloudStack's default api.throttling.max is 25 per second per account
	}
}

// DiscoveryFilters returns declarative filters for discovery.
// CloudStack doesn't need any special filters currently.
func (p *Plugin) DiscoveryFilters() []plugin.MatchFilter {
	return nil
}

// LabelConfig returns the label extraction configuration for discovered
// resources. Addresses and NAT bindings have no name of their own.
func (p *Plugin) LabelConfig() plugin.LabelConfig {
	return plugin.LabelConfig{
		DefaultQuery: "$.name",
		ResourceOverrides: map[string]string{
			network.ResourceTypeAddress:          "$.ipaddress",
			network.ResourceTypeStaticNatBinding: "$.ipaddress_id",
		},
	}
}

// provisionerFor builds the configuration and client for one request and
// returns the provisioner registered for resourceType.
func provisionerFor(resourceType string, targetConfig json.RawMessage) (prov.Provisioner, error) {
	if !registry.HasProvisioner(resourceType) {
		return nil, fmt.Errorf("unsupported resource type: %s", resourceType)
	}

	cfg, err := config.FromTargetConfig(targetConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to extract config from target: %w", err)
	}

	csClient, err := client.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create CloudStack client: %w", err)
	}

	return registry.Get(resourceType, csClient, cfg)
}

func (p *Plugin) Create(ctx context.Context, request *resource.CreateRequest) (*resource.CreateResult, error) {
	provisioner, err := provisionerFor(request.ResourceType, request.TargetConfig)
	if err != nil {
		return nil, err
	}
	return provisioner.Create(ctx, request)
}

func (p *Plugin) Read(ctx context.Context, request *resource.ReadRequest) (*resource.ReadResult, error) {
	provisioner, err := provisionerFor(request.ResourceType, request.TargetConfig)
	if err != nil {
		return nil, err
	}
	return provisioner.Read(ctx, request)
}

func (p *Plugin) Update(ctx context.Context, request *resource.UpdateRequest) (*resource.UpdateResult, error) {
	provisioner, err := provisionerFor(request.ResourceType, request.TargetConfig)
	if err != nil {
		return nil, err
	}
	return provisioner.Update(ctx, request)
}

func (p *Plugin) Delete(ctx context.Context, request *resource.DeleteRequest) (*resource.DeleteResult, error) {
	provisioner, err := provisionerFor(request.ResourceType, request.TargetConfig)
	if err != nil {
		return nil, err
	}
	return provisioner.Delete(ctx, request)
}

func (p *Plugin) Status(ctx context.Context, request *resource.StatusRequest) (*resource.StatusResult, error) {
	provisioner, err := provisionerFor(request.ResourceType, request.TargetConfig)
	if err != nil {
		return nil, err
	}
	return provisioner.Status(ctx, request)
}

func (p *Plugin) List(ctx context.Context, request *resource.ListRequest) (*resource.ListResult, error) {
	provisioner, err := provisionerFor(request.ResourceType, request.TargetConfig)
	if err != nil {
		return nil, err
	}
	return provisioner.List(ctx, request)
}
