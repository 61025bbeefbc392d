// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"testing"

	"github.com/platform-engineering-labs/formae/pkg/plugin"
	"github.com/platform-engineering-labs/formae/pkg/plugin/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/registry"
	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/resources/compute"
	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/resources/network"
)

func TestPlugin_RegistersEveryKind(t *testing.T) {
	assert.Equal(t, []string{
		compute.ResourceTypeVirtualMachine,
		network.ResourceTypeAddress,
		network.ResourceTypeNetwork,
		network.ResourceTypeSecurityGroup,
		network.ResourceTypeStaticNatBinding,
		network.ResourceTypeVPC,
	}, registry.ListResourceTypes())

	for _, d := range registry.GetAllDescriptors() {
		assert.True(t, d.Discoverable, d.Type)
	}
}

func TestPlugin_RateLimitAndLabels(t *testing.T) {
	p := &Plugin{}

	limit := p.RateLimit()
	assert.Equal(t, plugin.RateLimitScopeNamespace, limit.Scope)
	assert.EqualValues(t, 10, limit.MaxRequestsPerSecondForNamespace)

	labels := p.LabelConfig()
	assert.Equal(t, "$.name", labels.DefaultQuery)
	assert.Equal(t, "$.ipaddress", labels.ResourceOverrides[network.ResourceTypeAddress])
	assert.Nil(t, p.DiscoveryFilters())
}

func TestPlugin_RejectsUnknownType(t *testing.T) {
	p := &Plugin{}

	_, err := p.Create(context.Background(), &resource.CreateRequest{ResourceType: "CloudStack::Storage::Volume"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported resource type")
}

func TestPlugin_RequiresCredentials(t *testing.T) {
	t.Setenv("CLOUDSTACK_API_KEY", "")
	t.Setenv("CLOUDSTACK_SECRET_KEY", "")
	p := &Plugin{}

	_, err := p.Read(context.Background(), &resource.ReadRequest{
		ResourceType: network.ResourceTypeVPC,
		NativeID:     "vpc-1",
		TargetConfig: []byte(`{"endpoint":"https://cloud.example.com/client/api"}`),
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "CLOUDSTACK_API_KEY")
}
