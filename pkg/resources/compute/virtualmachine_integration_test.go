// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

//go:build integration

package compute

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/platform-engineering-labs/formae/pkg/plugin/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/client"
	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/config"
	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/lifecycle"
	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/registry"
	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/testutil"
)

func TestVirtualMachine_StopStart_Integration(t *testing.T) {
	testutil.SkipIfComputeNotConfigured(t)

	cfg, err := config.FromTargetConfig(testutil.TargetConfig())
	require.NoError(t, err)
	c, err := client.NewClient(cfg)
	require.NoError(t, err)

	ctrl, err := lifecycle.NewController(VirtualMachineStrategy(), c.Transport,
		lifecycle.WithLogger(c.Logger),
		lifecycle.WithMetrics(c.Metrics),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	opts := lifecycle.DefaultWaitOptions()
	opts.Interval = 5 * time.Second

	d := lifecycle.NewDescriptor(lifecycle.KindVirtualMachine, map[string]any{
		"name":                fmt.Sprintf("formae-test-vm-%d", time.Now().Unix()),
		"service_offering_id": testutil.TestServiceOfferingID,
		"template_id":         testutil.TestTemplateID,
		"zone_id":             testutil.ZoneID,
	})

	_, err = lifecycle.CreateAndWait(ctx, ctrl, d, opts)
	t.Cleanup(func() {
		if d.RemoteID() == "" {
			return
		}
		assert.NoError(t, lifecycle.DeleteAndWait(context.Background(), ctrl, d, opts))
	})
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateActive, d.State())

	ip, err := ctrl.ResolveAttribute(ctx, d, "network_ip")
	require.NoError(t, err)
	assert.NotEmpty(t, ip)

	require.NoError(t, ctrl.Suspend(ctx, d))
	require.NoError(t, lifecycle.WaitForSuspend(ctx, ctrl, d, opts))
	assert.Equal(t, lifecycle.StateSuspended, d.State())

	require.NoError(t, ctrl.Resume(ctx, d))
	require.NoError(t, lifecycle.WaitForResume(ctx, ctrl, d, opts))
	assert.Equal(t, lifecycle.StateActive, d.State())
}

func TestVirtualMachine_DeployDestroy_Integration(t *testing.T) {
	testutil.SkipIfComputeNotConfigured(t)
	ctx := context.Background()
	targetConfig := testutil.TargetConfig()

	cfg, err := config.FromTargetConfig(targetConfig)
	require.NoError(t, err)
	c, err := client.NewClient(cfg)
	require.NoError(t, err)
	vm, err := registry.Get(ResourceTypeVirtualMachine, c, cfg)
	require.NoError(t, err)

	name := "formae-test-" + testutil.NewID()[:8]
	created, err := vm.Create(ctx, &resource.CreateRequest{
		ResourceType: ResourceTypeVirtualMachine,
		Label:        name,
		Properties: []byte(fmt.Sprintf(`{
			"name": %q,
			"service_offering_id": %q,
			"template_id": %q,
			"user_data": "#cloud-config\nruncmd: []\n"
		}`, name, testutil.TestServiceOfferingID, testutil.TestTemplateID)),
		TargetConfig: targetConfig,
	})
	require.NoError(t, err)
	nativeID := created.ProgressResult.NativeID
	require.NotEmpty(t, nativeID)

	t.Cleanup(func() {
		deleted, err := vm.Delete(ctx, &resource.DeleteRequest{
			ResourceType: ResourceTypeVirtualMachine,
			NativeID:     nativeID,
			TargetConfig: targetConfig,
		})
		require.NoError(t, err)
		final, err := testutil.PollUntilComplete(t, ctx, vm, deleted.ProgressResult, targetConfig,
			testutil.NewPollConfig().ForDelete().ForVirtualMachine().WithResourceType(ResourceTypeVirtualMachine).Build())
		assert.NoError(t, err)
		assert.Equal(t, resource.OperationStatusSuccess, final.OperationStatus)
	})

	final, err := testutil.PollUntilComplete(t, ctx, vm, created.ProgressResult, targetConfig,
		testutil.NewPollConfig().ForCreate().ForVirtualMachine().WithResourceType(ResourceTypeVirtualMachine).Build())
	require.NoError(t, err)
	assert.Equal(t, name, gjson.GetBytes(final.ResourceProperties, "name").String())
	assert.NotEmpty(t, gjson.GetBytes(final.ResourceProperties, "network_ip").String())
}
