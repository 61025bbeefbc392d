// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package compute

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/platform-engineering-labs/formae/pkg/plugin/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/lifecycle"
	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/prov"
	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/registry"
	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/testutil"
	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/transport/cloudstack"
)

func newVirtualMachine(t *testing.T, fake *testutil.FakeTransport) prov.Provisioner {
	t.Helper()
	cfg := testutil.UnitConfig()
	p, err := registry.Get(ResourceTypeVirtualMachine, testutil.NewClient(fake, cfg), cfg)
	require.NoError(t, err)
	return p
}

func vmJSON(id, state string) string {
	return fmt.Sprintf(`{"id":%q,"name":"web","state":%q,"zoneid":"zone-1","nic":[{"ipaddress":"10.1.1.5","networkid":"net-1"}]}`, id, state)
}

func TestVirtualMachine_CreateStartingThenRunning(t *testing.T) {
	ctx := context.Background()
	fake := testutil.NewFakeTransport().
		On("deployVirtualMachine", testutil.OK(`{"id":"vm-1","jobid":"job-1"}`)).
		On("listVirtualMachines",
			testutil.List("virtualmachine", vmJSON("vm-1", "Starting")),
			testutil.List("virtualmachine", vmJSON("vm-1", "Running"))).
		On("queryAsyncJobResult", testutil.Job(cloudstack.JobPending, 0, ""))
	vm := newVirtualMachine(t, fake)

	created, err := vm.Create(ctx, &resource.CreateRequest{
		ResourceType: ResourceTypeVirtualMachine,
		Label:        "web",
		Properties: []byte(`{
			"name": "web",
			"service_offering_id": "small",
			"template_id": "tmpl-1",
			"user_data": "#cloud-config\n",
			"security_group_ids": ["sg-1", "sg-2"],
			"network_ids": "net-1"
		}`),
	})
	require.NoError(t, err)
	require.NotNil(t, created.ProgressResult)
	assert.Equal(t, resource.OperationStatusInProgress, created.ProgressResult.OperationStatus)
	assert.Equal(t, "vm-1", created.ProgressResult.NativeID)
	require.NotEmpty(t, created.ProgressResult.RequestID)

	deploy := fake.Calls("deployVirtualMachine")
	require.Len(t, deploy, 1)
	assert.Equal(t, http.MethodPost, deploy[0].Method)
	assert.Equal(t, "zone-1", deploy[0].Params.Get("zoneid"), "zone comes from the target when omitted")
	assert.Equal(t, "sg-1,sg-2", deploy[0].Params.Get("securitygroupids"))
	assert.Equal(t, "net-1", deploy[0].Params.Get("networkids"))
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("#cloud-config\n")), deploy[0].Params.Get("userdata"))

	status, err := vm.Status(ctx, &resource.StatusRequest{
		RequestID:    created.ProgressResult.RequestID,
		NativeID:     "vm-1",
		ResourceType: ResourceTypeVirtualMachine,
	})
	require.NoError(t, err)
	assert.Equal(t, resource.OperationStatusInProgress, status.ProgressResult.OperationStatus)
	assert.Equal(t, 1, fake.CallCount("queryAsyncJobResult"))

	status, err = vm.Status(ctx, &resource.StatusRequest{
		RequestID:    status.ProgressResult.RequestID,
		NativeID:     "vm-1",
		ResourceType: ResourceTypeVirtualMachine,
	})
	require.NoError(t, err)
	assert.Equal(t, resource.OperationStatusSuccess, status.ProgressResult.OperationStatus)
	props := gjson.ParseBytes(status.ProgressResult.ResourceProperties)
	assert.Equal(t, "10.1.1.5", props.Get("network_ip").String())
	assert.Equal(t, "Running", props.Get("state").String())
}

func TestVirtualMachine_CreateRejectsMissingTemplate(t *testing.T) {
	fake := testutil.NewFakeTransport()
	vm := newVirtualMachine(t, fake)

	result, err := vm.Create(context.Background(), &resource.CreateRequest{
		ResourceType: ResourceTypeVirtualMachine,
		Properties:   []byte(`{"service_offering_id":"small"}`),
	})

	require.NoError(t, err)
	assert.Equal(t, resource.OperationStatusFailure, result.ProgressResult.OperationStatus)
	assert.Equal(t, resource.OperationErrorCodeInvalidRequest, result.ProgressResult.ErrorCode)
	assert.Zero(t, fake.CallCount("deployVirtualMachine"))
}

func TestVirtualMachine_UserDataLimitCountsBytes(t *testing.T) {
	base := map[string]any{
		"service_offering_id": "small",
		"template_id":         "ubuntu",
		"zone_id":             "zone-1",
	}
	withUserData := func(data string) map[string]any {
		params := map[string]any{"user_data": data}
		for k, v := range base {
			params[k] = v
		}
		return params
	}

	tests := []struct {
		name     string
		userData string
		wantErr  bool
	}{
		{"ascii at the limit", strings.Repeat("a", 24576), false},
		{"ascii over the limit", strings.Repeat("a", 24577), true},
		{"multibyte within rune count but over in bytes", strings.Repeat("é", 24576), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := testutil.NewFakeTransport().
				On("deployVirtualMachine", testutil.OK(`{"id":"vm-1","jobid":"job-1"}`))

			_, err := deployVirtualMachine(context.Background(), fake, withUserData(tt.userData))

			if tt.wantErr {
				var verr *lifecycle.ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Zero(t, fake.CallCount("deployVirtualMachine"))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 1, fake.CallCount("deployVirtualMachine"))
		})
	}
}

func TestVirtualMachine_CreateErrorStateFails(t *testing.T) {
	fake := testutil.NewFakeTransport().
		On("listVirtualMachines", testutil.List("virtualmachine", vmJSON("vm-1", "Error")))
	vm := newVirtualMachine(t, fake)

	status, err := vm.Status(context.Background(), &resource.StatusRequest{
		RequestID: "op=create&id=vm-1",
		NativeID:  "vm-1",
	})

	require.NoError(t, err)
	assert.Equal(t, resource.OperationStatusFailure, status.ProgressResult.OperationStatus)
	assert.Contains(t, status.ProgressResult.StatusMessage, "Error")
}

func TestVirtualMachine_DeleteFallsBackWithoutExpunge(t *testing.T) {
	ctx := context.Background()
	fake := testutil.NewFakeTransport().
		On("destroyVirtualMachine",
			testutil.OK(`{"jobid":"job-1"}`),
			testutil.OK(`{"jobid":"job-2"}`)).
		On("listVirtualMachines",
			testutil.List("virtualmachine", vmJSON("vm-1", "Stopping")),
			testutil.List("virtualmachine", vmJSON("vm-1", "Destroyed"))).
		On("queryAsyncJobResult",
			testutil.Job(cloudstack.JobFailed, 530, `{"errorcode":530,"errortext":"Permission denied to expunge"}`))
	vm := newVirtualMachine(t, fake)

	deleted, err := vm.Delete(ctx, &resource.DeleteRequest{
		ResourceType: ResourceTypeVirtualMachine,
		NativeID:     "vm-1",
	})
	require.NoError(t, err)
	assert.Equal(t, resource.OperationDelete, deleted.ProgressResult.Operation)
	assert.Equal(t, resource.OperationStatusInProgress, deleted.ProgressResult.OperationStatus)

	status, err := vm.Status(ctx, &resource.StatusRequest{RequestID: deleted.ProgressResult.RequestID, NativeID: "vm-1"})
	require.NoError(t, err)
	assert.Equal(t, resource.OperationStatusInProgress, status.ProgressResult.OperationStatus)

	destroys := fake.Calls("destroyVirtualMachine")
	require.Len(t, destroys, 2)
	assert.Equal(t, "true", destroys[0].Params.Get("expunge"))
	assert.Equal(t, "false", destroys[1].Params.Get("expunge"))

	status, err = vm.Status(ctx, &resource.StatusRequest{RequestID: status.ProgressResult.RequestID, NativeID: "vm-1"})
	require.NoError(t, err)
	assert.Equal(t, resource.OperationStatusSuccess, status.ProgressResult.OperationStatus)
}

func TestVirtualMachine_DeleteAlreadyGone(t *testing.T) {
	fake := testutil.NewFakeTransport().
		On("destroyVirtualMachine", testutil.Fail(cloudstack.CodeParamError, "Unable to execute API command due to invalid value"))
	vm := newVirtualMachine(t, fake)

	deleted, err := vm.Delete(context.Background(), &resource.DeleteRequest{NativeID: "vm-1"})

	require.NoError(t, err)
	assert.Equal(t, resource.OperationStatusSuccess, deleted.ProgressResult.OperationStatus)
}

func TestVirtualMachine_ReadAndList(t *testing.T) {
	ctx := context.Background()
	fake := testutil.NewFakeTransport().
		On("listVirtualMachines",
			testutil.List("virtualmachine", vmJSON("vm-1", "Running")),
			testutil.Empty(),
			testutil.List("virtualmachine", vmJSON("vm-1", "Running"), vmJSON("vm-2", "Stopped")))
	vm := newVirtualMachine(t, fake)

	read, err := vm.Read(ctx, &resource.ReadRequest{NativeID: "vm-1"})
	require.NoError(t, err)
	assert.Equal(t, "net-1", gjson.Get(read.Properties, "network_ids.0").String())

	read, err = vm.Read(ctx, &resource.ReadRequest{NativeID: "vm-1"})
	require.NoError(t, err)
	assert.Equal(t, resource.OperationErrorCodeNotFound, read.ErrorCode)

	listed, err := vm.List(ctx, &resource.ListRequest{ResourceType: ResourceTypeVirtualMachine})
	require.NoError(t, err)
	assert.Equal(t, []string{"vm-1", "vm-2"}, listed.NativeIDs)
	assert.Equal(t, "zone-1", fake.Calls("listVirtualMachines")[2].Params.Get("zoneid"))
}

func TestVirtualMachine_UpdateNotSupported(t *testing.T) {
	vm := newVirtualMachine(t, testutil.NewFakeTransport())

	result, err := vm.Update(context.Background(), &resource.UpdateRequest{NativeID: "vm-1"})

	require.NoError(t, err)
	assert.Equal(t, resource.OperationErrorCodeNotUpdatable, result.ProgressResult.ErrorCode)
}

func TestVirtualMachine_SuspendResume(t *testing.T) {
	ctx := context.Background()
	fake := testutil.NewFakeTransport().
		On("stopVirtualMachine", testutil.OK(`{"jobid":"job-stop"}`)).
		On("startVirtualMachine", testutil.OK(`{"jobid":"job-start"}`)).
		On("listVirtualMachines",
			testutil.List("virtualmachine", vmJSON("vm-1", "Stopped")),
			testutil.List("virtualmachine", vmJSON("vm-1", "running")))
	ctrl, err := lifecycle.NewController(VirtualMachineStrategy(), fake)
	require.NoError(t, err)
	d := lifecycle.Restore(lifecycle.KindVirtualMachine, nil, lifecycle.Snapshot{RemoteID: "vm-1", State: lifecycle.StateActive})

	require.NoError(t, ctrl.Suspend(ctx, d))
	done, err := ctrl.IsSuspendComplete(ctx, d)
	require.NoError(t, err)
	assert.True(t, done)

	require.NoError(t, ctrl.Resume(ctx, d))
	done, err = ctrl.IsResumeComplete(ctx, d)
	require.NoError(t, err)
	assert.True(t, done, "state comparison ignores case")
	assert.Equal(t, lifecycle.StateActive, d.State())
}
