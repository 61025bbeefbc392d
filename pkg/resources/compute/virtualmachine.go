// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package compute

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/platform-engineering-labs/formae/pkg/model"
	"github.com/tidwall/gjson"

	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/lifecycle"
	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/resources"
	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/resources/base"
	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/transport/cloudstack"
)

const (
	ResourceTypeVirtualMachine = "CloudStack::Compute::VirtualMachine"

	// maxUserDataEncoded is the largest base64 user data deployVirtualMachine accepts over POST.
	maxUserDataEncoded = 32768
)

// VirtualMachine schema
var VirtualMachineSchema = model.Schema{
	Identifier:   "id",
	Discoverable: true,
	Fields: []string{
		"name", "service_offering_id", "template_id", "zone_id",
		"user_data", "key_pair", "security_group_ids", "network_ids", "ipaddress",
	},
	Hints: map[string]model.FieldHint{
		"name":                {CreateOnly: true},
		"service_offering_id": {Required: true, CreateOnly: true},
		"template_id":         {Required: true, CreateOnly: true},
		"zone_id":             {Required: true, CreateOnly: true},
		"user_data":           {CreateOnly: true},
		"key_pair":            {CreateOnly: true},
		"security_group_ids":  {CreateOnly: true},
		"network_ids":         {CreateOnly: true},
		"ipaddress":           {CreateOnly: true},
	},
}

// virtualMachineParams are the declared properties of a virtual machine.
type virtualMachineParams struct {
	Name              string           `json:"name" validate:"omitempty,max=63"`
	ServiceOfferingID string           `json:"service_offering_id" validate:"required"`
	TemplateID        string           `json:"template_id" validate:"required"`
	ZoneID            string           `json:"zone_id" validate:"required"`
	UserData          string           `json:"user_data"`
	KeyPair           string           `json:"key_pair"`
	SecurityGroupIDs  resources.IDList `json:"security_group_ids"`
	NetworkIDs        resources.IDList `json:"network_ids"`
	IPAddress         string           `json:"ipaddress" validate:"omitempty,ip"`
}

func init() {
	base.Register(base.Definition{
		ResourceType: ResourceTypeVirtualMachine,
		Discoverable: true,
		Schema:       VirtualMachineSchema,
		Strategy:     VirtualMachineStrategy(),
		ZoneProperty: "zone_id",
		Properties: map[string]string{
			"id":                  "id",
			"name":                "name",
			"state":               "state",
			"service_offering_id": "serviceofferingid",
			"template_id":         "templateid",
			"zone_id":             "zoneid",
			"key_pair":            "keypair",
			"network_ip":          "nic.0.ipaddress",
			"network_ids":         "nic.#.networkid",
			"security_group_ids":  "securitygroup.#.id",
		},
	})
}

// VirtualMachineStrategy deploys instances and drives them through
// stop/start. Delete expunges, falling back to a plain destroy when the
// expunge job fails with an internal error (typically missing rights).
func VirtualMachineStrategy() lifecycle.Strategy {
	return lifecycle.Strategy{
		Kind:           lifecycle.KindVirtualMachine,
		Create:         deployVirtualMachine,
		CreateComplete: vmStateIs("Running"),
		Query: &lifecycle.QuerySpec{
			Command: "listVirtualMachines",
			ListKey: "virtualmachine",
		},
		Delete:          destroyVirtualMachine(true),
		DeleteComplete:  vmDestroyed,
		DeleteFallback:  destroyWithoutExpunge,
		Suspend:         lifecycle.CallByID("stopVirtualMachine"),
		SuspendComplete: vmStateIs("Stopped"),
		Resume:          lifecycle.CallByID("startVirtualMachine"),
		ResumeComplete:  vmStateIs("Running"),
		Attributes: map[string]string{
			"id":         "id",
			"name":       "name",
			"state":      "state",
			"network_ip": "nic.0.ipaddress",
		},
		Errors: lifecycle.DefaultErrorTable(),
	}
}

func deployVirtualMachine(ctx context.Context, t lifecycle.TransportClient, params map[string]any) (lifecycle.CreateOutcome, error) {
	var p virtualMachineParams
	if err := lifecycle.DecodeParameters(lifecycle.KindVirtualMachine, params, &p); err != nil {
		return lifecycle.CreateOutcome{}, err
	}

	q := url.Values{}
	q.Set("serviceofferingid", p.ServiceOfferingID)
	q.Set("templateid", p.TemplateID)
	q.Set("zoneid", p.ZoneID)
	if p.Name != "" {
		q.Set("name", p.Name)
	}
	if p.UserData != "" {
		encoded := base64.StdEncoding.EncodeToString([]byte(p.UserData))
		if len(encoded) > maxUserDataEncoded {
			return lifecycle.CreateOutcome{}, &lifecycle.ValidationError{
				Kind: lifecycle.KindVirtualMachine,
				Err:  fmt.Errorf("user_data is %d bytes, %d once encoded; the limit is %d encoded", len(p.UserData), len(encoded), maxUserDataEncoded),
			}
		}
		q.Set("userdata", encoded)
	}
	if p.KeyPair != "" {
		q.Set("keypair", p.KeyPair)
	}
	if len(p.SecurityGroupIDs) > 0 {
		q.Set("securitygroupids", p.SecurityGroupIDs.String())
	}
	if len(p.NetworkIDs) > 0 {
		q.Set("networkids", p.NetworkIDs.String())
	}
	if p.IPAddress != "" {
		q.Set("ipaddress", p.IPAddress)
	}

	// POST keeps large user data out of the query string
	resp, err := t.Do(ctx, cloudstack.Request{
		Command: "deployVirtualMachine",
		Params:  q,
		Method:  http.MethodPost,
	})
	if err != nil {
		return lifecycle.CreateOutcome{}, err
	}
	return lifecycle.CreateOutcome{RemoteID: resp.ID(), JobID: resp.JobID()}, nil
}

func vmStateIs(want string) lifecycle.Predicate {
	return func(vm gjson.Result) (bool, error) {
		state := vm.Get("state").String()
		if strings.EqualFold(state, "Error") {
			return false, fmt.Errorf("virtual machine %s is in state %s", vm.Get("id").String(), state)
		}
		return strings.EqualFold(state, want), nil
	}
}

// vmDestroyed accepts a machine that is still listed but on its way out;
// without expunge it stays listed as Destroyed until the cleanup interval.
func vmDestroyed(vm gjson.Result) (bool, error) {
	state := vm.Get("state").String()
	return strings.EqualFold(state, "Destroyed") || strings.EqualFold(state, "Expunging"), nil
}

func destroyVirtualMachine(expunge bool) lifecycle.RemoteFunc {
	return func(ctx context.Context, t lifecycle.TransportClient, remoteID string) (string, error) {
		resp, err := t.Do(ctx, cloudstack.Request{
			Command: "destroyVirtualMachine",
			Params: url.Values{
				"id":      {remoteID},
				"expunge": {strconv.FormatBool(expunge)},
			},
		})
		if err != nil {
			return "", err
		}
		return resp.JobID(), nil
	}
}

func destroyWithoutExpunge(ctx context.Context, t lifecycle.TransportClient, remoteID string, job *cloudstack.Job) (string, bool, error) {
	code, _ := cloudstack.APICode(job.Err())
	if job.ResultCode != cloudstack.CodeInternalError && code != cloudstack.CodeInternalError {
		return "", false, nil
	}
	jobID, err := destroyVirtualMachine(false)(ctx, t, remoteID)
	if err != nil {
		return "", false, err
	}
	return jobID, true, nil
}
