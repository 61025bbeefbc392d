// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package network

import (
	"context"
	"net/url"

	"github.com/platform-engineering-labs/formae/pkg/model"

	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/lifecycle"
	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/resources/base"
	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/transport/cloudstack"
)

const (
	ResourceTypeVPC = "CloudStack::Network::VPC"
)

// VPC schema
var VPCSchema = model.Schema{
	Identifier:   "id",
	Discoverable: true,
	Fields:       []string{"name", "display_text", "zone_id", "vpc_offering_id", "cidr"},
	Hints: map[string]model.FieldHint{
		"name":            {Required: true, CreateOnly: true},
		"display_text":    {Required: true, CreateOnly: true},
		"zone_id":         {Required: true, CreateOnly: true},
		"vpc_offering_id": {Required: true, CreateOnly: true},
		"cidr":            {Required: true, CreateOnly: true},
	},
}

type vpcParams struct {
	Name          string `json:"name" validate:"required"`
	DisplayText   string `json:"display_text" validate:"required"`
	ZoneID        string `json:"zone_id" validate:"required"`
	VPCOfferingID string `json:"vpc_offering_id" validate:"required"`
	CIDR          string `json:"cidr" validate:"required,cidrv4"`
}

func init() {
	base.Register(base.Definition{
		ResourceType: ResourceTypeVPC,
		Discoverable: true,
		Schema:       VPCSchema,
		Strategy:     VPCStrategy(),
		ZoneProperty: "zone_id",
		Properties: map[string]string{
			"id":              "id",
			"name":            "name",
			"display_text":    "displaytext",
			"zone_id":         "zoneid",
			"vpc_offering_id": "vpcofferingid",
			"cidr":            "cidr",
			"state":           "state",
		},
	})
}

// VPCStrategy creates VPCs. createVPC is asynchronous; the VPC is listed
// as soon as the job is accepted, and a failed job is caught while polling.
func VPCStrategy() lifecycle.Strategy {
	return lifecycle.Strategy{
		Kind:           lifecycle.KindVPC,
		Create:         createVPC,
		CreateComplete: lifecycle.Present,
		Query: &lifecycle.QuerySpec{
			Command: "listVPCs",
			ListKey: "vpc",
		},
		Delete: lifecycle.CallByID("deleteVPC"),
		Attributes: map[string]string{
			"id":    "id",
			"name":  "name",
			"cidr":  "cidr",
			"state": "state",
		},
		Errors: lifecycle.InUseErrorTable(),
	}
}

func createVPC(ctx context.Context, t lifecycle.TransportClient, params map[string]any) (lifecycle.CreateOutcome, error) {
	var p vpcParams
	if err := lifecycle.DecodeParameters(lifecycle.KindVPC, params, &p); err != nil {
		return lifecycle.CreateOutcome{}, err
	}

	resp, err := t.Do(ctx, cloudstack.Request{
		Command: "createVPC",
		Params: url.Values{
			"name":          {p.Name},
			"displaytext":   {p.DisplayText},
			"zoneid":        {p.ZoneID},
			"vpcofferingid": {p.VPCOfferingID},
			"cidr":          {p.CIDR},
		},
	})
	if err != nil {
		return lifecycle.CreateOutcome{}, err
	}
	return lifecycle.CreateOutcome{RemoteID: resp.ID(), JobID: resp.JobID()}, nil
}
