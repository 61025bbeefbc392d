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
	ResourceTypeNetwork = "CloudStack::Network::Network"
)

// Network schema
var NetworkSchema = model.Schema{
	Identifier:   "id",
	Discoverable: true,
	Fields: []string{
		"name", "display_text", "zone_id", "network_offering_id",
		"vpc_id", "acl_id", "gateway", "netmask",
	},
	Hints: map[string]model.FieldHint{
		"name":                {Required: true, CreateOnly: true},
		"display_text":        {Required: true, CreateOnly: true},
		"zone_id":             {Required: true, CreateOnly: true},
		"network_offering_id": {Required: true, CreateOnly: true},
		"vpc_id":              {CreateOnly: true},
		"acl_id":              {CreateOnly: true},
		"gateway":             {CreateOnly: true},
		"netmask":             {CreateOnly: true},
	},
}

type networkParams struct {
	Name              string `json:"name" validate:"required"`
	DisplayText       string `json:"display_text" validate:"required"`
	ZoneID            string `json:"zone_id" validate:"required"`
	NetworkOfferingID string `json:"network_offering_id" validate:"required"`
	VPCID             string `json:"vpc_id"`
	ACLID             string `json:"acl_id"`
	Gateway           string `json:"gateway" validate:"omitempty,ip"`
	Netmask           string `json:"netmask" validate:"omitempty,ip"`
}

func init() {
	base.Register(base.Definition{
		ResourceType: ResourceTypeNetwork,
		Discoverable: true,
		Schema:       NetworkSchema,
		Strategy:     NetworkStrategy(),
		ZoneProperty: "zone_id",
		Properties: map[string]string{
			"id":                  "id",
			"name":                "name",
			"display_text":        "displaytext",
			"zone_id":             "zoneid",
			"network_offering_id": "networkofferingid",
			"vpc_id":              "vpcid",
			"acl_id":              "aclid",
			"gateway":             "gateway",
			"netmask":             "netmask",
			"cidr":                "cidr",
			"state":               "state",
		},
	})
}

// NetworkStrategy creates guest networks, standalone or as a VPC tier.
func NetworkStrategy() lifecycle.Strategy {
	return lifecycle.Strategy{
		Kind:           lifecycle.KindNetwork,
		Create:         createNetwork,
		CreateComplete: lifecycle.Present,
		Query: &lifecycle.QuerySpec{
			Command: "listNetworks",
			ListKey: "network",
		},
		Delete: lifecycle.CallByID("deleteNetwork"),
		Attributes: map[string]string{
			"id":      "id",
			"name":    "name",
			"cidr":    "cidr",
			"gateway": "gateway",
		},
		Errors: lifecycle.InUseErrorTable(),
	}
}

func createNetwork(ctx context.Context, t lifecycle.TransportClient, params map[string]any) (lifecycle.CreateOutcome, error) {
	var p networkParams
	if err := lifecycle.DecodeParameters(lifecycle.KindNetwork, params, &p); err != nil {
		return lifecycle.CreateOutcome{}, err
	}

	q := url.Values{}
	q.Set("name", p.Name)
	q.Set("displaytext", p.DisplayText)
	q.Set("zoneid", p.ZoneID)
	q.Set("networkofferingid", p.NetworkOfferingID)
	for key, value := range map[string]string{
		"vpcid":   p.VPCID,
		"aclid":   p.ACLID,
		"gateway": p.Gateway,
		"netmask": p.Netmask,
	} {
		if value != "" {
			q.Set(key, value)
		}
	}

	resp, err := t.Do(ctx, cloudstack.Request{Command: "createNetwork", Params: q})
	if err != nil {
		return lifecycle.CreateOutcome{}, err
	}
	return lifecycle.CreateOutcome{RemoteID: resp.Body.Get("network.id").String()}, nil
}
