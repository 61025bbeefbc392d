// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package network

import (
	"context"
	"net/url"
	"strings"

	"github.com/platform-engineering-labs/formae/pkg/model"
	"github.com/tidwall/gjson"

	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/lifecycle"
	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/resources/base"
	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/transport/cloudstack"
)

const (
	ResourceTypeAddress = "CloudStack::Network::Address"
)

// Address schema
var AddressSchema = model.Schema{
	Identifier:   "id",
	Discoverable: true,
	Fields:       []string{"vpc_id", "network_id", "zone_id"},
	Hints: map[string]model.FieldHint{
		"vpc_id":     {CreateOnly: true},
		"network_id": {CreateOnly: true},
		"zone_id":    {CreateOnly: true},
	},
}

// addressParams scope the acquired address. The most specific scope wins:
// VPC, then network, then zone.
type addressParams struct {
	VPCID     string `json:"vpc_id" validate:"required_without_all=NetworkID ZoneID"`
	NetworkID string `json:"network_id"`
	ZoneID    string `json:"zone_id"`
}

func init() {
	base.Register(base.Definition{
		ResourceType: ResourceTypeAddress,
		Discoverable: true,
		Schema:       AddressSchema,
		Strategy:     AddressStrategy(),
		ZoneProperty: "zone_id",
		Properties: map[string]string{
			"id":         "id",
			"ipaddress":  "ipaddress",
			"vpc_id":     "vpcid",
			"network_id": "associatednetworkid",
			"zone_id":    "zoneid",
			"state":      "state",
		},
	})
}

// AddressStrategy acquires public IP addresses. The acquisition is treated
// as complete once accepted; the address is listed right away in state
// Allocating.
func AddressStrategy() lifecycle.Strategy {
	return lifecycle.Strategy{
		Kind:   lifecycle.KindAddress,
		Create: associateIPAddress,
		Query: &lifecycle.QuerySpec{
			Command: "listPublicIpAddresses",
			ListKey: "publicipaddress",
			ListExtra: url.Values{
				"allocatedonly": {"true"},
			},
		},
		Delete:         lifecycle.CallByID("disassociateIpAddress"),
		DeleteComplete: addressReleased,
		Attributes: map[string]string{
			"id":        "id",
			"ipaddress": "ipaddress",
		},
		Errors: lifecycle.InUseErrorTable(),
	}
}

func associateIPAddress(ctx context.Context, t lifecycle.TransportClient, params map[string]any) (lifecycle.CreateOutcome, error) {
	var p addressParams
	if err := lifecycle.DecodeParameters(lifecycle.KindAddress, params, &p); err != nil {
		return lifecycle.CreateOutcome{}, err
	}

	q := url.Values{}
	switch {
	case p.VPCID != "":
		q.Set("vpcid", p.VPCID)
	case p.NetworkID != "":
		q.Set("networkid", p.NetworkID)
	default:
		q.Set("zoneid", p.ZoneID)
	}

	resp, err := t.Do(ctx, cloudstack.Request{Command: "associateIpAddress", Params: q})
	if err != nil {
		return lifecycle.CreateOutcome{}, err
	}
	return lifecycle.CreateOutcome{RemoteID: resp.ID(), JobID: resp.JobID()}, nil
}

// addressReleased accepts an address that went back to the pool.
func addressReleased(ip gjson.Result) (bool, error) {
	state := ip.Get("state").String()
	return strings.EqualFold(state, "Free") || strings.EqualFold(state, "Releasing"), nil
}
