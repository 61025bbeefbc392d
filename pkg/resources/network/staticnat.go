// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package network

import (
	"context"
	"net/url"

	"github.com/platform-engineering-labs/formae/pkg/model"
	"github.com/tidwall/gjson"

	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/lifecycle"
	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/resources/base"
	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/transport/cloudstack"
)

const (
	ResourceTypeStaticNatBinding = "CloudStack::Network::StaticNatBinding"
)

// StaticNatBinding schema. The binding has no id of its own and is
// addressed by the public IP it is enabled on.
var StaticNatBindingSchema = model.Schema{
	Identifier:   "ipaddress_id",
	Discoverable: true,
	Fields:       []string{"ipaddress_id", "virtual_machine_id", "network_id"},
	Hints: map[string]model.FieldHint{
		"ipaddress_id":       {Required: true, CreateOnly: true},
		"virtual_machine_id": {Required: true, CreateOnly: true},
		"network_id":         {CreateOnly: true},
	},
}

type staticNatParams struct {
	IPAddressID      string `json:"ipaddress_id" validate:"required"`
	VirtualMachineID string `json:"virtual_machine_id" validate:"required"`
	NetworkID        string `json:"network_id"`
}

func init() {
	base.Register(base.Definition{
		ResourceType: ResourceTypeStaticNatBinding,
		Discoverable: true,
		Schema:       StaticNatBindingSchema,
		Strategy:     StaticNatBindingStrategy(),
		Properties: map[string]string{
			"ipaddress_id":       "id",
			"ipaddress":          "ipaddress",
			"virtual_machine_id": "virtualmachineid",
			"network_id":         "associatednetworkid",
		},
	})
}

// StaticNatBindingStrategy enables static NAT between an address and an
// instance. Delete does nothing: releasing the address removes the binding.
func StaticNatBindingStrategy() lifecycle.Strategy {
	return lifecycle.Strategy{
		Kind:       lifecycle.KindStaticNatBinding,
		NoIdentity: true,
		Create:     enableStaticNat,
		Query: &lifecycle.QuerySpec{
			Command:   "listPublicIpAddresses",
			ListKey:   "publicipaddress",
			ListExtra: url.Values{"isstaticnat": {"true"}},
			Filter:    staticNatEnabled,
		},
	}
}

func enableStaticNat(ctx context.Context, t lifecycle.TransportClient, params map[string]any) (lifecycle.CreateOutcome, error) {
	var p staticNatParams
	if err := lifecycle.DecodeParameters(lifecycle.KindStaticNatBinding, params, &p); err != nil {
		return lifecycle.CreateOutcome{}, err
	}

	q := url.Values{
		"ipaddressid":      {p.IPAddressID},
		"virtualmachineid": {p.VirtualMachineID},
	}
	if p.NetworkID != "" {
		q.Set("networkid", p.NetworkID)
	}
	if _, err := t.Do(ctx, cloudstack.Request{Command: "enableStaticNat", Params: q}); err != nil {
		return lifecycle.CreateOutcome{}, err
	}
	return lifecycle.CreateOutcome{Reference: p.IPAddressID}, nil
}

func staticNatEnabled(ip gjson.Result) bool {
	return ip.Get("isstaticnat").Bool()
}
