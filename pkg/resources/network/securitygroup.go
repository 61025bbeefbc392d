// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package network

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/platform-engineering-labs/formae/pkg/model"

	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/lifecycle"
	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/resources/base"
	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/transport/cloudstack"
)

const (
	ResourceTypeSecurityGroup = "CloudStack::Network::SecurityGroup"
)

// SecurityGroup schema
var SecurityGroupSchema = model.Schema{
	Identifier:   "id",
	Discoverable: true,
	Fields:       []string{"name", "description", "rules"},
	Hints: map[string]model.FieldHint{
		"name": {
			Required:   true,
			CreateOnly: true,
		},
		"description": {
			CreateOnly: true,
		},
		"rules": {
			CreateOnly: true,
		},
	},
}

type securityGroupParams struct {
	Name        string              `json:"name" validate:"required,max=255"`
	Description string              `json:"description"`
	Rules       []securityGroupRule `json:"rules" validate:"dive"`
}

// securityGroupRule is one ingress or egress rule. Empty fields take the
// CloudStack-side defaults applied in withDefaults.
type securityGroupRule struct {
	Direction string `json:"direction" validate:"omitempty,oneof=ingress egress"`
	StartPort *int   `json:"startport" validate:"omitempty,min=0,max=65535"`
	EndPort   *int   `json:"endport" validate:"omitempty,min=0,max=65535"`
	CIDR      string `json:"cidr" validate:"omitempty,cidr"`
	Protocol  string `json:"protocol"`
	ICMPType  *int   `json:"icmptype"`
	ICMPCode  *int   `json:"icmpcode"`
}

func (r securityGroupRule) withDefaults() securityGroupRule {
	if r.Direction == "" {
		r.Direction = "ingress"
	}
	if r.CIDR == "" {
		r.CIDR = "0.0.0.0/0"
	}
	if r.Protocol == "" {
		r.Protocol = "tcp"
	}
	return r
}

func (r securityGroupRule) command() string {
	if r.Direction == "egress" {
		return "authorizeSecurityGroupEgress"
	}
	return "authorizeSecurityGroupIngress"
}

func (r securityGroupRule) params(groupID string) url.Values {
	q := url.Values{}
	q.Set("securitygroupid", groupID)
	q.Set("protocol", r.Protocol)
	q.Set("cidrlist", r.CIDR)
	setInt(q, "startport", r.StartPort)
	setInt(q, "endport", r.EndPort)
	setInt(q, "icmptype", r.ICMPType)
	setInt(q, "icmpcode", r.ICMPCode)
	return q
}

func setInt(q url.Values, key string, v *int) {
	if v != nil {
		q.Set(key, strconv.Itoa(*v))
	}
}

func init() {
	base.Register(base.Definition{
		ResourceType: ResourceTypeSecurityGroup,
		Discoverable: true,
		Schema:       SecurityGroupSchema,
		Strategy:     SecurityGroupStrategy(),
		Properties: map[string]string{
			"id":            "id",
			"name":          "name",
			"description":   "description",
			"ingress_rules": "ingressrule",
			"egress_rules":  "egressrule",
		},
	})
}

// SecurityGroupStrategy creates a group and authorizes its rules one call
// at a time. Delete retries while instances still reference the group.
func SecurityGroupStrategy() lifecycle.Strategy {
	return lifecycle.Strategy{
		Kind:           lifecycle.KindSecurityGroup,
		Create:         createSecurityGroup,
		CreateComplete: lifecycle.Present,
		Query: &lifecycle.QuerySpec{
			Command: "listSecurityGroups",
			ListKey: "securitygroup",
		},
		Delete: lifecycle.CallByID("deleteSecurityGroup"),
		Attributes: map[string]string{
			"id":   "id",
			"name": "name",
		},
		Errors: lifecycle.InUseErrorTable(),
	}
}

func createSecurityGroup(ctx context.Context, t lifecycle.TransportClient, params map[string]any) (lifecycle.CreateOutcome, error) {
	var p securityGroupParams
	if err := lifecycle.DecodeParameters(lifecycle.KindSecurityGroup, params, &p); err != nil {
		return lifecycle.CreateOutcome{}, err
	}

	q := url.Values{"name": {p.Name}}
	if p.Description != "" {
		q.Set("description", p.Description)
	}
	resp, err := t.Do(ctx, cloudstack.Request{Command: "createSecurityGroup", Params: q})
	if err != nil {
		return lifecycle.CreateOutcome{}, err
	}
	groupID := resp.Body.Get("securitygroup.id").String()
	if groupID == "" {
		groupID = resp.ID()
	}
	out := lifecycle.CreateOutcome{RemoteID: groupID}

	// The group exists from here on; a rule failure still reports its id.
	for i, rule := range p.Rules {
		rule = rule.withDefaults()
		if _, err := t.Do(ctx, cloudstack.Request{Command: rule.command(), Params: rule.params(groupID)}); err != nil {
			return out, fmt.Errorf("rule %d (%s %s %s): %w", i, rule.Direction, rule.Protocol, rule.CIDR, err)
		}
	}
	return out, nil
}
