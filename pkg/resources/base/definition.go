// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package base

import (
	"github.com/platform-engineering-labs/formae/pkg/model"
	"github.com/platform-engineering-labs/formae/pkg/plugin"

	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/client"
	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/config"
	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/lifecycle"
	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/prov"
	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/registry"
)

// Definition binds a formae resource type to a lifecycle strategy.
type Definition struct {
	ResourceType string
	Discoverable bool
	Schema       model.Schema
	Strategy     lifecycle.Strategy

	// Properties maps reported property names to gjson paths into the
	// queried CloudStack object.
	Properties map[string]string

	// ZoneProperty, if set, is filled from the target's zone when a
	// declaration leaves it out.
	ZoneProperty string
}

// Descriptor returns the plugin descriptor for the definition.
func (d Definition) Descriptor() plugin.ResourceDescriptor {
	return plugin.ResourceDescriptor{
		Type:         d.ResourceType,
		Discoverable: d.Discoverable,
	}
}

// Register adds the definition to the global registry.
// Called by resource packages in their init() functions.
func Register(def Definition) {
	registry.Register(
		def.ResourceType,
		def.Descriptor(),
		def.Schema,
		func(c *client.Client, cfg *config.Config) prov.Provisioner {
			return NewLifecycleResource(def, c, cfg)
		},
	)
}
