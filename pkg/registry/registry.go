// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/platform-engineering-labs/formae/pkg/model"
	"github.com/platform-engineering-labs/formae/pkg/plugin"

	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/client"
	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/config"
	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/prov"
)

type entry struct {
	factory    prov.Factory
	descriptor plugin.ResourceDescriptor
	schema     model.Schema
}

// Registry maps resource type names to provisioner factories.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

var global = New()

// Register adds a resource type to the global registry.
// Called by resource packages in their init() functions; registering the
// same name twice is a programming error and panics.
func Register(name string, descriptor plugin.ResourceDescriptor, schema model.Schema, factory prov.Factory) {
	if err := global.Add(name, descriptor, schema, factory); err != nil {
		panic(err)
	}
}

// Add registers a resource type.
func (r *Registry) Add(name string, descriptor plugin.ResourceDescriptor, schema model.Schema, factory prov.Factory) error {
	if name == "" {
		return fmt.Errorf("resource type cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("resource type %s has no provisioner factory", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("resource type %s registered twice", name)
	}
	r.entries[name] = entry{factory: factory, descriptor: descriptor, schema: schema}
	return nil
}

// Get builds a provisioner for the given resource type.
func (r *Registry) Get(name string, c *client.Client, cfg *config.Config) (prov.Provisioner, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported resource type: %s", name)
	}
	return e.factory(c, cfg), nil
}

// HasProvisioner checks if a provisioner is registered for the given resource type
func (r *Registry) HasProvisioner(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// GetDescriptor retrieves the resource descriptor for a given resource type
func (r *Registry) GetDescriptor(name string) (plugin.ResourceDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.descriptor, ok
}

// GetSchema retrieves the schema for a given resource type
func (r *Registry) GetSchema(name string) (model.Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.schema, ok
}

// ListResourceTypes returns all registered resource types, sorted.
func (r *Registry) ListResourceTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.entries))
	for name := range r.entries {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}

// GetAllDescriptors returns all registered descriptors in type order.
func (r *Registry) GetAllDescriptors() []plugin.ResourceDescriptor {
	types := r.ListResourceTypes()
	r.mu.RLock()
	defer r.mu.RUnlock()
	descriptors := make([]plugin.ResourceDescriptor, 0, len(types))
	for _, name := range types {
		descriptors = append(descriptors, r.entries[name].descriptor)
	}
	return descriptors
}

// Package-level accessors over the global registry.

func Get(name string, c *client.Client, cfg *config.Config) (prov.Provisioner, error) {
	return global.Get(name, c, cfg)
}

func HasProvisioner(name string) bool { return global.HasProvisioner(name) }

func GetDescriptor(name string) (plugin.ResourceDescriptor, bool) {
	return global.GetDescriptor(name)
}

func GetSchema(name string) (model.Schema, bool) { return global.GetSchema(name) }

func ListResourceTypes() []string { return global.ListResourceTypes() }

func GetAllDescriptors() []plugin.ResourceDescriptor { return global.GetAllDescriptors() }
