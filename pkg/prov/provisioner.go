// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package prov

import (
	"context"

	"github.com/platform-engineering-labs/formae/pkg/plugin/resource"

	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/client"
	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/config"
)

// Provisioner is what every CloudStack resource type implements. Expected
// remote failures are reported through the ProgressResult, not the error.
type Provisioner interface {
	Create(ctx context.Context, request *resource.CreateRequest) (*resource.CreateResult, error)
	Read(ctx context.Context, request *resource.ReadRequest) (*resource.ReadResult, error)

	// Update always fails with NotUpdatable: CloudStack objects managed
	// here are replaced, never modified.
	Update(ctx context.Context, request *resource.UpdateRequest) (*resource.UpdateResult, error)

	Delete(ctx context.Context, request *resource.DeleteRequest) (*resource.DeleteResult, error)

	// Status advances an InProgress create or delete by one poll.
	Status(ctx context.Context, request *resource.StatusRequest) (*resource.StatusResult, error)

	// List discovers resources of this type
	List(ctx context.Context, request *resource.ListRequest) (*resource.ListResult, error)
}

// Factory builds a provisioner bound to one client and configuration.
type Factory func(*client.Client, *config.Config) Provisioner
