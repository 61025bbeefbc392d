// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package lifecycle

import "fmt"

// Kind identifies the type of remote object a descriptor stands for.
type Kind int

const (
	KindVirtualMachine Kind = iota + 1
	KindSecurityGroup
	KindNetwork
	KindVPC
	KindAddress
	KindStaticNatBinding
)

var kindNames = map[Kind]string{
	KindVirtualMachine:   "VirtualMachine",
	KindSecurityGroup:    "SecurityGroup",
	KindNetwork:          "Network",
	KindVPC:              "VPC",
	KindAddress:          "Address",
	KindStaticNatBinding: "StaticNatBinding",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Kinds lists every supported kind.
func Kinds() []Kind {
	return []Kind{
		KindVirtualMachine,
		KindSecurityGroup,
		KindNetwork,
		KindVPC,
		KindAddress,
		KindStaticNatBinding,
	}
}
