package acl

import (
	"strings"
)

// Perm is a bitmask of operations that an ACL entry grants.
type Perm uint32

const (
	// PermNone grants no access. When used to describe the access
	// an operation requires, it indicates that no lock needs to be
	// taken.
	PermNone Perm = 0
	// PermCreate permits creating children of a node.
	PermCreate Perm = 1 << 0
	// PermRead permits reading the data and children of a node.
	PermRead Perm = 1 << 1
	// PermWrite permits setting the data of a node.
	PermWrite Perm = 1 << 2
	// PermDelete permits deleting children of a node.
	PermDelete Perm = 1 << 3
	// PermAdmin permits setting the ACL of a node.
	PermAdmin Perm = 1 << 4
	// PermAll grants all of the above.
	PermAll = PermCreate | PermRead | PermWrite | PermDelete | PermAdmin
)

var permNames = []struct {
	perm Perm
	name string
}{
	{PermCreate, "create"},
	{PermRead, "read"},
	{PermWrite, "write"},
	{PermDelete, "delete"},
	{PermAdmin, "admin"},
}

func (p Perm) String() string {
	if p == PermNone {
		return "none"
	}
	var names []string
	for _, pn := range permNames {
		if p&pn.perm != 0 {
			names = append(names, pn.name)
		}
	}
	return strings.Join(names, "|")
}

// Contains returns true if all bits of another Perm are set.
func (p Perm) Contains(other Perm) bool {
	return p&other == other
}
