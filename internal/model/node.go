package model

import "fmt"

// NodeRole identifies one of the three fixed backends
type NodeRole string

const (
	// Central holds every record and is authoritative for existence checks
	Central NodeRole = "central"
	// EarlyPartition holds records released before the partition boundary
	EarlyPartition NodeRole = "early"
	// LatePartition holds records released in or after the partition boundary
	LatePartition NodeRole = "late"
)

// AllRoles lists the nodes in probe and read order
var AllRoles = []NodeRole{Central, EarlyPartition, LatePartition}

// Valid reports whether the role is one of the three known nodes
func (r NodeRole) Valid() bool {
	switch r {
	case Central, EarlyPartition, LatePartition:
		return true
	default:
		return false
	}
}

// ParseNodeRole converts a configured or persisted role name
func ParseNodeRole(s string) (NodeRole, error) {
	role := NodeRole(s)
	if !role.Valid() {
		return "", fmt.Errorf("unknown node role %q", s)
	}
	return role, nil
}

// Node is a connection target. DSN is opaque to everything above the
// connector and is never persisted in the recovery log.
type Node struct {
	Role   NodeRole
	Driver string
	DSN    string
}

// String returns the node's role name
func (n *Node) String() string {
	return string(n.Role)
}
