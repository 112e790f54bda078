package service

import (
	"fmt"

	"github.com/devrev/gamecatalog/internal/model"
)

// PartitionBoundaryYear splits EarlyPartition (<) from LatePartition (>=)
const PartitionBoundaryYear = 2010

// Route maps a release year to the secondary node holding it. Central is
// never returned; every write targets Central unconditionally.
func Route(releaseYear int) model.NodeRole {
	if releaseYear < PartitionBoundaryYear {
		return model.EarlyPartition
	}
	return model.LatePartition
}

// RoutingService resolves node roles to their configured descriptors
type RoutingService struct {
	nodes map[model.NodeRole]*model.Node
}

// NewRoutingService requires exactly one descriptor per role
func NewRoutingService(nodes []*model.Node) (*RoutingService, error) {
	byRole := make(map[model.NodeRole]*model.Node, len(model.AllRoles))
	for _, node := range nodes {
		if !node.Role.Valid() {
			return nil, fmt.Errorf("unknown node role %q", node.Role)
		}
		if _, dup := byRole[node.Role]; dup {
			return nil, fmt.Errorf("node %s configured twice", node.Role)
		}
		byRole[node.Role] = node
	}

	for _, role := range model.AllRoles {
		if _, ok := byRole[role]; !ok {
			return nil, fmt.Errorf("node %s is not configured", role)
		}
	}

	return &RoutingService{nodes: byRole}, nil
}

// Node returns the descriptor for role
func (s *RoutingService) Node(role model.NodeRole) (*model.Node, error) {
	node, ok := s.nodes[role]
	if !ok {
		return nil, fmt.Errorf("unknown node role %q", role)
	}
	return node, nil
}

// Central returns the central node
func (s *RoutingService) Central() *model.Node {
	return s.nodes[model.Central]
}

// Secondary returns the partition node a record belongs on
func (s *RoutingService) Secondary(rec *model.Record) *model.Node {
	return s.nodes[Route(rec.ReleaseYear())]
}

// ReadOrder returns the nodes in the order reads try them
func (s *RoutingService) ReadOrder() []*model.Node {
	nodes := make([]*model.Node, 0, len(model.AllRoles))
	for _, role := range model.AllRoles {
		nodes = append(nodes, s.nodes[role])
	}
	return nodes
}
