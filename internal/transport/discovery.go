package transport

import (
	"context"

	"github.com/rmacdonaldsmith/pumprelay-go/pkg/transport"
)

// Discovery defines the interface for host node discovery mechanisms
type Discovery interface {
	// FindNodes discovers and returns available host nodes
	FindNodes(ctx context.Context) ([]transport.Node, error)
}

// StaticNode is a host node at a fixed URL
type StaticNode struct {
	ID  string `yaml:"id"`
	URL string `yaml:"url"`
}

// StaticDiscovery implements Discovery using a fixed list of host nodes
type StaticDiscovery struct {
	nodes []StaticNode
}

// staticNode implements transport.Node for configured nodes
type staticNode struct {
	id      string
	address string
}

func (n *staticNode) ID() string      { return n.id }
func (n *staticNode) Address() string { return n.address }

// NewStaticDiscovery creates a new static discovery service with the given nodes
func NewStaticDiscovery(nodes []StaticNode) *StaticDiscovery {
	return &StaticDiscovery{nodes: nodes}
}

// FindNodes returns the configured nodes. A node without an ID is identified by its URL.
func (s *StaticDiscovery) FindNodes(ctx context.Context) ([]transport.Node, error) {
	nodes := make([]transport.Node, len(s.nodes))
	for i, n := range s.nodes {
		id := n.ID
		if id == "" {
			id = n.URL
		}
		nodes[i] = &staticNode{id: id, address: n.URL}
	}
	return nodes, nil
}
