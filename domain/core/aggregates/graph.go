package aggregates

import (
	"encoding/json"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"chatgraph/domain/core/valueobjects"
	pkgerrors "chatgraph/pkg/errors"
)

// GraphNode is the adjacency entry for one message
type GraphNode struct {
	Parent   *valueobjects.MessageID
	Children []valueobjects.MessageID
}

// IsRoot reports whether the node has no parent
func (n GraphNode) IsRoot() bool {
	return n.Parent == nil
}

func (n *GraphNode) clone() *GraphNode {
	c := &GraphNode{Children: make([]valueobjects.MessageID, len(n.Children))}
	copy(c.Children, n.Children)
	if n.Parent != nil {
		p := *n.Parent
		c.Parent = &p
	}
	return c
}

// Graph is the message forest of one chat, keyed by message id in insertion order.
// Traversal is always by id lookup. Only GraphOps functions produce modified graphs.
type Graph struct {
	nodes *orderedmap.OrderedMap[valueobjects.MessageID, *GraphNode]
}

// NewGraph returns an empty graph
func NewGraph() *Graph {
	return &Graph{nodes: orderedmap.New[valueobjects.MessageID, *GraphNode]()}
}

// Len returns the number of nodes
func (g *Graph) Len() int {
	return g.nodes.Len()
}

// IsEmpty reports whether the graph has no nodes
func (g *Graph) IsEmpty() bool {
	return g.nodes.Len() == 0
}

// Has reports whether id is a key of the graph
func (g *Graph) Has(id valueobjects.MessageID) bool {
	_, ok := g.nodes.Get(id)
	return ok
}

// Node returns a copy of the node stored under id
func (g *Graph) Node(id valueobjects.MessageID) (GraphNode, bool) {
	n, ok := g.nodes.Get(id)
	if !ok {
		return GraphNode{}, false
	}
	return *n.clone(), true
}

// Keys returns node ids in insertion order
func (g *Graph) Keys() []valueobjects.MessageID {
	keys := make([]valueobjects.MessageID, 0, g.nodes.Len())
	for pair := g.nodes.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Clone returns a deep copy that shares nothing with g
func (g *Graph) Clone() *Graph {
	c := orderedmap.New[valueobjects.MessageID, *GraphNode](orderedmap.WithCapacity[valueobjects.MessageID, *GraphNode](g.nodes.Len()))
	for pair := g.nodes.Oldest(); pair != nil; pair = pair.Next() {
		c.Set(pair.Key, pair.Value.clone())
	}
	return &Graph{nodes: c}
}

func (g *Graph) get(id valueobjects.MessageID) *GraphNode {
	n, _ := g.nodes.Get(id)
	return n
}

func (g *Graph) set(id valueobjects.MessageID, n *GraphNode) {
	g.nodes.Set(id, n)
}

// ParentLink is one stored adjacency row: a message and the parent it was
// inserted under
type ParentLink struct {
	ID     valueobjects.MessageID
	Parent *valueobjects.MessageID
}

// BuildGraph rebuilds a graph from links listed in insertion order. Each
// parent must appear before its children, so children keep insertion order
// and the build is linear.
func BuildGraph(links []ParentLink) (*Graph, error) {
	nodes := orderedmap.New[valueobjects.MessageID, *GraphNode](orderedmap.WithCapacity[valueobjects.MessageID, *GraphNode](len(links)))
	for _, link := range links {
		if link.ID.IsZero() {
			return nil, pkgerrors.NewGraphCorruptError("stored message has an empty id")
		}
		if _, dup := nodes.Get(link.ID); dup {
			return nil, pkgerrors.NewGraphCorruptError(
				fmt.Sprintf("message %s is stored twice", link.ID))
		}
		node := &GraphNode{Children: []valueobjects.MessageID{}}
		if link.Parent != nil {
			parent, ok := nodes.Get(*link.Parent)
			if !ok {
				return nil, pkgerrors.NewGraphCorruptError(
					fmt.Sprintf("message %s references parent %s not stored before it", link.ID, *link.Parent))
			}
			parent.Children = append(parent.Children, link.ID)
			p := *link.Parent
			node.Parent = &p
		}
		nodes.Set(link.ID, node)
	}
	return &Graph{nodes: nodes}, nil
}

// graphNodeJSON is the persisted shape of one node
type graphNodeJSON struct {
	Parent   *string  `json:"parent"`
	Children []string `json:"children"`
}

// MarshalJSON encodes the graph as {"<id>": {"parent": "<id>"|null, "children": [...]}}
// preserving key and child order.
func (g *Graph) MarshalJSON() ([]byte, error) {
	out := orderedmap.New[string, graphNodeJSON](orderedmap.WithCapacity[string, graphNodeJSON](g.nodes.Len()))
	for pair := g.nodes.Oldest(); pair != nil; pair = pair.Next() {
		node := graphNodeJSON{Children: make([]string, 0, len(pair.Value.Children))}
		if pair.Value.Parent != nil {
			p := pair.Value.Parent.String()
			node.Parent = &p
		}
		for _, child := range pair.Value.Children {
			node.Children = append(node.Children, child.String())
		}
		out.Set(pair.Key.String(), node)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the persisted representation. Only well-formedness is
// checked here; structural invariants are the job of Validate.
func (g *Graph) UnmarshalJSON(data []byte) error {
	in := orderedmap.New[string, graphNodeJSON]()
	if err := json.Unmarshal(data, in); err != nil {
		return fmt.Errorf("decoding graph: %w", err)
	}

	nodes := orderedmap.New[valueobjects.MessageID, *GraphNode](orderedmap.WithCapacity[valueobjects.MessageID, *GraphNode](in.Len()))
	for pair := in.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Key == "" {
			return fmt.Errorf("decoding graph: empty message id")
		}
		node := &GraphNode{Children: make([]valueobjects.MessageID, 0, len(pair.Value.Children))}
		if pair.Value.Parent != nil {
			if *pair.Value.Parent == "" {
				return fmt.Errorf("decoding graph: node %s has an empty parent id", pair.Key)
			}
			node.Parent = valueobjects.MessageID(*pair.Value.Parent).Ptr()
		}
		for _, child := range pair.Value.Children {
			node.Children = append(node.Children, valueobjects.MessageID(child))
		}
		nodes.Set(valueobjects.MessageID(pair.Key), node)
	}

	g.nodes = nodes
	return nil
}

// DecodeGraph parses a persisted graph. Empty input yields an empty graph.
func DecodeGraph(data []byte) (*Graph, error) {
	g := NewGraph()
	if len(data) == 0 || string(data) == "null" {
		return g, nil
	}
	if err := g.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return g, nil
}

// EncodeGraph serializes a graph to its persisted form
func EncodeGraph(g *Graph) ([]byte, error) {
	if g == nil {
		return []byte("{}"), nil
	}
	return g.MarshalJSON()
}
