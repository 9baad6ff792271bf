package aggregates

import (
	"fmt"

	"chatgraph/domain/core/valueobjects"
	pkgerrors "chatgraph/pkg/errors"
)

// The functions in this file never modify their input graph. Every mutation
// validates first and then applies to a clone, so a failed call leaves no trace.

// Insert adds messageID under parentID. A parent that is not yet a key gets a
// placeholder root node first, which tolerates out-of-order insertion.
func Insert(g *Graph, messageID valueobjects.MessageID, parentID *valueobjects.MessageID) (*Graph, error) {
	if messageID.IsZero() {
		return nil, pkgerrors.NewInvalidReferenceError("message id cannot be empty")
	}
	if g.Has(messageID) {
		return nil, pkgerrors.NewInvalidReferenceError(
			fmt.Sprintf("message %s already exists in graph", messageID)).
			WithDetail("message_id", messageID.String())
	}
	if parentID != nil {
		if parentID.IsZero() {
			return nil, pkgerrors.NewInvalidReferenceError("parent id cannot be empty")
		}
		if *parentID == messageID {
			return nil, pkgerrors.NewInvalidReferenceError(
				fmt.Sprintf("message %s cannot be its own parent", messageID))
		}
	}

	next := g.Clone()
	node := &GraphNode{Children: []valueobjects.MessageID{}}

	if parentID != nil {
		parent := next.get(*parentID)
		if parent == nil {
			parent = &GraphNode{Children: []valueobjects.MessageID{}}
			next.set(*parentID, parent)
		}
		parent.Children = append(parent.Children, messageID)
		p := *parentID
		node.Parent = &p
	}

	next.set(messageID, node)
	return next, nil
}

// ForkEdit adds editedID as a sibling of originalID: same parent, appended
// after the parent's existing children. The original node is left untouched.
func ForkEdit(g *Graph, editedID, originalID valueobjects.MessageID) (*Graph, error) {
	original, ok := g.Node(originalID)
	if !ok {
		return nil, pkgerrors.NewUnknownMessageError(originalID.String())
	}
	return Insert(g, editedID, original.Parent)
}

// AncestorChain returns the path from a root to headID, root first.
// The walk is bounded by the node count so a cyclic graph fails instead of spinning.
func AncestorChain(g *Graph, headID valueobjects.MessageID) ([]valueobjects.MessageID, error) {
	node := g.get(headID)
	if node == nil {
		return nil, pkgerrors.NewUnknownMessageError(headID.String())
	}

	limit := g.Len()
	chain := []valueobjects.MessageID{headID}
	for node.Parent != nil {
		if len(chain) >= limit {
			return nil, pkgerrors.NewGraphCorruptError(
				fmt.Sprintf("cycle detected walking ancestors of %s", headID)).
				WithDetail("head_id", headID.String())
		}
		parentID := *node.Parent
		node = g.get(parentID)
		if node == nil {
			return nil, pkgerrors.NewGraphCorruptError(
				fmt.Sprintf("dangling parent %s in ancestors of %s", parentID, headID)).
				WithDetail("head_id", headID.String()).
				WithDetail("parent_id", parentID.String())
		}
		chain = append(chain, parentID)
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// Heads returns the tips of the forest: nodes that are no other node's parent,
// in graph key order.
func Heads(g *Graph) []valueobjects.MessageID {
	parents := make(map[valueobjects.MessageID]struct{}, g.Len())
	for pair := g.nodes.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Parent != nil {
			parents[*pair.Value.Parent] = struct{}{}
		}
	}

	heads := make([]valueobjects.MessageID, 0)
	for pair := g.nodes.Oldest(); pair != nil; pair = pair.Next() {
		if _, isParent := parents[pair.Key]; !isParent && len(pair.Value.Children) == 0 {
			heads = append(heads, pair.Key)
		}
	}
	return heads
}

// Roots returns every parentless node in key order
func Roots(g *Graph) []valueobjects.MessageID {
	roots := make([]valueobjects.MessageID, 0)
	for pair := g.nodes.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Parent == nil {
			roots = append(roots, pair.Key)
		}
	}
	return roots
}

// Siblings returns the alternatives at messageID's position, itself included.
// For a root that is every root of the forest.
func Siblings(g *Graph, messageID valueobjects.MessageID) ([]valueobjects.MessageID, error) {
	node := g.get(messageID)
	if node == nil {
		return nil, pkgerrors.NewUnknownMessageError(messageID.String())
	}
	if node.Parent == nil {
		return Roots(g), nil
	}

	parent := g.get(*node.Parent)
	if parent == nil {
		return nil, pkgerrors.NewGraphCorruptError(
			fmt.Sprintf("dangling parent %s of %s", *node.Parent, messageID))
	}
	siblings := make([]valueobjects.MessageID, len(parent.Children))
	copy(siblings, parent.Children)
	return siblings, nil
}

// Validate checks the forest invariant: each parent link is mirrored by
// exactly one entry in the parent's children, every child points back,
// and no ancestor walk revisits a node.
func Validate(g *Graph) error {
	for pair := g.nodes.Oldest(); pair != nil; pair = pair.Next() {
		id, node := pair.Key, pair.Value

		if node.Parent != nil {
			parent := g.get(*node.Parent)
			if parent == nil {
				return pkgerrors.NewGraphCorruptError(
					fmt.Sprintf("node %s references missing parent %s", id, *node.Parent))
			}
			if n := countOf(parent.Children, id); n != 1 {
				return pkgerrors.NewGraphCorruptError(
					fmt.Sprintf("node %s appears %d times in children of its parent %s", id, n, *node.Parent))
			}
		}

		for _, childID := range node.Children {
			child := g.get(childID)
			if child == nil {
				return pkgerrors.NewGraphCorruptError(
					fmt.Sprintf("node %s lists missing child %s", id, childID))
			}
			if child.Parent == nil || *child.Parent != id {
				return pkgerrors.NewGraphCorruptError(
					fmt.Sprintf("child %s of %s does not point back to it", childID, id))
			}
		}
	}

	// With consistent links, a cycle shows up as an ancestor walk that never
	// reaches a root. Nodes already proven to reach one are not walked again.
	reachesRoot := make(map[valueobjects.MessageID]bool, g.Len())
	for pair := g.nodes.Oldest(); pair != nil; pair = pair.Next() {
		onPath := make(map[valueobjects.MessageID]struct{})
		current := pair.Key
		for !reachesRoot[current] {
			if _, seen := onPath[current]; seen {
				return pkgerrors.NewGraphCorruptError(
					fmt.Sprintf("cycle detected through node %s", current))
			}
			onPath[current] = struct{}{}
			node := g.get(current)
			if node.Parent == nil {
				break
			}
			current = *node.Parent
		}
		for id := range onPath {
			reachesRoot[id] = true
		}
	}
	return nil
}

func countOf(ids []valueobjects.MessageID, target valueobjects.MessageID) int {
	n := 0
	for _, id := range ids {
		if id == target {
			n++
		}
	}
	return n
}

// Contains reports whether chain includes id
func Contains(chain []valueobjects.MessageID, id valueobjects.MessageID) bool {
	return countOf(chain, id) > 0
}
