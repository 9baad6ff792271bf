package aggregates

import (
	"encoding/json"
	"testing"

	"chatgraph/domain/core/valueobjects"
	pkgerrors "chatgraph/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func id(s string) valueobjects.MessageID { return valueobjects.MessageID(s) }

func ptr(s string) *valueobjects.MessageID { return id(s).Ptr() }

func ids(s ...string) []valueobjects.MessageID {
	out := make([]valueobjects.MessageID, len(s))
	for i, v := range s {
		out[i] = id(v)
	}
	return out
}

// mustBuild inserts (id, parent) pairs in order; an empty parent means root
func mustBuild(t *testing.T, pairs ...[2]string) *Graph {
	t.Helper()
	g := NewGraph()
	for _, p := range pairs {
		var parent *valueobjects.MessageID
		if p[1] != "" {
			parent = ptr(p[1])
		}
		next, err := Insert(g, id(p[0]), parent)
		require.NoError(t, err)
		g = next
	}
	return g
}

func TestInsert(t *testing.T) {
	t.Run("first message becomes a root", func(t *testing.T) {
		g, err := Insert(NewGraph(), id("m1"), nil)
		require.NoError(t, err)

		node, ok := g.Node(id("m1"))
		require.True(t, ok)
		assert.Nil(t, node.Parent)
		assert.Empty(t, node.Children)
		assert.Equal(t, ids("m1"), Heads(g))
	})

	t.Run("child is linked both ways", func(t *testing.T) {
		g := mustBuild(t, [2]string{"m1", ""}, [2]string{"m2", "m1"})

		parent, _ := g.Node(id("m1"))
		child, _ := g.Node(id("m2"))
		assert.Equal(t, ids("m2"), parent.Children)
		require.NotNil(t, child.Parent)
		assert.Equal(t, id("m1"), *child.Parent)
		assert.Equal(t, ids("m2"), Heads(g))
	})

	t.Run("children keep insertion order", func(t *testing.T) {
		g := mustBuild(t,
			[2]string{"root", ""},
			[2]string{"c", "root"},
			[2]string{"a", "root"},
			[2]string{"b", "root"},
		)
		node, _ := g.Node(id("root"))
		assert.Equal(t, ids("c", "a", "b"), node.Children)
	})

	t.Run("missing parent gets a placeholder root", func(t *testing.T) {
		g, err := Insert(NewGraph(), id("m2"), ptr("ghost"))
		require.NoError(t, err)

		ghost, ok := g.Node(id("ghost"))
		require.True(t, ok)
		assert.Nil(t, ghost.Parent)
		assert.Equal(t, ids("m2"), ghost.Children)
		assert.Equal(t, ids("ghost", "m2"), g.Keys())
		assert.NoError(t, Validate(g))
	})

	t.Run("duplicate id is rejected and input is untouched", func(t *testing.T) {
		g := mustBuild(t, [2]string{"m1", ""}, [2]string{"m2", "m1"})
		before, err := json.Marshal(g)
		require.NoError(t, err)

		_, err = Insert(g, id("m2"), ptr("m1"))
		assert.True(t, pkgerrors.IsInvalidReference(err))

		after, err := json.Marshal(g)
		require.NoError(t, err)
		assert.JSONEq(t, string(before), string(after))
	})

	t.Run("self parent is rejected", func(t *testing.T) {
		_, err := Insert(NewGraph(), id("m1"), ptr("m1"))
		assert.True(t, pkgerrors.IsInvalidReference(err))
	})

	t.Run("input graph is never modified", func(t *testing.T) {
		g := mustBuild(t, [2]string{"m1", ""})
		_, err := Insert(g, id("m2"), ptr("m1"))
		require.NoError(t, err)

		node, _ := g.Node(id("m1"))
		assert.Empty(t, node.Children)
		assert.Equal(t, 1, g.Len())
	})
}

func TestForkEdit(t *testing.T) {
	t.Run("root edit adds another root", func(t *testing.T) {
		g := mustBuild(t, [2]string{"m1", ""}, [2]string{"m2", "m1"})

		next, err := ForkEdit(g, id("m3"), id("m1"))
		require.NoError(t, err)

		m3, ok := next.Node(id("m3"))
		require.True(t, ok)
		assert.Nil(t, m3.Parent)
		assert.Equal(t, ids("m2", "m3"), Heads(next))

		siblings, err := Siblings(next, id("m1"))
		require.NoError(t, err)
		assert.Equal(t, ids("m1", "m3"), siblings)

		siblings, err = Siblings(next, id("m3"))
		require.NoError(t, err)
		assert.Equal(t, ids("m1", "m3"), siblings)
	})

	t.Run("interior edit appends to the shared parent", func(t *testing.T) {
		g := mustBuild(t,
			[2]string{"m1", ""},
			[2]string{"m2", "m1"},
			[2]string{"m3", "m2"},
		)
		next, err := ForkEdit(g, id("m4"), id("m2"))
		require.NoError(t, err)

		siblings, err := Siblings(next, id("m2"))
		require.NoError(t, err)
		assert.Equal(t, ids("m2", "m4"), siblings)

		// the original keeps its node and descendants
		orig, _ := next.Node(id("m2"))
		assert.Equal(t, ids("m3"), orig.Children)
		chain, err := AncestorChain(next, id("m3"))
		require.NoError(t, err)
		assert.Equal(t, ids("m1", "m2", "m3"), chain)
	})

	t.Run("unknown original", func(t *testing.T) {
		_, err := ForkEdit(NewGraph(), id("m2"), id("nope"))
		assert.True(t, pkgerrors.IsUnknownMessage(err))
	})

	t.Run("edited id already present", func(t *testing.T) {
		g := mustBuild(t, [2]string{"m1", ""}, [2]string{"m2", "m1"})
		_, err := ForkEdit(g, id("m2"), id("m1"))
		assert.True(t, pkgerrors.IsInvalidReference(err))
	})
}

func TestAncestorChain(t *testing.T) {
	g := mustBuild(t,
		[2]string{"m1", ""},
		[2]string{"m2", "m1"},
		[2]string{"m3", "m2"},
		[2]string{"m4", "m2"},
	)

	tests := []struct {
		name string
		head string
		want []valueobjects.MessageID
	}{
		{name: "root alone", head: "m1", want: ids("m1")},
		{name: "deep head", head: "m3", want: ids("m1", "m2", "m3")},
		{name: "sibling head", head: "m4", want: ids("m1", "m2", "m4")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain, err := AncestorChain(g, id(tt.head))
			require.NoError(t, err)
			assert.Equal(t, tt.want, chain)
		})
	}

	t.Run("unknown head is an error, not an empty chain", func(t *testing.T) {
		chain, err := AncestorChain(g, id("missing"))
		assert.Nil(t, chain)
		assert.True(t, pkgerrors.IsUnknownMessage(err))
	})

	t.Run("cycle is reported as corruption", func(t *testing.T) {
		corrupt, err := DecodeGraph([]byte(`{
			"a": {"parent": "b", "children": ["b"]},
			"b": {"parent": "a", "children": ["a"]}
		}`))
		require.NoError(t, err)

		_, err = AncestorChain(corrupt, id("a"))
		assert.True(t, pkgerrors.IsGraphCorrupt(err))
		assert.True(t, pkgerrors.IsGraphCorrupt(Validate(corrupt)))
	})

	t.Run("dangling parent is reported as corruption", func(t *testing.T) {
		corrupt, err := DecodeGraph([]byte(`{"a": {"parent": "gone", "children": []}}`))
		require.NoError(t, err)

		_, err = AncestorChain(corrupt, id("a"))
		assert.True(t, pkgerrors.IsGraphCorrupt(err))
	})
}

func TestHeads(t *testing.T) {
	assert.Empty(t, Heads(NewGraph()))

	g := mustBuild(t,
		[2]string{"m1", ""},
		[2]string{"m2", "m1"},
		[2]string{"m3", ""},
		[2]string{"m4", "m1"},
	)
	assert.Equal(t, ids("m2", "m3", "m4"), Heads(g))

	for _, head := range Heads(g) {
		chain, err := AncestorChain(g, head)
		require.NoError(t, err)
		assert.Equal(t, head, chain[len(chain)-1])
		root, _ := g.Node(chain[0])
		assert.True(t, root.IsRoot())
	}
}

func TestReadsAreIdempotent(t *testing.T) {
	g := mustBuild(t,
		[2]string{"m1", ""},
		[2]string{"m2", "m1"},
		[2]string{"m3", "m1"},
	)
	before, err := json.Marshal(g)
	require.NoError(t, err)

	assert.Equal(t, Heads(g), Heads(g))
	s1, _ := Siblings(g, id("m2"))
	s2, _ := Siblings(g, id("m2"))
	assert.Equal(t, s1, s2)
	c1, _ := AncestorChain(g, id("m3"))
	c2, _ := AncestorChain(g, id("m3"))
	assert.Equal(t, c1, c2)

	after, err := json.Marshal(g)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestSiblings(t *testing.T) {
	g := mustBuild(t,
		[2]string{"r1", ""},
		[2]string{"a", "r1"},
		[2]string{"r2", ""},
		[2]string{"b", "r1"},
	)

	roots, err := Siblings(g, id("r2"))
	require.NoError(t, err)
	assert.Equal(t, ids("r1", "r2"), roots)

	children, err := Siblings(g, id("b"))
	require.NoError(t, err)
	assert.Equal(t, ids("a", "b"), children)

	_, err = Siblings(g, id("zzz"))
	assert.True(t, pkgerrors.IsUnknownMessage(err))
}

func TestForestInvariantHoldsAcrossOperations(t *testing.T) {
	g := NewGraph()
	steps := []struct {
		op     string
		id     string
		target string
	}{
		{"insert", "m1", ""},
		{"insert", "m2", "m1"},
		{"fork", "m3", "m1"},
		{"insert", "m4", "m3"},
		{"fork", "m5", "m4"},
		{"fork", "m6", "m2"},
		{"insert", "m7", "m6"},
		{"fork", "m8", "m3"},
	}

	for _, s := range steps {
		var err error
		switch s.op {
		case "insert":
			var parent *valueobjects.MessageID
			if s.target != "" {
				parent = ptr(s.target)
			}
			g, err = Insert(g, id(s.id), parent)
		case "fork":
			g, err = ForkEdit(g, id(s.id), id(s.target))
		}
		require.NoError(t, err, "step %s %s", s.op, s.id)
		require.NoError(t, Validate(g), "after %s %s", s.op, s.id)
	}

	assert.Equal(t, 8, g.Len())
	assert.Equal(t, ids("m1", "m3", "m8"), Roots(g))
}

func TestGraphJSONRoundTrip(t *testing.T) {
	raw := `{"z":{"parent":null,"children":["b","a"]},"b":{"parent":"z","children":[]},"a":{"parent":"z","children":[]}}`

	g, err := DecodeGraph([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, ids("z", "b", "a"), g.Keys())

	encoded, err := EncodeGraph(g)
	require.NoError(t, err)
	assert.Equal(t, raw, string(encoded))

	empty, err := DecodeGraph(nil)
	require.NoError(t, err)
	assert.True(t, empty.IsEmpty())
	encoded, err = EncodeGraph(empty)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(encoded))

	_, err = DecodeGraph([]byte(`{"a": {"parent": 7}}`))
	assert.Error(t, err)
}

func TestBuildGraph(t *testing.T) {
	link := func(child, parent string) ParentLink {
		l := ParentLink{ID: id(child)}
		if parent != "" {
			l.Parent = ptr(parent)
		}
		return l
	}

	tests := []struct {
		name    string
		links   []ParentLink
		want    *Graph
		wantErr bool
	}{
		{
			name:  "empty",
			links: nil,
			want:  NewGraph(),
		},
		{
			name:  "forest keeps insertion order",
			links: []ParentLink{link("a", ""), link("b", "a"), link("c", "a"), link("d", ""), link("e", "b")},
			want:  mustBuild(t, [2]string{"a", ""}, [2]string{"b", "a"}, [2]string{"c", "a"}, [2]string{"d", ""}, [2]string{"e", "b"}),
		},
		{
			name:    "parent stored after child",
			links:   []ParentLink{link("b", "a"), link("a", "")},
			wantErr: true,
		},
		{
			name:    "duplicate id",
			links:   []ParentLink{link("a", ""), link("a", "")},
			wantErr: true,
		},
		{
			name:    "empty id",
			links:   []ParentLink{link("", "")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := BuildGraph(tt.links)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, pkgerrors.IsGraphCorrupt(err))
				return
			}
			require.NoError(t, err)
			require.NoError(t, Validate(g))
			assert.Equal(t, tt.want.Keys(), g.Keys())
			for _, k := range tt.want.Keys() {
				want, _ := tt.want.Node(k)
				got, _ := g.Node(k)
				assert.Equal(t, want, got, k)
			}
		})
	}
}

func TestBuildGraph_LongChain(t *testing.T) {
	const depth = 10000
	links := make([]ParentLink, depth)
	for i := range links {
		links[i].ID = valueobjects.NewMessageID()
		if i > 0 {
			links[i].Parent = links[i-1].ID.Ptr()
		}
	}

	g, err := BuildGraph(links)
	require.NoError(t, err)
	assert.Equal(t, depth, g.Len())

	chain, err := AncestorChain(g, links[depth-1].ID)
	require.NoError(t, err)
	assert.Len(t, chain, depth)
	assert.Equal(t, []valueobjects.MessageID{links[depth-1].ID}, Heads(g))
}
