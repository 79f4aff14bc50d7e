package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"docreview/internal/logging"
	"docreview/internal/persona"
)

// Fixed node identifiers. Reviewer nodes use their persona ID.
const (
	SupervisorNode = "supervisor"
	AggregatorNode = "aggregator"
	EndNode        = "__end__"
)

// NodeKind distinguishes the three node roles.
type NodeKind string

const (
	KindSupervisor NodeKind = "supervisor"
	KindReviewer   NodeKind = "reviewer"
	KindAggregator NodeKind = "aggregator"
)

// Node is one compiled computation.
type Node struct {
	ID      string
	Kind    NodeKind
	Persona persona.Persona
	run     NodeFunc
}

// Edge connects two nodes. Conditional edges are only taken for selected
// reviewers.
type Edge struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Conditional bool   `json:"conditional,omitempty"`
}

// NodeSpec is the data-only view of a Node.
type NodeSpec struct {
	ID          string   `json:"id"`
	Kind        NodeKind `json:"kind"`
	PersonaName string   `json:"persona_name,omitempty"`
}

// Description is the graph as plain data: node list plus edge list.
type Description struct {
	Version uint64     `json:"version"`
	Entry   string     `json:"entry"`
	Exit    string     `json:"exit"`
	Nodes   []NodeSpec `json:"nodes"`
	Edges   []Edge     `json:"edges"`
}

// Graph is an immutable compiled workflow. It is safe for concurrent use by
// any number of executions.
type Graph struct {
	version   uint64
	nodes     map[string]*Node
	reviewers []string
	edges     []Edge
}

// Compile builds a graph from a persona snapshot keyed by ID. The result
// depends only on the snapshot contents.
func Compile(personas map[string]persona.Persona) (*Graph, error) {
	list := make([]persona.Persona, 0, len(personas))
	for _, id := range persona.SortedIDs(personas) {
		p := personas[id]
		if p.ID == "" {
			p.ID = id
		}
		if p.ID != id {
			return nil, fmt.Errorf("%w: key %q holds persona %q", ErrInvalidPersonaSet, id, p.ID)
		}
		list = append(list, p)
	}
	return CompileList(list)
}

// CompileList compiles a list of personas, rejecting repeated IDs that a map
// would otherwise collapse silently. Reviewers are ordered by ID whatever the
// input order.
func CompileList(list []persona.Persona) (*Graph, error) {
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: no personas", ErrInvalidPersonaSet)
	}

	byID := make(map[string]persona.Persona, len(list))
	for _, p := range list {
		id := p.ID
		switch {
		case strings.TrimSpace(id) == "":
			return nil, fmt.Errorf("%w: empty persona id", ErrInvalidPersonaSet)
		case id == SupervisorNode || id == AggregatorNode || id == EndNode:
			return nil, fmt.Errorf("%w: persona id %q is reserved", ErrInvalidPersonaSet, id)
		case strings.TrimSpace(p.Name) == "":
			return nil, fmt.Errorf("%w: persona %q has no name", ErrInvalidPersonaSet, id)
		}
		if _, dup := byID[id]; dup {
			return nil, fmt.Errorf("%w: duplicate persona id %q", ErrInvalidPersonaSet, id)
		}
		byID[id] = p
	}

	ids := persona.SortedIDs(byID)
	g := &Graph{
		nodes:     make(map[string]*Node, len(ids)+2),
		reviewers: ids,
		edges:     make([]Edge, 0, 2*len(ids)+1),
	}
	g.nodes[SupervisorNode] = &Node{ID: SupervisorNode, Kind: KindSupervisor, run: supervisorNode}
	g.nodes[AggregatorNode] = &Node{ID: AggregatorNode, Kind: KindAggregator, run: aggregatorNode}

	for _, id := range ids {
		p := byID[id]
		g.nodes[id] = &Node{ID: id, Kind: KindReviewer, Persona: p, run: reviewerNode(p)}
		g.edges = append(g.edges, Edge{From: g.Entry(), To: id, Conditional: true})
	}
	for _, id := range ids {
		g.edges = append(g.edges, Edge{From: id, To: g.Terminal()})
	}
	g.edges = append(g.edges, Edge{From: g.Terminal(), To: EndNode})

	return g, nil
}

// Version is the sequence number assigned by Current, or 0 for graphs
// compiled directly.
func (g *Graph) Version() uint64 { return g.version }

// Entry returns the single entry node.
func (g *Graph) Entry() string { return SupervisorNode }

// Terminal returns the node whose completion ends an execution.
func (g *Graph) Terminal() string { return AggregatorNode }

// Reviewers returns the reviewer node IDs in ascending order.
func (g *Graph) Reviewers() []string {
	return append([]string(nil), g.reviewers...)
}

// HasReviewer reports whether id names a reviewer node.
func (g *Graph) HasReviewer(id string) bool {
	n, ok := g.nodes[id]
	return ok && n.Kind == KindReviewer
}

// Persona returns the persona a reviewer node was compiled from.
func (g *Graph) Persona(id string) (persona.Persona, bool) {
	n, ok := g.nodes[id]
	if !ok || n.Kind != KindReviewer {
		return persona.Persona{}, false
	}
	return n.Persona, true
}

// Nodes returns every node in a stable order: supervisor, reviewers,
// aggregator.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.nodes))
	out = append(out, g.nodes[SupervisorNode])
	for _, id := range g.reviewers {
		out = append(out, g.nodes[id])
	}
	return append(out, g.nodes[AggregatorNode])
}

// Edges returns a copy of the edge list.
func (g *Graph) Edges() []Edge {
	return append([]Edge(nil), g.edges...)
}

// Route evaluates the supervisor's conditional edges: it returns the sorted,
// de-duplicated reviewer IDs to fan out to, or ErrInvalidSelection.
func (g *Graph) Route(selected []string) ([]string, error) {
	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: no reviewers selected", ErrInvalidSelection)
	}
	seen := make(map[string]struct{}, len(selected))
	route := make([]string, 0, len(selected))
	var unknown []string
	for _, id := range selected {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if !g.HasReviewer(id) {
			unknown = append(unknown, id)
			continue
		}
		route = append(route, id)
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: unknown reviewers %s", ErrInvalidSelection, strings.Join(unknown, ", "))
	}
	sort.Strings(route)
	return route, nil
}

// Describe returns the graph as data.
func (g *Graph) Describe() Description {
	d := Description{
		Version: g.version,
		Entry:   g.Entry(),
		Exit:    g.Terminal(),
		Edges:   g.Edges(),
	}
	for _, n := range g.Nodes() {
		d.Nodes = append(d.Nodes, NodeSpec{ID: n.ID, Kind: n.Kind, PersonaName: n.Persona.Name})
	}
	return d
}

// Mermaid renders the description as a mermaid flowchart.
func (d Description) Mermaid() string {
	var b strings.Builder
	b.WriteString("graph TD\n")
	for _, n := range d.Nodes {
		label := n.ID
		if n.PersonaName != "" {
			label = n.PersonaName
		}
		fmt.Fprintf(&b, "    %s[%q]\n", n.ID, label)
	}
	for _, e := range d.Edges {
		arrow := "-->"
		if e.Conditional {
			arrow = "-.->"
		}
		fmt.Fprintf(&b, "    %s %s %s\n", e.From, arrow, e.To)
	}
	return b.String()
}

// Current holds the graph new executions start from. Swapping it never
// affects executions that already loaded the previous graph.
type Current struct {
	mu      sync.Mutex
	graph   atomic.Pointer[Graph]
	version uint64
}

// Load returns the current graph, or nil before the first successful compile.
func (c *Current) Load() *Graph {
	return c.graph.Load()
}

// Recompile compiles personas and publishes the result under the next
// version. On failure the previous graph stays current.
func (c *Current) Recompile(personas map[string]persona.Persona) (*Graph, error) {
	g, err := Compile(personas)
	if err != nil {
		logging.Get(logging.CategoryGraph).Warn("recompile rejected, keeping version %d: %v", c.versionOf(), err)
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.version++
	g.version = c.version
	c.graph.Store(g)
	logging.Graph("compiled graph version %d with %d reviewers", g.version, len(g.reviewers))
	return g, nil
}

// Reload lists the registry and recompiles from that snapshot.
func (c *Current) Reload(ctx context.Context, registry persona.Registry) (*Graph, error) {
	personas, err := registry.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list personas: %w", err)
	}
	return c.Recompile(personas)
}

func (c *Current) versionOf() uint64 {
	if g := c.graph.Load(); g != nil {
		return g.version
	}
	return 0
}
