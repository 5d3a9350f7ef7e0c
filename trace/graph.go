package trace

import (
	"fmt"
	"io"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/multi"
	"gonum.org/v1/gonum/graph/topo"
)

type taskNode struct {
	name string
	id   int64
}

func (n *taskNode) ID() int64 {
	return n.id
}

// Edge counts the hand-overs from one task to another.
type Edge struct {
	From  string
	To    string
	Count int
}

// Summary describes the transition multigraph of a run.
type Summary struct {
	Switches  int
	SwitchIns map[string]int
	Edges     []Edge

	// Components are the strongly connected components of the graph. Tasks
	// in one component all hand the core to each other eventually.
	Components [][]string
}

// Summarize builds a directed multigraph with one line per transition and
// reduces it to per-edge counts and strongly connected components.
func (r *Recorder) Summarize() Summary {
	g := multi.NewDirectedGraph()
	nodes := map[string]*taskNode{}
	makeNode := func(name string) *taskNode {
		if node, ok := nodes[name]; ok {
			return node
		}
		node := &taskNode{name: name, id: int64(len(nodes))}
		nodes[name] = node
		g.AddNode(node)
		return node
	}

	s := Summary{SwitchIns: map[string]int{}}
	for _, tr := range r.transitions {
		to := makeNode(tr.To)
		s.SwitchIns[tr.To]++
		if tr.From == "" || tr.From == tr.To {
			continue
		}
		from := makeNode(tr.From)
		g.SetLine(g.NewLine(from, to))
		s.Switches++
	}

	names := maps.Keys(nodes)
	slices.Sort(names)
	for _, from := range names {
		for _, to := range names {
			lines := g.Lines(nodes[from].ID(), nodes[to].ID())
			if lines == nil || lines.Len() == 0 {
				continue
			}
			s.Edges = append(s.Edges, Edge{From: from, To: to, Count: lines.Len()})
		}
	}

	for _, component := range topo.TarjanSCC(g) {
		s.Components = append(s.Components, componentNames(component))
	}
	slices.SortFunc(s.Components, func(a, b []string) bool {
		return a[0] < b[0]
	})
	return s
}

func componentNames(nodes []graph.Node) []string {
	names := make([]string, len(nodes))
	for i, n := range nodes {
		names[i] = n.(*taskNode).name
	}
	slices.Sort(names)
	return names
}

// Fair reports whether every task that ever ran can reach every other one.
func (s Summary) Fair() bool {
	return len(s.Components) <= 1
}

func (s Summary) Write(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "switches: %d\n", s.Switches); err != nil {
		return err
	}

	names := maps.Keys(s.SwitchIns)
	slices.Sort(names)
	for _, name := range names {
		if _, err := fmt.Fprintf(w, "  %-8s ran %d time(s)\n", name, s.SwitchIns[name]); err != nil {
			return err
		}
	}
	for _, e := range s.Edges {
		if _, err := fmt.Fprintf(w, "  %s -> %s x%d\n", e.From, e.To, e.Count); err != nil {
			return err
		}
	}
	for _, c := range s.Components {
		if _, err := fmt.Fprintf(w, "  component %v\n", c); err != nil {
			return err
		}
	}
	return nil
}
