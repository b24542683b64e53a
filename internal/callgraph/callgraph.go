// Package callgraph builds the call graph of a module before lowering, while
// virtual sites still name their method. Direct calls contribute one edge;
// each virtual site contributes one edge per concrete implementation the
// resolver enumerates, so the graph shows exactly what dispatch lowering will
// wire up.
package callgraph

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/zboralski/lattice"

	"opal/internal/ir"
	"opal/internal/lower"
	"opal/internal/types"
)

// EdgeKind separates statically bound calls from dispatched ones.
type EdgeKind uint8

const (
	EdgeDirect EdgeKind = iota
	EdgeVirtual
)

func (k EdgeKind) String() string {
	if k == EdgeVirtual {
		return "virtual"
	}
	return "direct"
}

// Edge is one call edge. Virtual edges carry the dispatched method name and
// the concrete receiver class the resolver bound it to.
type Edge struct {
	Caller string
	Callee string
	Kind   EdgeKind
	Method string
	Class  types.ClassID
}

// Graph is the built call graph.
type Graph struct {
	Funcs []string
	Edges []Edge
}

// Build walks every function's reachable code. Virtual and invoke-form sites
// resolve through r; a site with zero implementations contributes nothing,
// matching the dead-call degradation the lowering performs.
func Build(mod *ir.Module, in *types.Interner, r lower.Resolver) (*Graph, error) {
	if mod == nil || in == nil || r == nil {
		return nil, fmt.Errorf("callgraph: nil module, interner or resolver")
	}
	g := &Graph{}
	for _, f := range mod.Funcs {
		if f == nil {
			continue
		}
		g.Funcs = append(g.Funcs, f.Name)
		if err := g.addFunc(mod, in, r, f); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (g *Graph) addFunc(mod *ir.Module, in *types.Interner, r lower.Resolver, f *ir.Func) error {
	reach := f.Reachable()
	for bi := range f.Blocks {
		blk := &f.Blocks[bi]
		if !reach[blk.ID] {
			continue
		}
		for _, id := range blk.Code {
			ins := f.Instr(id)
			switch ins.Kind {
			case ir.InstrCall:
				callee := mod.Func(ins.Call.Func)
				if callee == nil {
					return fmt.Errorf("callgraph: %s calls missing function #%d", f.Name, ins.Call.Func)
				}
				g.Edges = append(g.Edges, Edge{Caller: f.Name, Callee: callee.Name})
			case ir.InstrCallVirtual:
				if err := g.addVirtual(mod, in, r, f, ins.CallVirtual.Method, ins.CallVirtual.Recv); err != nil {
					return err
				}
			case ir.InstrInvokeVirtual:
				if err := g.addVirtual(mod, in, r, f, ins.InvokeVirtual.Method, ins.InvokeVirtual.Recv); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (g *Graph) addVirtual(mod *ir.Module, in *types.Interner, r lower.Resolver, f *ir.Func, method string, recv ir.ValueID) error {
	class := in.ObjectClass(f.TypeOf(recv))
	if !class.IsValid() {
		return fmt.Errorf("callgraph: %s dispatches %q on a non-object receiver", f.Name, method)
	}
	impls, err := r.Implementations(class, method)
	if err != nil {
		return err
	}
	for _, impl := range impls {
		callee := mod.Func(impl.Entry)
		if callee == nil {
			return fmt.Errorf("callgraph: %s.%s resolves to missing function #%d", f.Name, method, impl.Entry)
		}
		g.Edges = append(g.Edges, Edge{
			Caller: f.Name,
			Callee: callee.Name,
			Kind:   EdgeVirtual,
			Method: method,
			Class:  impl.Class,
		})
	}
	return nil
}

// Lattice flattens the graph into the shared container, deduplicated. Edge
// kinds are dropped; callers that need them keep the Graph.
func (g *Graph) Lattice() *lattice.Graph {
	lg := &lattice.Graph{}
	lg.Nodes = append(lg.Nodes, g.Funcs...)
	for _, e := range g.Edges {
		lg.Edges = append(lg.Edges, lattice.Edge{Caller: e.Caller, Callee: e.Callee})
	}
	lg.Dedup()
	return lg
}

// WriteDOT renders the graph for graphviz. Virtual edges are dashed and
// labeled with the method; duplicate edges collapse.
func (g *Graph) WriteDOT(w io.Writer, title string) error {
	var b strings.Builder
	b.WriteString("digraph callgraph {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [shape=rect, fontsize=10];\n")
	if title != "" {
		fmt.Fprintf(&b, "  labelloc=t;\n  label=%q;\n", title)
	}
	b.WriteByte('\n')

	for _, name := range g.Funcs {
		fmt.Fprintf(&b, "  %s [label=%q];\n", dotID(name), name)
	}
	b.WriteByte('\n')

	type key struct {
		from, to, method string
		kind             EdgeKind
	}
	seen := make(map[key]bool, len(g.Edges))
	keys := make([]key, 0, len(g.Edges))
	for _, e := range g.Edges {
		k := key{from: e.Caller, to: e.Callee, method: e.Method, kind: e.Kind}
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].from != keys[j].from {
			return keys[i].from < keys[j].from
		}
		if keys[i].to != keys[j].to {
			return keys[i].to < keys[j].to
		}
		return keys[i].method < keys[j].method
	})
	for _, k := range keys {
		if k.kind == EdgeVirtual {
			fmt.Fprintf(&b, "  %s -> %s [style=dashed, label=%q];\n", dotID(k.from), dotID(k.to), k.method)
		} else {
			fmt.Fprintf(&b, "  %s -> %s;\n", dotID(k.from), dotID(k.to))
		}
	}
	b.WriteString("}\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// dotID makes a name safe as a bare DOT identifier.
func dotID(name string) string {
	var sb strings.Builder
	sb.Grow(len(name) + 1)
	for i, r := range name {
		ok := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (i > 0 && r >= '0' && r <= '9')
		if ok {
			sb.WriteRune(r)
		} else {
			sb.WriteByte('_')
		}
	}
	if sb.Len() == 0 {
		return "_"
	}
	return sb.String()
}
