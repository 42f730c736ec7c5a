// Package resolve orders tables so that every table follows the tables it references.
package resolve

import (
	"fmt"
	"sort"

	"github.com/tordrt/plugmigrate/internal/errdefs"
	"github.com/tordrt/plugmigrate/internal/schema"
)

// Resolution is a creation order plus the cycles that were broken to produce it
type Resolution struct {
	Tables []*schema.Table
	// Cycles lists each strongly connected group emitted as a unit, members sorted.
	// Foreign keys inside a cycle rely on the deferred foreign key pass.
	Cycles [][]schema.QualifiedName
}

type graph struct {
	tables     map[schema.QualifiedName]*schema.Table
	deps       map[schema.QualifiedName][]schema.QualifiedName
	dependents map[schema.QualifiedName][]schema.QualifiedName
}

// Order sorts tables topologically over cross-table foreign keys.
//
// Ties are broken by (namespace, name). Self-references and references to tables outside
// the input are ignored. A cycle is emitted as a group once nothing else is ready.
func Order(tables []*schema.Table) (*Resolution, error) {
	g, err := buildGraph(tables)
	if err != nil {
		return nil, err
	}

	remaining := make(map[schema.QualifiedName]int, len(g.tables))
	for name := range g.tables {
		remaining[name] = len(g.deps[name])
	}

	res := &Resolution{Tables: make([]*schema.Table, 0, len(tables))}
	emit := func(name schema.QualifiedName) {
		delete(remaining, name)
		res.Tables = append(res.Tables, g.tables[name])
		for _, dependent := range g.dependents[name] {
			if _, ok := remaining[dependent]; ok {
				remaining[dependent]--
			}
		}
	}

	for len(remaining) > 0 {
		if next, ok := lowestReady(remaining); ok {
			emit(next)
			continue
		}

		component := g.terminalComponent(remaining)
		if len(component) == 0 {
			return nil, cycleError(g, remaining)
		}
		res.Cycles = append(res.Cycles, component)
		for _, name := range component {
			delete(remaining, name)
		}
		for _, name := range component {
			res.Tables = append(res.Tables, g.tables[name])
			for _, dependent := range g.dependents[name] {
				if _, ok := remaining[dependent]; ok {
					remaining[dependent]--
				}
			}
		}
	}

	return res, nil
}

func buildGraph(tables []*schema.Table) (*graph, error) {
	g := &graph{
		tables:     make(map[schema.QualifiedName]*schema.Table, len(tables)),
		deps:       make(map[schema.QualifiedName][]schema.QualifiedName),
		dependents: make(map[schema.QualifiedName][]schema.QualifiedName),
	}
	for _, t := range tables {
		name := t.QualifiedName()
		if _, dup := g.tables[name]; dup {
			return nil, fmt.Errorf("table %s declared more than once", name)
		}
		g.tables[name] = t
	}

	for name, t := range g.tables {
		for _, dep := range t.Dependencies() {
			if dep == name {
				continue
			}
			if _, known := g.tables[dep]; !known {
				continue
			}
			g.deps[name] = append(g.deps[name], dep)
			g.dependents[dep] = append(g.dependents[dep], name)
		}
	}
	return g, nil
}

func lowestReady(remaining map[schema.QualifiedName]int) (schema.QualifiedName, bool) {
	var best schema.QualifiedName
	found := false
	for name, pending := range remaining {
		if pending > 0 {
			continue
		}
		if !found || name.Less(best) {
			best = name
			found = true
		}
	}
	return best, found
}

// terminalComponent finds the strongly connected components of the remaining graph and
// returns the lowest-sorted one whose members depend only on each other.
func (g *graph) terminalComponent(remaining map[schema.QualifiedName]int) []schema.QualifiedName {
	nodes := make([]schema.QualifiedName, 0, len(remaining))
	for name := range remaining {
		nodes = append(nodes, name)
	}
	schema.SortNames(nodes)

	components := g.tarjan(nodes, remaining)

	var best []schema.QualifiedName
	for _, component := range components {
		members := make(map[schema.QualifiedName]bool, len(component))
		for _, name := range component {
			members[name] = true
		}
		closed := true
		for _, name := range component {
			for _, dep := range g.deps[name] {
				if _, live := remaining[dep]; live && !members[dep] {
					closed = false
				}
			}
		}
		if !closed {
			continue
		}
		schema.SortNames(component)
		if best == nil || component[0].Less(best[0]) {
			best = component
		}
	}
	return best
}

func (g *graph) tarjan(nodes []schema.QualifiedName, remaining map[schema.QualifiedName]int) [][]schema.QualifiedName {
	index := 0
	indices := make(map[schema.QualifiedName]int)
	lowlink := make(map[schema.QualifiedName]int)
	onStack := make(map[schema.QualifiedName]bool)
	var stack []schema.QualifiedName
	var components [][]schema.QualifiedName

	var connect func(v schema.QualifiedName)
	connect = func(v schema.QualifiedName) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.deps[v] {
			if _, live := remaining[w]; !live {
				continue
			}
			if _, visited := indices[w]; !visited {
				connect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var component []schema.QualifiedName
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				component = append(component, w)
				if w == v {
					break
				}
			}
			components = append(components, component)
		}
	}

	for _, v := range nodes {
		if _, visited := indices[v]; !visited {
			connect(v)
		}
	}
	return components
}

func cycleError(g *graph, remaining map[schema.QualifiedName]int) *errdefs.DependencyCycleError {
	names := make([]schema.QualifiedName, 0, len(remaining))
	for name := range remaining {
		names = append(names, name)
	}
	schema.SortNames(names)

	err := &errdefs.DependencyCycleError{}
	plugins := make(map[string]bool)
	for _, name := range names {
		err.Tables = append(err.Tables, name.String())
		plugins[g.tables[name].Plugin] = true
	}
	for plugin := range plugins {
		err.Plugins = append(err.Plugins, plugin)
	}
	sort.Strings(err.Plugins)
	return err
}
