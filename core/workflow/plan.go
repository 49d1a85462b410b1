package workflow

import (
	"fmt"

	"github.com/cordum/jobcore/core/model"
)

// graph is the dependency structure of one workflow.
type graph struct {
	order      []string            // job names in workflow order
	deps       map[string][]string // job -> distinct dependencies
	dependents map[string][]string // reverse adjacency
}

func buildGraph(wf *model.Workflow) (*graph, error) {
	if err := wf.Validate(); err != nil {
		return nil, &Error{WorkflowID: wf.ID, Msg: "invalid workflow", Err: err}
	}
	g := &graph{
		order:      make([]string, 0, len(wf.Jobs)),
		deps:       make(map[string][]string, len(wf.Jobs)),
		dependents: make(map[string][]string, len(wf.Jobs)),
	}
	for _, j := range wf.Jobs {
		g.order = append(g.order, j.Name)
	}
	for _, j := range wf.Jobs {
		seen := make(map[string]struct{}, len(j.DependsOn))
		for _, dep := range j.DependsOn {
			if wf.Job(dep) == nil {
				return nil, &Error{WorkflowID: wf.ID, Msg: fmt.Sprintf("job %q depends on unknown job %q", j.Name, dep)}
			}
			if _, dup := seen[dep]; dup {
				continue
			}
			seen[dep] = struct{}{}
			g.deps[j.Name] = append(g.deps[j.Name], dep)
			g.dependents[dep] = append(g.dependents[dep], j.Name)
		}
	}
	return g, nil
}

// levels runs Kahn's algorithm one level at a time. Jobs left over after the
// queue drains cannot resolve and are returned as unresolved.
func (g *graph) levels() (levels [][]string, unresolved []string) {
	indegree := make(map[string]int, len(g.order))
	var ready []string
	for _, name := range g.order {
		indegree[name] = len(g.deps[name])
		if indegree[name] == 0 {
			ready = append(ready, name)
		}
	}
	resolved := 0
	for len(ready) > 0 {
		level := ready
		ready = nil
		levels = append(levels, level)
		resolved += len(level)
		for _, name := range level {
			for _, dep := range g.dependents[name] {
				indegree[dep]--
				if indegree[dep] == 0 {
					ready = append(ready, dep)
				}
			}
		}
	}
	if resolved < len(g.order) {
		for _, name := range g.order {
			if indegree[name] > 0 {
				unresolved = append(unresolved, name)
			}
		}
	}
	return levels, unresolved
}

// cyclic returns the members of unresolved that lie on a cycle, in workflow
// order. Jobs merely downstream of a cycle are left out.
func (g *graph) cyclic(unresolved []string) []string {
	within := make(map[string]bool, len(unresolved))
	for _, name := range unresolved {
		within[name] = true
	}
	// Tarjan's strongly connected components over the unresolved subgraph.
	var (
		index   = 0
		indices = make(map[string]int, len(unresolved))
		low     = make(map[string]int, len(unresolved))
		onStack = make(map[string]bool, len(unresolved))
		stack   []string
		onCycle = make(map[string]bool)
	)
	var connect func(v string)
	connect = func(v string) {
		indices[v] = index
		low[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true
		for _, w := range g.deps[v] {
			if !within[w] {
				continue
			}
			if _, seen := indices[w]; !seen {
				connect(w)
				low[v] = min(low[v], low[w])
			} else if onStack[w] {
				low[v] = min(low[v], indices[w])
			}
		}
		if low[v] != indices[v] {
			return
		}
		var comp []string
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			comp = append(comp, w)
			if w == v {
				break
			}
		}
		if len(comp) > 1 || g.selfLoop(v) {
			for _, w := range comp {
				onCycle[w] = true
			}
		}
	}
	for _, name := range unresolved {
		if _, seen := indices[name]; !seen {
			connect(name)
		}
	}
	var out []string
	for _, name := range unresolved {
		if onCycle[name] {
			out = append(out, name)
		}
	}
	return out
}

func (g *graph) selfLoop(name string) bool {
	for _, dep := range g.deps[name] {
		if dep == name {
			return true
		}
	}
	return false
}

// downstream returns every job reachable from roots through the reverse
// adjacency, excluding the roots themselves.
func (g *graph) downstream(roots []string) []string {
	seen := make(map[string]bool, len(roots))
	for _, r := range roots {
		seen[r] = true
	}
	queue := append([]string(nil), roots...)
	var out []string
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		for _, dep := range g.dependents[name] {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			out = append(out, dep)
			queue = append(queue, dep)
		}
	}
	return out
}

// plan resolves the execution levels of wf or returns the structural error
// that prevents it from running.
func plan(wf *model.Workflow) (*graph, [][]string, error) {
	if wf == nil {
		return nil, nil, &Error{Msg: "workflow is nil"}
	}
	g, err := buildGraph(wf)
	if err != nil {
		return nil, nil, err
	}
	levels, unresolved := g.levels()
	if len(unresolved) > 0 {
		return nil, nil, newCyclicDependencyError(wf.ID, g.cyclic(unresolved), unresolved)
	}
	return g, levels, nil
}
