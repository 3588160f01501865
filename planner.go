package loom

// Planner builds and seals a Graph from a world's registered systems,
// applying the edge sources of §4.7 in priority order, then assigns lanes
// for threaded execution.
type Planner struct {
	graph   *Graph
	systems map[string]*System
	order   []string // registration order, for deterministic implicit edges

	lanes     [][]*System // lane 0 is main-thread
	systemLane map[string]int
}

// NewPlanner returns an empty planner.
func NewPlanner() *Planner {
	return &Planner{
		graph:      NewGraph(),
		systems:    make(map[string]*System),
		systemLane: make(map[string]int),
	}
}

// Add registers s with the planner, assigning it a graph vertex.
func (p *Planner) Add(s *System) {
	if _, exists := p.systems[s.name]; exists {
		return
	}
	p.systems[s.name] = s
	p.order = append(p.order, s.name)
	p.graph.AddVertex(s.name)
}

// Seal builds every edge source in priority order and seals the graph
// (§4.7): weight 5 explicit before/after, weight 4 inAnyOrderWith (denial),
// weight 3 beforeReadersOf/afterWritersOf, weight 2
// inAnyOrderWithReadersOf (denial), weight 1 implicit writer->reader edges.
func (p *Planner) Seal(threads int) error {
	for _, name := range p.order {
		s := p.systems[name]
		a := p.graph.index[name]
		for _, other := range s.before {
			if b, ok := p.graph.index[other]; ok {
				p.graph.addEdge(a, b, 5)
			}
		}
		for _, other := range s.after {
			if b, ok := p.graph.index[other]; ok {
				p.graph.addEdge(b, a, 5)
			}
		}
	}
	for _, name := range p.order {
		s := p.systems[name]
		a := p.graph.index[name]
		for _, other := range s.inAnyOrderWith {
			if b, ok := p.graph.index[other]; ok {
				p.graph.denyEdge(a, b, 4)
			}
		}
	}
	for _, name := range p.order {
		s := p.systems[name]
		a := p.graph.index[name]
		for _, t := range s.beforeReadersOf {
			for _, other := range p.order {
				if other == name {
					continue
				}
				o := p.systems[other]
				if o.reads.ContainsAll(bitOf(t)) {
					p.graph.addEdge(a, p.graph.index[other], 3)
				}
			}
		}
		for _, t := range s.afterWritersOf {
			for _, other := range p.order {
				if other == name {
					continue
				}
				o := p.systems[other]
				if o.writes.ContainsAll(bitOf(t)) {
					p.graph.addEdge(p.graph.index[other], a, 3)
				}
			}
		}
	}
	for _, name := range p.order {
		s := p.systems[name]
		a := p.graph.index[name]
		for _, t := range s.inAnyOrderWithReadersOf {
			for _, other := range p.order {
				if other == name {
					continue
				}
				o := p.systems[other]
				if o.reads.ContainsAll(bitOf(t)) {
					p.graph.denyEdge(a, p.graph.index[other], 2)
				}
			}
		}
	}
	// weight 1: implicit writer -> reader edge per shared component type.
	for i, nameA := range p.order {
		a := p.systems[nameA]
		for j, nameB := range p.order {
			if i == j {
				continue
			}
			b := p.systems[nameB]
			if a.writes.ContainsAny(b.reads) {
				p.graph.addEdge(p.graph.index[nameA], p.graph.index[nameB], 1)
			}
		}
	}

	if err := p.graph.Seal(); err != nil {
		return err
	}
	p.assignLanes(threads)
	return nil
}

// assignLanes gives every system its own lane, merges lanes holding
// conflicting systems, then merges the smallest remaining lanes until the
// lane count is at most threads; attached siblings get no special merging (§4.7 "Lane assignment"). Lane 0 is
// reserved for the main thread and is only merged into as a last resort.
func (p *Planner) assignLanes(threads int) {
	if threads < 1 {
		threads = 1
	}
	laneOf := make(map[string]int, len(p.order))
	for i, name := range p.order {
		laneOf[name] = i
	}
	lanes := make(map[int][]string, len(p.order))
	for i, name := range p.order {
		lanes[i] = []string{name}
	}

	merge := func(from, into int) {
		for _, name := range lanes[from] {
			laneOf[name] = into
		}
		lanes[into] = append(lanes[into], lanes[from]...)
		delete(lanes, from)
	}

	// merge lanes holding systems with an access conflict: the later
	// system's lane folds into the earlier system's lane, or the earlier
	// one's into lane 0 when the later system already sits there. Which of
	// the two writes is not considered.
	for i, nameA := range p.order {
		a := p.systems[nameA]
		for j := i + 1; j < len(p.order); j++ {
			nameB := p.order[j]
			b := p.systems[nameB]
			if !a.conflictsWith(b) {
				continue
			}
			la, lb := laneOf[nameA], laneOf[nameB]
			if la == lb {
				continue
			}
			if lb == 0 {
				merge(la, lb)
			} else {
				merge(lb, la)
			}
		}
	}

	// iteratively merge remaining lanes (by smallest combined size) down to
	// the thread budget, keeping lane 0 as last resort.
	for len(lanes) > threads {
		var bestFrom, bestInto int
		bestSize := -1
		found := false
		for from := range lanes {
			if from == 0 {
				continue
			}
			for into := range lanes {
				if from == into || into == 0 {
					continue
				}
				size := len(lanes[from]) + len(lanes[into])
				if !found || size < bestSize {
					bestFrom, bestInto, bestSize, found = from, into, size, true
				}
			}
		}
		if !found {
			// only lane 0 plus one other remain and threads==1: fold in.
			for from := range lanes {
				if from != 0 {
					merge(from, 0)
					break
				}
			}
			continue
		}
		merge(bestFrom, bestInto)
	}

	// compact lane indices to 0..k-1, keeping 0 fixed.
	ids := make([]int, 0, len(lanes))
	for id := range lanes {
		ids = append(ids, id)
	}
	remap := make(map[int]int, len(ids))
	next := 1
	remap[0] = 0
	for _, id := range ids {
		if id == 0 {
			continue
		}
		remap[id] = next
		next++
	}
	if _, ok := lanes[0]; !ok {
		// no system landed on lane 0 (unlikely given merge bias); leave as is.
		remap[0] = 0
	}

	p.lanes = make([][]*System, len(ids))
	p.systemLane = make(map[string]int, len(p.order))
	for id, names := range lanes {
		lane := remap[id]
		for _, name := range names {
			p.systemLane[name] = lane
			p.systems[name].lane = lane
			p.lanes[lane] = append(p.lanes[lane], p.systems[name])
		}
	}
}

// LaneCount returns the number of lanes after sealing.
func (p *Planner) LaneCount() int { return len(p.lanes) }

// SystemsInLane returns the systems assigned to lane, unsorted within the
// lane (topological ordering happens via Graph.traverse at execute time).
func (p *Planner) SystemsInLane(lane int) []*System { return p.lanes[lane] }
