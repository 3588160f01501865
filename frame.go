package loom

// Plan runs one group's systems for a frame, in either the single-lane or
// multi-lane regime (§4.8).
type Plan interface {
	RunPrepare(w *World) error
	RunInitialize(w *World) error
	Run(w *World, time, delta float64) error
	RunFinalize(w *World) error
}

// SimplePlan executes a single lane's systems in sealed topological order,
// flushing the registry between each call (§4.8 "SimplePlan").
type SimplePlan struct {
	director *Director
	order    []*System
}

// NewSimplePlan derives the execution order for group from planner's sealed
// graph via repeated traversal.
func NewSimplePlan(d *Director, group []*System) *SimplePlan {
	return &SimplePlan{director: d, order: topoOrder(d.planner, group)}
}

// topoOrder drains the planner's graph traversal, filtering to the systems
// in group, preserving readiness order.
func topoOrder(p *Planner, group []*System) []*System {
	inGroup := make(map[string]bool, len(group))
	for _, s := range group {
		inGroup[s.name] = true
	}
	byName := make(map[string]*System, len(group))
	for _, s := range group {
		byName[s.name] = s
	}

	var order []*System
	p.graph.resetTraversal()
	ready := p.graph.traverse(nil)
	seen := make(map[string]bool)
	for len(ready) > 0 {
		next := make([]string, 0)
		for _, name := range ready {
			if seen[name] {
				continue
			}
			seen[name] = true
			if s, ok := byName[name]; ok {
				order = append(order, s)
			}
			more := p.graph.traverse(&name)
			next = append(next, more...)
		}
		ready = next
	}
	return order
}

func (sp *SimplePlan) RunPrepare(w *World) error {
	for _, s := range sp.order {
		if err := sp.director.dispatch(s.lane, laborerRequest{action: actionPrepare, system: s, world: w}); err != nil {
			return wrapLaborerError(s.lane, err)
		}
	}
	return nil
}

func (sp *SimplePlan) RunInitialize(w *World) error {
	for _, s := range sp.order {
		if err := sp.director.dispatch(s.lane, laborerRequest{action: actionInitialize, system: s, world: w}); err != nil {
			return wrapLaborerError(s.lane, err)
		}
	}
	return nil
}

func (sp *SimplePlan) RunFinalize(w *World) error {
	for _, s := range sp.order {
		if err := sp.director.dispatch(s.lane, laborerRequest{action: actionFinalize, system: s, world: w}); err != nil {
			return wrapLaborerError(s.lane, err)
		}
	}
	return nil
}

// Run executes every system in order, flushing the registry's logs between
// each call so the next system observes up-to-date shape/write state.
func (sp *SimplePlan) Run(w *World, time, delta float64) error {
	for _, s := range sp.order {
		if err := sp.director.dispatch(s.lane, laborerRequest{action: actionExecute, system: s, world: w, time: time, delta: delta}); err != nil {
			return wrapLaborerError(s.lane, err)
		}
		if err := w.registry.shapeLog.Commit(); err != nil {
			return err
		}
		if err := w.registry.writeLog.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// ThreadedPlan executes a group's systems across lanes, dispatching each
// ready system to its lane's laborer and discovering newly-ready systems
// from graph.traverse as each completes (§4.8 "ThreadedPlan"). The full
// priority-weighted Sequencer of §4.8 (picking among several simultaneously
// ready systems by completionLaneImpact × priority) is not implemented: each
// wave dispatches every ready system at once, and a lane runs the systems it
// receives one at a time, in no defined order.
type ThreadedPlan struct {
	director *Director
	byName   map[string]*System
}

func NewThreadedPlan(d *Director, group []*System) *ThreadedPlan {
	byName := make(map[string]*System, len(group))
	for _, s := range group {
		byName[s.name] = s
	}
	return &ThreadedPlan{director: d, byName: byName}
}

func (tp *ThreadedPlan) runHook(w *World, action laborerAction) error {
	type result struct {
		lane int
		err  error
	}
	tp.director.planner.graph.resetTraversal()
	ready := tp.director.planner.graph.traverse(nil)
	seen := make(map[string]bool)
	for len(ready) > 0 {
		replies := make(chan result, len(ready))
		batch := 0
		for _, name := range ready {
			if seen[name] {
				continue
			}
			seen[name] = true
			s, ok := tp.byName[name]
			if !ok {
				continue
			}
			batch++
			go func(s *System) {
				err := tp.director.dispatch(s.lane, laborerRequest{action: action, system: s, world: w})
				replies <- result{lane: s.lane, err: err}
			}(s)
		}
		var next []string
		for i := 0; i < batch; i++ {
			r := <-replies
			if r.err != nil {
				return wrapLaborerError(r.lane, r.err)
			}
		}
		for _, name := range ready {
			more := tp.director.planner.graph.traverse(&name)
			next = append(next, more...)
		}
		ready = next
	}
	return nil
}

func (tp *ThreadedPlan) RunPrepare(w *World) error    { return tp.runHook(w, actionPrepare) }
func (tp *ThreadedPlan) RunInitialize(w *World) error { return tp.runHook(w, actionInitialize) }
func (tp *ThreadedPlan) RunFinalize(w *World) error   { return tp.runHook(w, actionFinalize) }

// Run dispatches each wave of ready systems to their lanes concurrently,
// waits for the wave to finish, then advances the traversal.
func (tp *ThreadedPlan) Run(w *World, time, delta float64) error {
	type result struct {
		lane int
		err  error
	}
	tp.director.planner.graph.resetTraversal()
	ready := tp.director.planner.graph.traverse(nil)
	seen := make(map[string]bool)
	for len(ready) > 0 {
		replies := make(chan result, len(ready))
		batch := 0
		for _, name := range ready {
			if seen[name] {
				continue
			}
			seen[name] = true
			s, ok := tp.byName[name]
			if !ok {
				continue
			}
			batch++
			go func(s *System) {
				err := tp.director.dispatch(s.lane, laborerRequest{action: actionExecute, system: s, world: w, time: time, delta: delta})
				replies <- result{lane: s.lane, err: err}
			}(s)
		}
		var next []string
		for i := 0; i < batch; i++ {
			r := <-replies
			if r.err != nil {
				return wrapLaborerError(r.lane, r.err)
			}
		}
		for _, name := range ready {
			more := tp.director.planner.graph.traverse(&name)
			next = append(next, more...)
		}
		ready = next
	}
	return nil
}

// Frame is one engine tick: begin locks in time/delta, execute runs a
// group's plan, end flushes logs and runs completeCycle (§4.8).
type Frame struct {
	world    *World
	time     float64
	delta    float64
	began    bool
	allRan   bool
	ranGroup map[string]bool
}

func newFrame(w *World) *Frame {
	return &Frame{world: w, ranGroup: make(map[string]bool)}
}

// begin locks in the frame's time (caller-supplied or the world's clock)
// and the delta against the previous frame's time.
func (f *Frame) begin(time *float64) {
	t := w_now(f.world)
	if time != nil {
		t = *time
	}
	f.delta = t - f.world.lastFrameTime
	f.time = t
	f.began = true
	f.world.logger.Debug("frame begin", "frame", f.world.frameCount, "time", f.time, "delta", f.delta)
}

func w_now(w *World) float64 { return w.clockSeconds() }

// execute runs group's plan against this frame's locked time/delta.
func (f *Frame) execute(group string) error {
	plan, ok := f.world.plans[group]
	if !ok {
		return CheckErrorf("unknown system group %q", group)
	}
	if err := plan.Run(f.world, f.time, f.delta); err != nil {
		return err
	}
	f.ranGroup[group] = true
	if len(f.ranGroup) >= len(f.world.plans) {
		f.allRan = true
	}
	return nil
}

// end releases the frame: commits the write log, runs completeCycle (which
// drains the ref log and removal log), and advances the frame counter.
func (f *Frame) end() error {
	if err := f.world.registry.writeLog.Commit(); err != nil {
		return err
	}
	if err := f.world.registry.shapeLog.Commit(); err != nil {
		return err
	}
	if err := f.world.registry.CompleteCycle(); err != nil {
		return err
	}
	f.world.lastFrameTime = f.time
	f.world.frameCount++
	f.world.logger.Debug("frame end", "frame", f.world.frameCount)
	return nil
}
