package loom

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/TheBitDrifter/bark"
)

// laborerRequest and laborerResponse are the in-process analogue of the
// worker bridge's {type, id, action, args, nextEntityOrdinal, buffersPatch}
// message envelope (§4.9, §6). Since loom's lanes are goroutines within one
// process rather than separate OS processes, the bridge is implemented as
// Go channels (an unbuffered request channel per laborer, a one-slot reply
// channel per request) instead of the serialised postMessage/worker_threads
// transport the spec describes for a host platform with real worker
// processes; the request/response shape and the director/laborer roles are
// preserved. Grounded on gastrolog's director-style Orchestrator
// (orchestrator.go, other_examples) for the channel-driven command/response
// idiom.
type laborerAction int

const (
	actionPrepare laborerAction = iota
	actionInitialize
	actionExecute
	actionFinalize
	actionRelease
)

type laborerRequest struct {
	action laborerAction
	system *System
	world  *World
	time   float64
	delta  float64
	reply  chan laborerResponse
}

type laborerResponse struct {
	err error
}

// laborer runs one lane's systems on a dedicated goroutine, processing
// requests from the director in order.
type laborer struct {
	lane   int
	in     chan laborerRequest
	done   chan struct{}
	logger *slog.Logger
}

func newLaborer(lane int, logger *slog.Logger) *laborer {
	l := &laborer{
		lane:   lane,
		in:     make(chan laborerRequest),
		done:   make(chan struct{}),
		logger: logger.With("lane", lane),
	}
	l.logger.Info("lane spawned")
	go l.run()
	return l
}

func (l *laborer) run() {
	for req := range l.in {
		var err error
		switch req.action {
		case actionPrepare:
			if req.system.prepare != nil {
				err = req.system.prepare(req.world)
			}
		case actionInitialize:
			if req.system.initialize != nil {
				err = req.system.initialize(req.world)
			}
		case actionExecute:
			err = req.system.execute(req.world, req.time, req.delta)
		case actionFinalize:
			if req.system.finalize != nil {
				err = req.system.finalize(req.world)
			}
		case actionRelease:
			req.reply <- laborerResponse{}
			close(l.done)
			l.logger.Info("lane stopped")
			return
		}
		if err != nil {
			l.logger.Error("system action failed", "err", err)
		}
		req.reply <- laborerResponse{err: err}
	}
}

func (l *laborer) send(req laborerRequest) error {
	req.reply = make(chan laborerResponse, 1)
	l.in <- req
	resp := <-req.reply
	return resp.err
}

func (l *laborer) release() {
	reply := make(chan laborerResponse, 1)
	l.in <- laborerRequest{action: actionRelease, reply: reply}
	<-reply
	close(l.in)
}

// Director owns the Planner and one laborer per lane (lane 0 runs inline on
// the calling goroutine, matching "the director is itself a laborer", §5).
type Director struct {
	planner  *Planner
	laborers []*laborer // index 0 unused; lane 0 runs inline
	lane0    sync.Mutex // runs lane-0 systems one at a time
	logger   *slog.Logger
}

// NewDirector spins up one laborer goroutine per non-zero lane.
func NewDirector(p *Planner, logger *slog.Logger) *Director {
	logger = logger.With("component", "director")
	d := &Director{planner: p, laborers: make([]*laborer, p.LaneCount()), logger: logger}
	for lane := 1; lane < p.LaneCount(); lane++ {
		d.laborers[lane] = newLaborer(lane, logger)
	}
	return d
}

func (d *Director) dispatch(lane int, req laborerRequest) error {
	if lane == 0 {
		d.lane0.Lock()
		defer d.lane0.Unlock()
		var err error
		switch req.action {
		case actionPrepare:
			if req.system.prepare != nil {
				err = req.system.prepare(req.world)
			}
		case actionInitialize:
			if req.system.initialize != nil {
				err = req.system.initialize(req.world)
			}
		case actionExecute:
			err = req.system.execute(req.world, req.time, req.delta)
		case actionFinalize:
			if req.system.finalize != nil {
				err = req.system.finalize(req.world)
			}
		}
		if err != nil {
			d.logger.Error("system action failed", "lane", 0, "err", err)
		}
		return err
	}
	return d.laborers[lane].send(req)
}

// Release terminates every laborer goroutine. Called when a World
// terminates (§5 "terminate()").
func (d *Director) Release() {
	for lane := 1; lane < len(d.laborers); lane++ {
		if d.laborers[lane] != nil {
			d.laborers[lane].release()
		}
	}
	d.logger.Info("director released")
}

// laborerError wraps an error crossing the director/laborer boundary,
// matching the {name, message, stack} rehydration contract of §4.9 — in
// this in-process form bark.AddTrace already carries the stack, so
// laborerError exists only to name the origin lane for diagnostics.
type laborerError struct {
	lane int
	err  error
}

func (e laborerError) Error() string { return fmt.Sprintf("lane %d: %v", e.lane, e.err) }

func wrapLaborerError(lane int, err error) error {
	if err == nil {
		return nil
	}
	return bark.AddTrace(laborerError{lane: lane, err: err})
}
