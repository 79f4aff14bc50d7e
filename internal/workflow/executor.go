package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"docreview/internal/generate"
	"docreview/internal/logging"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// NodeEvent reports one completed node and the fragment it contributed.
type NodeEvent struct {
	Node     string   `json:"node"`
	Kind     NodeKind `json:"kind"`
	Fragment Fragment `json:"fragment"`
}

// Executor runs compiled graphs against a text generator.
type Executor struct {
	gen            generate.Generator
	maxConcurrency int
}

// Option configures an Executor.
type Option func(*Executor)

// WithMaxConcurrency caps how many reviewer nodes run at once. Zero or a
// negative value means no cap.
func WithMaxConcurrency(n int) Option {
	return func(e *Executor) {
		e.maxConcurrency = n
	}
}

// NewExecutor creates an executor that sends every node's prompt to gen.
func NewExecutor(gen generate.Generator, opts ...Option) *Executor {
	e := &Executor{gen: gen}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute validates the selection and returns a lazy event stream. Nothing
// runs until the first call to Next. An invalid selection fails here, before
// any node runs.
//
// The stream keeps its own reference to g, so recompiling the current graph
// does not affect it.
func (e *Executor) Execute(ctx context.Context, g *Graph, document string, selected []string) (*Stream, error) {
	if g == nil {
		return nil, fmt.Errorf("%w: no compiled graph", ErrInvalidPersonaSet)
	}
	route, err := g.Route(selected)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		id:      uuid.NewString(),
		graph:   g,
		gen:     e.gen,
		limit:   e.maxConcurrency,
		ctx:     ctx,
		cancel:  cancel,
		route:   route,
		state:   newState(document, route),
		phase:   PhasePending,
		started: time.Now(),
	}
	logging.Executor("[%s] execution created: graph=v%d reviewers=%v doc_len=%d", s.id, g.version, route, len(document))
	return s, nil
}

// Run executes g to completion and returns the collected report.
func (e *Executor) Run(ctx context.Context, g *Graph, document string, selected []string) (*Report, error) {
	s, err := e.Execute(ctx, g, document, selected)
	if err != nil {
		return nil, err
	}
	return Collect(s, nil)
}

type reviewResult struct {
	node string
	frag Fragment
	err  error
}

// Stream is one execution. Pulling events drives it: the supervisor runs on
// the first Next, the reviewers fan out right after, and the aggregator runs
// once every reviewer has reported.
//
// A Stream is consumed by a single goroutine. Phase and State may be read
// from any goroutine.
type Stream struct {
	id      string
	graph   *Graph
	gen     generate.Generator
	limit   int
	ctx     context.Context
	cancel  context.CancelFunc
	route   []string
	started time.Time

	mu    sync.Mutex
	state State
	phase Phase

	err error

	results      chan reviewResult
	launcherDone chan struct{}
	fanoutErr    error
}

// ID returns the execution ID.
func (s *Stream) ID() string { return s.id }

// Graph returns the graph this execution runs against.
func (s *Stream) Graph() *Graph { return s.graph }

// Phase returns the current lifecycle phase.
func (s *Stream) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// State returns a snapshot of the merged state so far.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Snapshot()
}

// Next blocks until the next node completes and returns its event. It
// returns io.EOF after the aggregator event. Once a node fails every later
// call returns the same error.
func (s *Stream) Next() (NodeEvent, error) {
	if s.err != nil {
		return NodeEvent{}, s.err
	}

	switch s.Phase() {
	case PhasePending:
		s.setPhase(PhaseSupervisor)
		ev, err := s.runNode(SupervisorNode)
		if err != nil {
			return s.fail(PhaseSupervisor, SupervisorNode, err)
		}
		s.startFanout()
		return ev, nil

	case PhaseFanout:
		return s.nextReview()

	case PhaseDone:
		return NodeEvent{}, io.EOF
	}
	return NodeEvent{}, fmt.Errorf("stream %s in unexpected phase %s", s.id, s.Phase())
}

// Events adapts the stream to a range-over-func iterator. The stream is
// closed when iteration stops, including on early break.
func (s *Stream) Events() iter.Seq2[NodeEvent, error] {
	return func(yield func(NodeEvent, error) bool) {
		defer s.Close()
		for {
			ev, err := s.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(ev, err) || err != nil {
				return
			}
		}
	}
}

// Close cancels outstanding generator calls and waits for the fan-out
// goroutines to exit. Close is idempotent.
func (s *Stream) Close() {
	s.cancel()
	if s.launcherDone != nil {
		<-s.launcherDone
	}
	if s.err == nil && s.Phase() != PhaseDone {
		s.err = &NodeError{Phase: s.Phase(), Node: "", Err: context.Canceled}
		s.setPhase(PhaseFailed)
	}
}

func (s *Stream) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

func (s *Stream) snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Snapshot()
}

// merge is the only place execution state is written.
func (s *Stream) merge(f Fragment) {
	s.mu.Lock()
	s.state.Merge(f)
	s.mu.Unlock()
}

func (s *Stream) runNode(id string) (NodeEvent, error) {
	node := s.graph.nodes[id]
	start := time.Now()
	logging.ExecutorDebug("[%s] node %s started", s.id, id)

	frag, err := node.run(s.ctx, s.gen, s.snapshot())
	if err != nil {
		return NodeEvent{}, err
	}
	s.merge(frag)
	logging.ExecutorDebug("[%s] node %s completed in %v", s.id, id, time.Since(start))
	return NodeEvent{Node: id, Kind: node.Kind, Fragment: frag.clone()}, nil
}

// startFanout launches one goroutine per routed reviewer. Every reviewer sees
// the same post-supervisor snapshot. Results land in a channel buffered to
// the fan-out width so no goroutine blocks once the consumer goes away.
func (s *Stream) startFanout() {
	s.setPhase(PhaseFanout)
	s.results = make(chan reviewResult, len(s.route))
	s.launcherDone = make(chan struct{})

	snap := s.snapshot()
	var failed atomic.Bool

	go func() {
		defer close(s.launcherDone)
		defer close(s.results)

		var g errgroup.Group
		if s.limit > 0 {
			g.SetLimit(s.limit)
		}
		for _, id := range s.route {
			// Reviewers not yet started when a sibling fails are skipped.
			if failed.Load() || s.ctx.Err() != nil {
				logging.ExecutorDebug("[%s] skipping reviewer %s", s.id, id)
				continue
			}
			node := s.graph.nodes[id]
			g.Go(func() error {
				frag, err := node.run(s.ctx, s.gen, snap)
				if err != nil {
					failed.Store(true)
					err = &NodeError{Phase: PhaseFanout, Node: node.ID, Err: err}
				}
				s.results <- reviewResult{node: node.ID, frag: frag, err: err}
				return err
			})
		}
		s.fanoutErr = g.Wait()
	}()
}

func (s *Stream) nextReview() (NodeEvent, error) {
	for {
		select {
		case r, ok := <-s.results:
			if !ok {
				return s.finishFanout()
			}
			if r.err != nil {
				logging.Get(logging.CategoryExecutor).Warn("[%s] reviewer %s failed: %v", s.id, r.node, r.err)
				continue
			}
			s.merge(r.frag)
			return NodeEvent{Node: r.node, Kind: KindReviewer, Fragment: r.frag.clone()}, nil

		case <-s.ctx.Done():
			return s.fail(PhaseFanout, "", s.ctx.Err())
		}
	}
}

// finishFanout runs after the join barrier: every launched reviewer has
// reported and the results channel is closed.
func (s *Stream) finishFanout() (NodeEvent, error) {
	<-s.launcherDone
	if s.fanoutErr != nil {
		var ne *NodeError
		if errors.As(s.fanoutErr, &ne) {
			return s.fail(ne.Phase, ne.Node, ne.Err)
		}
		return s.fail(PhaseFanout, "", s.fanoutErr)
	}
	if err := s.ctx.Err(); err != nil {
		return s.fail(PhaseFanout, "", err)
	}

	s.setPhase(PhaseAggregator)
	ev, err := s.runNode(AggregatorNode)
	if err != nil {
		return s.fail(PhaseAggregator, AggregatorNode, err)
	}
	s.setPhase(PhaseDone)
	s.cancel()
	logging.Executor("[%s] execution completed in %v", s.id, time.Since(s.started))
	return ev, nil
}

func (s *Stream) fail(phase Phase, node string, err error) (NodeEvent, error) {
	s.err = &NodeError{Phase: phase, Node: node, Err: err}
	s.setPhase(PhaseFailed)
	s.cancel()
	logging.Get(logging.CategoryExecutor).Error("[%s] execution failed after %v: %v", s.id, time.Since(s.started), s.err)
	return NodeEvent{}, s.err
}
