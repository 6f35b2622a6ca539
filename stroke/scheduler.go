// Package stroke schedules strokes: bounded sequences of edit jobs run
// against shared devices.
//
// Strokes run one at a time in the order they were started. The jobs of a
// stroke run on a worker pool, in parallel batches unless a job is marked
// Sequential. WaitForDone is the barrier external callers use to observe
// the results of everything queued before it.
package stroke

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gogpu/canvas/internal/logger"
)

// Errors returned by the scheduler.
var (
	ErrLocked        = errors.New("stroke: scheduler is locked")
	ErrClosed        = errors.New("stroke: scheduler is closed")
	ErrUnknownStroke = errors.New("stroke: unknown stroke")
	ErrStrokeEnded   = errors.New("stroke: stroke already ended")
)

// ID identifies a started stroke.
type ID uint64

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithWorkers sets the number of job workers. Zero selects GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		s.workers = n
	}
}

// WithRegisterer registers the scheduler's metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Scheduler) {
		s.reg = reg
	}
}

// WithTracerProvider sets the provider of stroke spans. The global
// provider is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Scheduler) {
		s.tp = tp
	}
}

type stroke struct {
	id       ID
	strategy Strategy
	lod      Strategy
	jobs     []job

	inited    bool
	ended     bool
	cancelled bool
	err       error

	ctx   context.Context
	span  trace.Span
	start time.Time
}

// Scheduler runs strokes. It is safe for concurrent use.
type Scheduler struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*stroke
	byID   map[ID]*stroke
	nextID ID
	busy   bool
	closed bool
	errs   []error

	locks       int
	lockWaiters int
	lodDesired  int
	lodBlocked  bool

	workers int
	reg     prometheus.Registerer
	tp      trace.TracerProvider

	pool    *workerPool
	metrics *metrics
	tracer  trace.Tracer
	stopped chan struct{}
}

// NewScheduler starts a scheduler. Call Close to stop it.
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		byID:    make(map[ID]*stroke),
		nextID:  1,
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tp == nil {
		s.tp = otel.GetTracerProvider()
	}
	s.cond = sync.NewCond(&s.mu)
	s.tracer = s.tp.Tracer("github.com/gogpu/canvas/stroke")
	s.metrics = newMetrics(s.reg)
	s.pool = newWorkerPool(s.workers)
	go s.dispatch()
	return s
}

// StartStroke queues a stroke. When a level of detail is desired and not
// blocked, a LodCloner strategy is asked for a preview clone that runs
// every job before the strategy itself.
func (s *Scheduler) StartStroke(st Strategy) (ID, error) {
	s.mu.Lock()
	if err := s.acceptLocked(); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	level := s.levelLocked()
	s.mu.Unlock()

	var lod Strategy
	if c, ok := st.(LodCloner); ok && level > 0 {
		lod = c.CreateLodClone(level)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.acceptLocked(); err != nil {
		return 0, err
	}
	id := s.nextID
	s.nextID++
	ctx, span := s.tracer.Start(context.Background(), "stroke."+st.Name(),
		trace.WithAttributes(
			attribute.Int64("stroke.id", int64(id)),
			attribute.String("stroke.name", st.Name()),
			attribute.Int("stroke.lod", level),
			attribute.Bool("stroke.lod_clone", lod != nil),
		),
	)
	sk := &stroke{id: id, strategy: st, lod: lod, ctx: ctx, span: span, start: time.Now()}
	s.queue = append(s.queue, sk)
	s.byID[id] = sk
	s.metrics.started.Inc()
	s.metrics.queued.Inc()
	logger.Get().Debug("stroke: started", "id", id, "name", st.Name(), "lod", lod != nil)
	s.cond.Broadcast()
	return id, nil
}

func (s *Scheduler) acceptLocked() error {
	switch {
	case s.closed:
		return ErrClosed
	case s.locks > 0 || s.lockWaiters > 0:
		return ErrLocked
	}
	return nil
}

// AddJob queues data for the stroke's DoJob.
func (s *Scheduler) AddJob(id ID, data any, opts ...JobOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sk, err := s.openLocked(id)
	if err != nil {
		return err
	}
	j := job{data: data}
	for _, opt := range opts {
		opt(&j)
	}
	sk.jobs = append(sk.jobs, j)
	s.cond.Broadcast()
	return nil
}

// EndStroke marks the stroke complete. It finishes after its queued jobs.
func (s *Scheduler) EndStroke(id ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sk, err := s.openLocked(id)
	if err != nil {
		return err
	}
	sk.ended = true
	s.cond.Broadcast()
	return nil
}

// CancelStroke drops the stroke's pending jobs and rolls back what it did.
func (s *Scheduler) CancelStroke(id ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sk, ok := s.byID[id]
	switch {
	case !ok:
		return fmt.Errorf("stroke %d: %w", id, ErrUnknownStroke)
	case sk.ended:
		return fmt.Errorf("stroke %d: %w", id, ErrStrokeEnded)
	}
	sk.cancelled = true
	sk.jobs = nil
	s.cond.Broadcast()
	return nil
}

func (s *Scheduler) openLocked(id ID) (*stroke, error) {
	sk, ok := s.byID[id]
	switch {
	case !ok:
		return nil, fmt.Errorf("stroke %d: %w", id, ErrUnknownStroke)
	case sk.ended || sk.cancelled:
		return nil, fmt.Errorf("stroke %d: %w", id, ErrStrokeEnded)
	case s.locks > 0:
		return nil, ErrLocked
	}
	return sk, nil
}

// WaitForDone blocks until every queued job has run and every ended or
// cancelled stroke is finalized. Strokes still open with no pending jobs
// do not block it, but strokes queued behind them do. It returns the
// errors of strokes that failed since the previous call.
func (s *Scheduler) WaitForDone() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waitLocked()
	err := errors.Join(s.errs...)
	s.errs = nil
	return err
}

func (s *Scheduler) waitLocked() {
	for s.busy || s.pendingLocked() {
		s.cond.Wait()
	}
}

func (s *Scheduler) pendingLocked() bool {
	for _, sk := range s.queue {
		if !sk.inited || sk.cancelled || sk.ended || (len(sk.jobs) > 0 && sk.err == nil) {
			return true
		}
	}
	return false
}

// Lock waits for the barrier and then refuses new strokes and jobs until
// Unlock. Locks nest. While Lock waits only new strokes are refused, so
// strokes already accepted can still take jobs and end.
func (s *Scheduler) Lock() {
	s.mu.Lock()
	s.lockWaiters++
	s.waitLocked()
	s.lockWaiters--
	s.locks++
	s.mu.Unlock()
}

// Unlock releases one Lock.
func (s *Scheduler) Unlock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !logger.Assert(s.locks > 0, "stroke: unlock of unlocked scheduler") {
		return
	}
	s.locks--
}

// Locked reports whether the scheduler is locked.
func (s *Scheduler) Locked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locks > 0
}

// SetDesiredLevelOfDetail requests preview clones at level; 0 disables
// them. It affects strokes started afterwards.
func (s *Scheduler) SetDesiredLevelOfDetail(level int) {
	s.mu.Lock()
	s.lodDesired = max(level, 0)
	s.mu.Unlock()
}

// SetLevelOfDetailBlocked suppresses preview clones while blocked is set,
// whatever level is desired.
func (s *Scheduler) SetLevelOfDetailBlocked(blocked bool) {
	s.mu.Lock()
	s.lodBlocked = blocked
	s.mu.Unlock()
}

// CurrentLevelOfDetail returns the level new strokes are cloned at.
func (s *Scheduler) CurrentLevelOfDetail() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.levelLocked()
}

func (s *Scheduler) levelLocked() int {
	if s.lodBlocked {
		return 0
	}
	return s.lodDesired
}

// Close cancels open strokes, waits for the dispatcher and stops the
// workers.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, sk := range s.queue {
		if !sk.ended {
			sk.cancelled = true
			sk.jobs = nil
		}
	}
	s.cond.Broadcast()
	s.mu.Unlock()
	<-s.stopped
	s.pool.close()
}

func (s *Scheduler) dispatch() {
	defer close(s.stopped)
	for {
		work, ok := s.next()
		if !ok {
			return
		}
		work()
		s.mu.Lock()
		s.busy = false
		s.cond.Broadcast()
		s.mu.Unlock()
	}
}

// next blocks until the head stroke has something to do.
func (s *Scheduler) next() (func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if len(s.queue) > 0 {
			if work := s.stepLocked(s.queue[0]); work != nil {
				s.busy = true
				return work, true
			}
		} else if s.closed {
			return nil, false
		}
		s.cond.Wait()
	}
}

func (s *Scheduler) stepLocked(sk *stroke) func() {
	switch {
	case sk.cancelled && !sk.inited:
		s.popLocked()
		return func() { s.done(sk, nil, true) }
	case !sk.inited:
		sk.inited = true
		return func() { s.init(sk) }
	case sk.cancelled || (sk.err != nil && sk.ended):
		s.popLocked()
		return func() { s.rollback(sk) }
	case sk.err != nil:
		sk.jobs = nil
		return nil
	case len(sk.jobs) > 0:
		n := 1
		if !sk.jobs[0].sequential {
			for n < len(sk.jobs) && !sk.jobs[n].sequential {
				n++
			}
		}
		batch := sk.jobs[:n:n]
		sk.jobs = sk.jobs[n:]
		return func() { s.runJobs(sk, batch) }
	case sk.ended:
		s.popLocked()
		return func() { s.finish(sk) }
	}
	return nil
}

func (s *Scheduler) popLocked() {
	s.queue[0] = nil
	s.queue = s.queue[1:]
}

func (s *Scheduler) init(sk *stroke) {
	var err error
	if sk.lod != nil {
		err = sk.lod.Init(sk.ctx)
	}
	if err == nil {
		err = sk.strategy.Init(sk.ctx)
	}
	if err != nil {
		s.fail(sk, fmt.Errorf("init: %w", err))
	}
}

func (s *Scheduler) runJobs(sk *stroke, batch []job) {
	fns := make([]func() error, len(batch))
	for i, j := range batch {
		fns[i] = func() error {
			if sk.lod != nil {
				if err := sk.lod.DoJob(sk.ctx, j.data); err != nil {
					return err
				}
			}
			return sk.strategy.DoJob(sk.ctx, j.data)
		}
	}
	err := s.pool.run(fns)
	s.metrics.jobs.Add(float64(len(batch)))
	if err != nil {
		s.fail(sk, err)
	}
}

func (s *Scheduler) finish(sk *stroke) {
	var err error
	if sk.lod != nil {
		err = sk.lod.Finish(sk.ctx)
	}
	if err == nil {
		err = sk.strategy.Finish(sk.ctx)
	}
	if err != nil {
		s.cancelStrategies(sk)
		s.done(sk, fmt.Errorf("finish: %w", err), true)
		return
	}
	s.done(sk, nil, false)
}

func (s *Scheduler) rollback(sk *stroke) {
	s.cancelStrategies(sk)
	s.mu.Lock()
	err := sk.err
	s.mu.Unlock()
	s.done(sk, err, true)
}

func (s *Scheduler) cancelStrategies(sk *stroke) {
	sk.strategy.Cancel(sk.ctx)
	if sk.lod != nil {
		sk.lod.Cancel(sk.ctx)
	}
}

func (s *Scheduler) fail(sk *stroke, err error) {
	sk.span.RecordError(err)
	s.mu.Lock()
	if sk.err == nil {
		sk.err = err
	}
	s.mu.Unlock()
}

func (s *Scheduler) done(sk *stroke, err error, cancelled bool) {
	if cancelled {
		msg := "cancelled"
		if err != nil {
			msg = err.Error()
		}
		sk.span.SetStatus(codes.Error, msg)
		s.metrics.cancelled.Inc()
	} else {
		sk.span.SetStatus(codes.Ok, "")
		s.metrics.finished.Inc()
	}
	s.metrics.duration.Observe(time.Since(sk.start).Seconds())
	s.metrics.queued.Dec()
	sk.span.End()

	s.mu.Lock()
	delete(s.byID, sk.id)
	if err != nil {
		s.errs = append(s.errs, fmt.Errorf("stroke %d (%s): %w", sk.id, sk.strategy.Name(), err))
	}
	s.mu.Unlock()
	logger.Get().Debug("stroke: done", "id", sk.id, "name", sk.strategy.Name(), "cancelled", cancelled, "err", err)
}
