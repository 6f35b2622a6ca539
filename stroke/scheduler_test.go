package stroke

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"runtime"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/gogpu/canvas/colorspace"
	"github.com/gogpu/canvas/device"
	"github.com/gogpu/canvas/undo"
)

// recorder is a strategy logging every call.
type recorder struct {
	name   string
	mu     sync.Mutex
	log    []string
	jobErr error
	lod    *recorder
	lodNil bool
	clones atomic.Int32
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.log = append(r.log, s)
	r.mu.Unlock()
}

func (r *recorder) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.log)
}

func (r *recorder) Name() string                 { return r.name }
func (r *recorder) Init(context.Context) error   { r.add("init"); return nil }
func (r *recorder) Finish(context.Context) error { r.add("finish"); return nil }
func (r *recorder) Cancel(context.Context)       { r.add("cancel") }

func (r *recorder) DoJob(_ context.Context, data any) error {
	if r.jobErr != nil && data == "bad" {
		return r.jobErr
	}
	r.add("job " + data.(string))
	return nil
}

func (r *recorder) CreateLodClone(level int) Strategy {
	r.clones.Add(1)
	if r.lodNil {
		return nil
	}
	r.lod = &recorder{name: r.name + " lod"}
	return r.lod
}

func newScheduler(t *testing.T, opts ...Option) *Scheduler {
	t.Helper()
	s := NewScheduler(append([]Option{WithTracerProvider(noop.NewTracerProvider())}, opts...)...)
	t.Cleanup(s.Close)
	return s
}

func run(t *testing.T, s *Scheduler, st Strategy, jobs ...string) ID {
	t.Helper()
	id, err := s.StartStroke(st)
	if err != nil {
		t.Fatalf("StartStroke: %v", err)
	}
	for _, j := range jobs {
		if err := s.AddJob(id, j, Sequential()); err != nil {
			t.Fatalf("AddJob: %v", err)
		}
	}
	if err := s.EndStroke(id); err != nil {
		t.Fatalf("EndStroke: %v", err)
	}
	return id
}

func TestScheduler_SequentialOrder(t *testing.T) {
	s := newScheduler(t)
	r := &recorder{name: "seq"}
	run(t, s, r, "a", "b", "c")
	if err := s.WaitForDone(); err != nil {
		t.Fatal(err)
	}
	want := []string{"init", "job a", "job b", "job c", "finish"}
	if got := r.calls(); !slices.Equal(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestScheduler_StrokesRunInOrder(t *testing.T) {
	s := newScheduler(t)
	var mu sync.Mutex
	var order []string
	for _, name := range []string{"first", "second", "third"} {
		st := &funcStrategy{name: name, finish: func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}}
		run(t, s, st)
	}
	if err := s.WaitForDone(); err != nil {
		t.Fatal(err)
	}
	if want := []string{"first", "second", "third"}; !slices.Equal(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
}

type funcStrategy struct {
	name   string
	finish func()
}

func (f *funcStrategy) Name() string                     { return f.name }
func (f *funcStrategy) Init(context.Context) error       { return nil }
func (f *funcStrategy) DoJob(context.Context, any) error { return nil }
func (f *funcStrategy) Finish(context.Context) error     { f.finish(); return nil }
func (f *funcStrategy) Cancel(context.Context)           {}

func TestScheduler_ConcurrentJobs(t *testing.T) {
	s := newScheduler(t, WithWorkers(4))
	r := &recorder{name: "par"}
	id, err := s.StartStroke(r)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 64; i++ {
		if err := s.AddJob(id, "x"); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.EndStroke(id); err != nil {
		t.Fatal(err)
	}
	if err := s.WaitForDone(); err != nil {
		t.Fatal(err)
	}
	calls := r.calls()
	if len(calls) != 66 || calls[0] != "init" || calls[65] != "finish" {
		t.Errorf("got %d calls, first %q last %q", len(calls), calls[0], calls[len(calls)-1])
	}
}

func TestScheduler_SequentialJobRunsAlone(t *testing.T) {
	s := newScheduler(t, WithWorkers(4))
	r := &recorder{name: "mixed"}
	id, _ := s.StartStroke(r)
	for i := 0; i < 4; i++ {
		_ = s.AddJob(id, "par")
	}
	_ = s.AddJob(id, "seq", Sequential())
	for i := 0; i < 4; i++ {
		_ = s.AddJob(id, "par")
	}
	_ = s.EndStroke(id)
	if err := s.WaitForDone(); err != nil {
		t.Fatal(err)
	}
	calls := r.calls()
	i := slices.Index(calls, "job seq")
	if i != 5 {
		t.Errorf("sequential job at %d in %v, want 5", i, calls)
	}
}

func TestScheduler_Cancel(t *testing.T) {
	s := newScheduler(t)
	r := &recorder{name: "cancel"}
	id, _ := s.StartStroke(r)
	_ = s.AddJob(id, "a", Sequential())
	if err := s.CancelStroke(id); err != nil {
		t.Fatal(err)
	}
	if err := s.WaitForDone(); err != nil {
		t.Fatalf("cancellation reported as error: %v", err)
	}
	calls := r.calls()
	if len(calls) == 0 {
		return // cancelled before Init
	}
	if calls[len(calls)-1] != "cancel" || slices.Contains(calls, "finish") {
		t.Errorf("calls = %v, want rollback without finish", calls)
	}
	if err := s.AddJob(id, "b"); !errors.Is(err, ErrUnknownStroke) && !errors.Is(err, ErrStrokeEnded) {
		t.Errorf("AddJob after cancel: err = %v", err)
	}
}

func TestScheduler_CancelAfterEnd(t *testing.T) {
	s := newScheduler(t)
	id := run(t, s, &recorder{name: "ended"})
	if err := s.CancelStroke(id); err != nil && !errors.Is(err, ErrStrokeEnded) && !errors.Is(err, ErrUnknownStroke) {
		t.Errorf("err = %v", err)
	}
	_ = s.WaitForDone()
}

func TestScheduler_JobErrorRollsBack(t *testing.T) {
	s := newScheduler(t)
	boom := errors.New("boom")
	r := &recorder{name: "failing", jobErr: boom}
	run(t, s, r, "ok", "bad", "never")
	err := s.WaitForDone()
	if !errors.Is(err, boom) {
		t.Fatalf("WaitForDone = %v, want boom", err)
	}
	want := []string{"init", "job ok", "cancel"}
	if got := r.calls(); !slices.Equal(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
	if err := s.WaitForDone(); err != nil {
		t.Errorf("errors not cleared: %v", err)
	}
}

func TestScheduler_Lock(t *testing.T) {
	s := newScheduler(t)
	s.Lock()
	s.Lock()
	if _, err := s.StartStroke(&recorder{name: "x"}); !errors.Is(err, ErrLocked) {
		t.Errorf("StartStroke while locked: err = %v, want ErrLocked", err)
	}
	s.Unlock()
	if !s.Locked() {
		t.Error("nested lock released early")
	}
	s.Unlock()
	if s.Locked() {
		t.Error("still locked")
	}
	run(t, s, &recorder{name: "y"})
	if err := s.WaitForDone(); err != nil {
		t.Fatal(err)
	}
}

func TestScheduler_LockRefusesJobs(t *testing.T) {
	s := newScheduler(t)
	id, _ := s.StartStroke(&recorder{name: "open"})
	_ = s.WaitForDone()
	s.Lock()
	if err := s.AddJob(id, "a"); !errors.Is(err, ErrLocked) {
		t.Errorf("AddJob while locked: err = %v, want ErrLocked", err)
	}
	s.Unlock()
	if err := s.EndStroke(id); err != nil {
		t.Fatal(err)
	}
}

// lockPending reports whether a Lock call is waiting for the barrier.
func (s *Scheduler) lockPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockWaiters > 0
}

func TestScheduler_LockWaitsForStrokeBehindOpenOne(t *testing.T) {
	s := newScheduler(t)
	open := &recorder{name: "open"}
	openID, err := s.StartStroke(open)
	if err != nil {
		t.Fatal(err)
	}
	run(t, s, &recorder{name: "queued"}, "a")

	locked := make(chan struct{})
	go func() {
		s.Lock()
		close(locked)
	}()
	for !s.lockPending() {
		runtime.Gosched()
	}

	if _, err := s.StartStroke(&recorder{name: "late"}); !errors.Is(err, ErrLocked) {
		t.Errorf("StartStroke while Lock waits: err = %v, want ErrLocked", err)
	}
	if err := s.AddJob(openID, "b"); err != nil {
		t.Fatalf("AddJob while Lock waits: %v", err)
	}
	if err := s.EndStroke(openID); err != nil {
		t.Fatalf("EndStroke while Lock waits: %v", err)
	}
	select {
	case <-locked:
	case <-time.After(5 * time.Second):
		t.Fatal("Lock did not return after the open stroke ended")
	}
	defer s.Unlock()
	if got, want := open.calls(), []string{"init", "job b", "finish"}; !slices.Equal(got, want) {
		t.Errorf("open stroke calls = %v, want %v", got, want)
	}
}

func TestScheduler_LevelOfDetail(t *testing.T) {
	s := newScheduler(t)
	s.SetDesiredLevelOfDetail(2)
	if got := s.CurrentLevelOfDetail(); got != 2 {
		t.Fatalf("CurrentLevelOfDetail = %d, want 2", got)
	}

	r := &recorder{name: "lod"}
	run(t, s, r, "a")
	if err := s.WaitForDone(); err != nil {
		t.Fatal(err)
	}
	if r.clones.Load() != 1 || r.lod == nil {
		t.Fatal("clone not requested")
	}
	if got, want := r.lod.calls(), []string{"init", "job a", "finish"}; !slices.Equal(got, want) {
		t.Errorf("clone calls = %v, want %v", got, want)
	}

	s.SetLevelOfDetailBlocked(true)
	if got := s.CurrentLevelOfDetail(); got != 0 {
		t.Errorf("blocked level = %d, want 0", got)
	}
	blocked := &recorder{name: "blocked"}
	run(t, s, blocked, "a")
	if err := s.WaitForDone(); err != nil {
		t.Fatal(err)
	}
	if blocked.clones.Load() != 0 {
		t.Error("clone requested while blocked")
	}

	s.SetLevelOfDetailBlocked(false)
	none := &recorder{name: "no clone", lodNil: true}
	run(t, s, none, "a")
	if err := s.WaitForDone(); err != nil {
		t.Fatal(err)
	}
	if none.clones.Load() != 1 {
		t.Error("clone not requested after unblocking")
	}
	if got := none.calls(); !slices.Equal(got, []string{"init", "job a", "finish"}) {
		t.Errorf("stroke without clone: calls = %v", got)
	}
}

func TestScheduler_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := newScheduler(t, WithRegisterer(reg))
	run(t, s, &recorder{name: "a"}, "x", "y")
	id, _ := s.StartStroke(&recorder{name: "b"})
	_ = s.CancelStroke(id)
	if err := s.WaitForDone(); err != nil {
		t.Fatal(err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	values := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				values[mf.GetName()] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[mf.GetName()] = m.GetGauge().GetValue()
			}
		}
	}
	want := map[string]float64{
		"canvas_stroke_started_total":   2,
		"canvas_stroke_finished_total":  1,
		"canvas_stroke_cancelled_total": 1,
		"canvas_stroke_jobs_total":      2,
		"canvas_stroke_queued":          0,
	}
	for name, v := range want {
		if values[name] != v {
			t.Errorf("%s = %v, want %v", name, values[name], v)
		}
	}
}

func TestScheduler_Close(t *testing.T) {
	s := NewScheduler(WithTracerProvider(noop.NewTracerProvider()))
	r := &recorder{name: "open"}
	if _, err := s.StartStroke(r); err != nil {
		t.Fatal(err)
	}
	s.Close()
	s.Close()
	if _, err := s.StartStroke(r); !errors.Is(err, ErrClosed) {
		t.Errorf("StartStroke after Close: err = %v, want ErrClosed", err)
	}
	if calls := r.calls(); len(calls) > 0 && calls[len(calls)-1] != "cancel" {
		t.Errorf("open stroke not rolled back: %v", calls)
	}
}

func TestWorkerPool_RunJoinsErrorsAndPanics(t *testing.T) {
	p := newWorkerPool(2)
	defer p.close()
	errA := errors.New("a")
	var ran atomic.Int32
	err := p.run([]func() error{
		func() error { ran.Add(1); return errA },
		func() error { ran.Add(1); panic("oops") },
		func() error { ran.Add(1); return nil },
	})
	if ran.Load() != 3 {
		t.Errorf("ran %d jobs, want 3", ran.Load())
	}
	if !errors.Is(err, errA) || !strings.Contains(err.Error(), "panicked: oops") {
		t.Errorf("err = %v", err)
	}
	p.close()
	if err := p.run([]func() error{func() error { return nil }}); !errors.Is(err, errPoolClosed) {
		t.Errorf("run after close: err = %v", err)
	}
}

var (
	white = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	black = color.RGBA{A: 255}
)

func fillJob(_ context.Context, data any, devs []*device.Device) (image.Rectangle, error) {
	r := data.(image.Rectangle)
	for _, d := range devs {
		d.FillColor(r, black)
	}
	return r, nil
}

func TestPaintStrategy_CommitAndUndo(t *testing.T) {
	s := newScheduler(t)
	store := undo.NewStore()
	dev := device.New(colorspace.SRGB)
	dev.FillColor(image.Rect(0, 0, 16, 16), white)

	var dirty []image.Rectangle
	var mu sync.Mutex
	p := NewPaintStrategy("fill", store, fillJob, []Target{{Device: dev}},
		WithDirtyCallback(func(r image.Rectangle) {
			mu.Lock()
			dirty = append(dirty, r)
			mu.Unlock()
		}))
	id, _ := s.StartStroke(p)
	_ = s.AddJob(id, image.Rect(0, 0, 4, 4))
	_ = s.AddJob(id, image.Rect(8, 8, 12, 12))
	_ = s.EndStroke(id)
	if err := s.WaitForDone(); err != nil {
		t.Fatal(err)
	}

	if got := p.Dirty(); got != image.Rect(0, 0, 12, 12) {
		t.Errorf("Dirty = %v", got)
	}
	if len(dirty) != 2 {
		t.Errorf("dirty callbacks = %d, want 2", len(dirty))
	}
	if store.Len() != 1 || store.UndoName() != "fill" {
		t.Fatalf("store len %d, undo name %q", store.Len(), store.UndoName())
	}
	if !bytes.Equal(dev.Pixel(1, 1), colorspace.SRGB.FromColor(black)) {
		t.Fatal("stroke did not paint")
	}
	store.Undo()
	if !bytes.Equal(dev.Pixel(1, 1), colorspace.SRGB.FromColor(white)) {
		t.Error("undo did not restore the pixels")
	}
	store.Redo()
	if !bytes.Equal(dev.Pixel(9, 9), colorspace.SRGB.FromColor(black)) {
		t.Error("redo did not repaint")
	}
}

func TestPaintStrategy_CancelReverts(t *testing.T) {
	s := newScheduler(t)
	store := undo.NewStore()
	dev := device.New(colorspace.SRGB)
	dev.FillColor(image.Rect(0, 0, 16, 16), white)

	var log []string
	p := NewPaintStrategy("fill", store, fillJob, []Target{{Device: dev}})
	p.AddStructural(undo.Func("structure", func() { log = append(log, "do") }, func() { log = append(log, "undo") }))

	id, _ := s.StartStroke(p)
	_ = s.AddJob(id, image.Rect(0, 0, 16, 16))
	_ = s.WaitForDone()
	if !bytes.Equal(dev.Pixel(1, 1), colorspace.SRGB.FromColor(black)) {
		t.Fatal("job did not run before cancel")
	}
	if err := s.CancelStroke(id); err != nil {
		t.Fatal(err)
	}
	if err := s.WaitForDone(); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dev.Pixel(1, 1), colorspace.SRGB.FromColor(white)) {
		t.Error("cancel did not revert the transaction")
	}
	if !slices.Equal(log, []string{"do", "undo"}) {
		t.Errorf("structural log = %v", log)
	}
	if store.Len() != 0 {
		t.Error("cancelled stroke reached the undo store")
	}
}

func TestPaintStrategy_UndoOrderWithStructure(t *testing.T) {
	s := newScheduler(t)
	store := undo.NewStore()
	dev := device.New(colorspace.SRGB)

	var log []string
	p := NewPaintStrategy("paint", store, fillJob, []Target{{Device: dev}})
	p.AddStructural(undo.Func("add layer", func() { log = append(log, "add") }, func() {
		if dev.Pixel(0, 0)[3] != 0 {
			log = append(log, "remove before revert")
			return
		}
		log = append(log, "remove")
	}))
	id, _ := s.StartStroke(p)
	_ = s.AddJob(id, image.Rect(0, 0, 2, 2))
	_ = s.EndStroke(id)
	if err := s.WaitForDone(); err != nil {
		t.Fatal(err)
	}
	if store.Len() != 1 {
		t.Fatalf("store len = %d, want one batched command", store.Len())
	}

	store.Undo()
	store.Redo()
	if want := []string{"add", "remove", "add"}; !slices.Equal(log, want) {
		t.Errorf("log = %v, want %v", log, want)
	}
	if dev.Pixel(0, 0)[3] != 255 {
		t.Error("redo did not repaint")
	}
}

type testPayload struct {
	device.PayloadBase
	value int
}

func (p *testPayload) BeginTransaction() {}

func (p *testPayload) EndTransaction() undo.Command {
	return undo.Empty
}

type testFactory struct{ created int }

func (f *testFactory) IsCompatible(p device.InterstrokePayload) bool {
	_, ok := p.(*testPayload)
	return ok
}

func (f *testFactory) Create(dev *device.Device) device.InterstrokePayload {
	f.created++
	return &testPayload{PayloadBase: device.NewPayloadBase(dev)}
}

func TestPaintStrategy_Interstroke(t *testing.T) {
	s := newScheduler(t)
	dev := device.New(colorspace.SRGB)
	f := &testFactory{}
	for i := 0; i < 2; i++ {
		p := NewPaintStrategy("wet", nil, fillJob, []Target{{Device: dev, Interstroke: f, Continued: true}})
		id, _ := s.StartStroke(p)
		_ = s.AddJob(id, image.Rect(0, 0, 2, 2))
		_ = s.EndStroke(id)
	}
	if err := s.WaitForDone(); err != nil {
		t.Fatal(err)
	}
	if f.created != 1 {
		t.Errorf("payload created %d times, want 1", f.created)
	}
	if _, ok := dev.InterstrokePayload().(*testPayload); !ok {
		t.Error("continued payload not kept")
	}
}

func TestPaintStrategy_LodClone(t *testing.T) {
	s := newScheduler(t)
	s.SetDesiredLevelOfDetail(1)
	dev := device.New(colorspace.SRGB)
	dev.FillColor(image.Rect(0, 0, 16, 16), white)

	var levels []int
	var mu sync.Mutex
	paint := func(ctx context.Context, data any, devs []*device.Device) (image.Rectangle, error) {
		level := LevelOfDetail(ctx)
		mu.Lock()
		levels = append(levels, level)
		mu.Unlock()
		r := device.ScaleRect(data.(image.Rectangle), level)
		devs[0].FillColor(r, black)
		return r, nil
	}
	p := NewPaintStrategy("lod", nil, paint, []Target{{Device: dev}})
	id, _ := s.StartStroke(p)
	_ = s.AddJob(id, image.Rect(0, 0, 8, 8))
	_ = s.EndStroke(id)
	if err := s.WaitForDone(); err != nil {
		t.Fatal(err)
	}
	if want := []int{1, 0}; !slices.Equal(levels, want) {
		t.Errorf("levels = %v, want the preview before full resolution", levels)
	}
	if !bytes.Equal(dev.Pixel(7, 7), colorspace.SRGB.FromColor(black)) {
		t.Error("full resolution stroke did not paint")
	}
	if !bytes.Equal(dev.Pixel(8, 8), colorspace.SRGB.FromColor(white)) {
		t.Error("stroke painted outside its rectangle")
	}
}

func TestPaintStrategy_LodCloneOwnsDevices(t *testing.T) {
	dev := device.New(colorspace.SRGB)
	dev.FillColor(image.Rect(0, 0, 16, 16), white)
	p := NewPaintStrategy("lod", nil, func(context.Context, any, []*device.Device) (image.Rectangle, error) {
		return image.Rectangle{}, nil
	}, []Target{{Device: dev}})

	clone, ok := p.CreateLodClone(1).(*PaintStrategy)
	if !ok {
		t.Fatal("CreateLodClone(1) did not return a paint strategy")
	}
	cached, err := dev.LodDevice(1)
	if err != nil {
		t.Fatal(err)
	}
	if clone.targets[0].Device == cached {
		t.Fatal("clone paints the cached level of detail device")
	}

	// A full resolution write evicts the cached copy; the clone keeps its pixels.
	dev.FillColor(image.Rect(0, 0, 4, 4), black)
	if _, err := dev.LodDevice(1); err != nil {
		t.Fatal(err)
	}
	if got := clone.targets[0].Device.Pixel(5, 5); !bytes.Equal(got, colorspace.SRGB.FromColor(white)) {
		t.Errorf("clone Pixel(5,5) = %v after eviction, want white", got)
	}
}
