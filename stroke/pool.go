package stroke

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

// errPoolClosed is returned for work submitted after close.
var errPoolClosed = errors.New("stroke: worker pool closed")

// workerPool runs batches of stroke jobs.
//
// Each worker owns a queue and steals from the others when its own queue
// is empty, which keeps uneven jobs (large dabs next to tiny ones) from
// idling workers.
type workerPool struct {
	workers int
	queues  []chan func()
	done    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool
}

// newWorkerPool starts a pool. Zero or negative workers selects GOMAXPROCS.
func newWorkerPool(workers int) *workerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	queueSize := max(workers*4, 8)

	p := &workerPool{
		workers: workers,
		queues:  make([]chan func(), workers),
		done:    make(chan struct{}),
	}
	for i := range workers {
		p.queues[i] = make(chan func(), queueSize)
	}
	p.running.Store(true)
	p.wg.Add(workers)
	for i := range workers {
		go p.worker(i)
	}
	return p
}

func (p *workerPool) worker(id int) {
	defer p.wg.Done()
	own := p.queues[id]
	for {
		select {
		case <-p.done:
			p.drain(own)
			return
		case fn := <-own:
			fn()
		default:
			if fn := p.steal(id); fn != nil {
				fn()
				continue
			}
			select {
			case <-p.done:
				p.drain(own)
				return
			case fn := <-own:
				fn()
			}
		}
	}
}

func (p *workerPool) drain(q chan func()) {
	for {
		select {
		case fn := <-q:
			fn()
		default:
			return
		}
	}
}

func (p *workerPool) steal(id int) func() {
	for i := range p.workers {
		if i == id {
			continue
		}
		select {
		case fn := <-p.queues[i]:
			return fn
		default:
		}
	}
	return nil
}

// run executes jobs in parallel and waits for them. A panicking job is
// reported as an error. The returned error joins every job error.
func (p *workerPool) run(jobs []func() error) error {
	if len(jobs) == 0 {
		return nil
	}
	if !p.running.Load() {
		return errPoolClosed
	}
	if len(jobs) == 1 {
		return guard(jobs[0])
	}

	errs := make([]error, len(jobs))
	var wg sync.WaitGroup
	wg.Add(len(jobs))
	for i, job := range jobs {
		fn := func() {
			defer wg.Done()
			errs[i] = guard(job)
		}
		select {
		case p.queues[i%p.workers] <- fn:
		case <-p.done:
			errs[i] = errPoolClosed
			wg.Done()
		}
	}
	wg.Wait()
	return errors.Join(errs...)
}

func guard(job func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stroke: job panicked: %v", r)
		}
	}()
	return job()
}

// close stops the workers after the queued work has run. It is safe to
// call more than once.
func (p *workerPool) close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()
}
