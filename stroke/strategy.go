package stroke

import "context"

// Strategy implements one kind of stroke. The scheduler calls Init once,
// DoJob for every job, then exactly one of Finish or Cancel.
//
// DoJob may run concurrently for jobs added without Sequential.
type Strategy interface {
	Name() string
	Init(ctx context.Context) error
	DoJob(ctx context.Context, data any) error
	Finish(ctx context.Context) error

	// Cancel rolls back everything the stroke did. It also runs when Init,
	// a job or Finish failed.
	Cancel(ctx context.Context)
}

// LodCloner is implemented by strategies that can run a reduced
// resolution copy of themselves for preview. CreateLodClone may return nil
// when no clone can be made for level.
type LodCloner interface {
	CreateLodClone(level int) Strategy
}

// JobOption configures a job.
type JobOption func(*job)

// Sequential makes the job run alone, after every job added before it and
// before every job added after it.
func Sequential() JobOption {
	return func(j *job) {
		j.sequential = true
	}
}

type job struct {
	data       any
	sequential bool
}
