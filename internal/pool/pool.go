package pool

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

var ErrStopped = errors.New("pool: stopped")

type Job func() error

// Pool runs jobs on a fixed set of workers. A job's error, or a panic inside
// it, is passed to the error handler and never stops the worker.
type Pool struct {
	jobs    chan chan Job
	quit    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
	onError func(error)
}

func NewPool(count int, onError func(error)) *Pool {
	if count <= 0 {
		count = 1
	}
	if onError == nil {
		onError = func(error) {}
	}
	p := &Pool{
		jobs:    make(chan chan Job),
		quit:    make(chan struct{}),
		onError: onError,
	}
	for i := 0; i < count; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	// once Call has taken jobs it always sends exactly one job on it, and the
	// buffer lets that send complete without waiting for the worker
	jobs := make(chan Job, 1)
	for {
		select {
		case <-p.quit:
			return
		case p.jobs <- jobs:
		}

		if err := p.run(<-jobs); err != nil {
			p.onError(err)
		}
	}
}

func (p *Pool) run(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("job panicked: %v", r)
		}
	}()
	return job()
}

// Call blocks until a worker picks job up, ctx is done, or the pool stops.
func (p *Pool) Call(ctx context.Context, job Job) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrStopped
	case worker := <-p.jobs:
		worker <- job
		return nil
	}
}

// Cancel stops the workers and waits for running jobs to return.
func (p *Pool) Cancel() {
	p.once.Do(func() { close(p.quit) })
	p.wg.Wait()
}
