package databank

import (
	"context"
	"errors"
	"sync"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// scheduler runs jobs inline or on a fixed worker pool with two queue
// priorities. A queued request collapses into a pending identical one only
// when that one is also the key's most recent request, so the last request
// for a key always takes effect.
type scheduler[V Data] struct {
	exec     func(context.Context, *job[V]) error
	after    func() // runs after every job, outside all locks
	threaded bool
	ctx      context.Context
	log      Logger
	hooks    Hooks

	mu      sync.Mutex
	work    *sync.Cond
	high    []*job[V]
	low     []*job[V]
	pending map[slot]int    // queued jobs per slot
	latest  map[string]slot // most recently queued slot per key
	running int
	idle    chan struct{} // closed while nothing is queued or running
	closed  bool

	wg conc.WaitGroup
}

func newScheduler[V Data](threaded bool, workers int, exec func(context.Context, *job[V]) error, after func(), log Logger, hooks Hooks) *scheduler[V] {
	s := &scheduler[V]{
		exec:     exec,
		after:    after,
		threaded: threaded,
		ctx:      context.Background(),
		log:      log,
		hooks:    hooks,
		pending:  make(map[slot]int),
		latest:   make(map[string]slot),
		idle:     make(chan struct{}),
	}
	close(s.idle)
	s.work = sync.NewCond(&s.mu)
	if threaded {
		for i := 0; i < workers; i++ {
			s.wg.Go(s.worker)
		}
	}
	return s
}

// schedule runs j inline when imp is Immediately or the scheduler is not
// threaded, else queues it. ctx only applies to inline runs; queued jobs
// are not cancellable.
func (s *scheduler[V]) schedule(ctx context.Context, j *job[V], imp Importance) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if imp == Immediately || !s.threaded {
		s.enter()
		s.mu.Unlock()
		s.run(ctx, j)
		s.mu.Lock()
		s.leave()
		s.mu.Unlock()
		return nil
	}

	sl := j.slot()
	if last, ok := s.latest[j.key]; ok && last == sl && s.pending[sl] > 0 {
		s.mu.Unlock()
		s.hooks.JobCollapsed(j.key, j.kind)
		s.log.Debug("job collapsed", j.fields())
		j.finish(nil)
		return nil
	}
	s.pending[sl]++
	s.latest[j.key] = sl
	if imp == Soon {
		s.high = append(s.high, j)
	} else {
		s.low = append(s.low, j)
	}
	s.busy()
	s.work.Signal()
	s.mu.Unlock()
	return nil
}

func (s *scheduler[V]) worker() {
	for {
		s.mu.Lock()
		for !s.closed && len(s.high) == 0 && len(s.low) == 0 {
			s.work.Wait()
		}
		j := s.pop()
		if j == nil { // closed and drained
			s.mu.Unlock()
			return
		}
		s.dequeued(j.slot())
		s.running++
		s.mu.Unlock()

		s.run(s.ctx, j)

		s.mu.Lock()
		s.leave()
		s.mu.Unlock()
	}
}

// dequeued releases sl once its job leaves the queue. Caller holds mu.
func (s *scheduler[V]) dequeued(sl slot) {
	if s.pending[sl]--; s.pending[sl] > 0 {
		return
	}
	delete(s.pending, sl)
	if s.latest[sl.key] == sl {
		delete(s.latest, sl.key)
	}
}

func (s *scheduler[V]) pop() *job[V] {
	var j *job[V]
	switch {
	case len(s.high) > 0:
		j, s.high[0] = s.high[0], nil
		s.high = s.high[1:]
	case len(s.low) > 0:
		j, s.low[0] = s.low[0], nil
		s.low = s.low[1:]
	}
	return j
}

// run executes one job behind a panic barrier and always finishes it.
func (s *scheduler[V]) run(ctx context.Context, j *job[V]) {
	var (
		pc  panics.Catcher
		err error
	)
	pc.Try(func() { err = s.exec(ctx, j) })
	if r := pc.Recovered(); r != nil {
		err = r.AsError()
	}
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		s.log.Debug("job target gone", j.fields())
	default:
		f := j.fields()
		f["err"] = err.Error()
		s.log.Warn("job failed", f)
		s.hooks.JobFailed(j.key, j.kind, err)
	}
	j.finish(err)
	if s.after != nil {
		s.after()
	}
}

// enter/leave bracket an inline run. Caller holds mu.
func (s *scheduler[V]) enter() {
	s.running++
	s.busy()
}

func (s *scheduler[V]) leave() {
	s.running--
	if s.running == 0 && len(s.high) == 0 && len(s.low) == 0 {
		close(s.idle)
	}
}

// busy re-arms idle if it is closed. Caller holds mu.
func (s *scheduler[V]) busy() {
	select {
	case <-s.idle:
		s.idle = make(chan struct{})
	default:
	}
}

// wait blocks until nothing is queued or running.
func (s *scheduler[V]) wait(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops accepting jobs, lets workers drain the queues and waits for
// them to exit, then for inline runs still in progress on caller goroutines.
func (s *scheduler[V]) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.work.Broadcast()
	s.mu.Unlock()
	s.wg.Wait()

	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()
	<-idle
}

func (s *scheduler[V]) queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.high) + len(s.low)
}
