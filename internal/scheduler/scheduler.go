// Package scheduler runs named jobs on fixed interval boundaries. Jobs run
// one at a time on the scheduler goroutine, so a job never overlaps with
// itself or with another job.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrStopped is returned by Schedule once Run has returned.
var ErrStopped = errors.New("scheduler is stopped")

// Job is a periodic unit of work.
type Job struct {
	Name     string
	Interval time.Duration
	// Offset shifts every run past the interval boundary, e.g. 5m after
	// each quarter hour.
	Offset time.Duration
	// Immediate runs the job once as soon as it is scheduled.
	Immediate bool
	Run       func(ctx context.Context)
}

// NextRunTime returns the first interval boundary plus offset that lies
// strictly after now.
func NextRunTime(now time.Time, interval, offset time.Duration) time.Time {
	next := now.Truncate(interval).Add(offset)
	for !next.After(now) {
		next = next.Add(interval)
	}
	return next
}

// Scheduler keeps jobs in a min-heap keyed by next run time.
type Scheduler struct {
	mu      sync.Mutex
	heap    jobHeap
	entries map[string]*entry // for O(1) lookup by name
	wakeup  chan struct{}
	stopped bool

	running     string // name of the job being executed
	dropRunning bool   // Cancel was called while it ran

	logger *zap.Logger
	now    func() time.Time
}

// New creates an empty scheduler.
func New(logger *zap.Logger) *Scheduler {
	s := &Scheduler{
		heap:    make(jobHeap, 0),
		entries: make(map[string]*entry),
		wakeup:  make(chan struct{}, 1),
		logger:  logger,
		now:     time.Now,
	}
	heap.Init(&s.heap)
	return s
}

// Schedule adds job, replacing any job with the same name.
func (s *Scheduler) Schedule(job *Job) error {
	if job.Interval <= 0 {
		return errors.New("job interval must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}

	nextRun := NextRunTime(s.now(), job.Interval, job.Offset)
	if job.Immediate {
		nextRun = s.now()
	}
	s.push(job, nextRun)
	return nil
}

func (s *Scheduler) push(job *Job, nextRun time.Time) {
	if existing, ok := s.entries[job.Name]; ok {
		heap.Remove(&s.heap, existing.index)
		delete(s.entries, job.Name)
	}

	e := &entry{job: job, nextRun: nextRun}
	heap.Push(&s.heap, e)
	s.entries[job.Name] = e

	// Wake up the loop if this is the earliest job
	if s.heap[0] == e {
		select {
		case s.wakeup <- struct{}{}:
		default:
		}
	}
}

// Cancel removes a scheduled job
func (s *Scheduler) Cancel(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if !ok {
		if name != "" && name == s.running {
			s.dropRunning = true
			return true
		}
		return false
	}
	heap.Remove(&s.heap, e.index)
	delete(s.entries, name)
	return true
}

// NextRun reports when the named job runs next.
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if !ok {
		return time.Time{}, false
	}
	return e.nextRun, true
}

// Run executes due jobs until ctx is cancelled. A running job is given the
// same ctx and finishes before Run returns.
func (s *Scheduler) Run(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
	}()

	for {
		s.mu.Lock()
		var wait time.Duration
		var due *entry
		if s.heap.Len() == 0 {
			wait = 24 * time.Hour
		} else if wait = s.heap[0].nextRun.Sub(s.now()); wait <= 0 {
			due = heap.Pop(&s.heap).(*entry)
			delete(s.entries, due.job.Name)
			s.running = due.job.Name
			s.dropRunning = false
		}
		s.mu.Unlock()

		if due != nil {
			s.execute(ctx, due.job)
			if ctx.Err() != nil {
				return
			}
			s.mu.Lock()
			// A job cancelled or replaced while running is not rescheduled.
			if _, replaced := s.entries[due.job.Name]; !replaced && !s.dropRunning {
				s.push(due.job, NextRunTime(s.now(), due.job.Interval, due.job.Offset))
			}
			s.running = ""
			s.mu.Unlock()
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-s.wakeup:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, job *Job) {
	start := s.now()
	s.logger.Info("job started", zap.String("job", job.Name))
	job.Run(ctx)
	s.logger.Info("job finished",
		zap.String("job", job.Name),
		zap.Duration("duration", s.now().Sub(start)))
}
