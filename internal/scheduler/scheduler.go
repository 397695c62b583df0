// Package scheduler runs the four periodic jobs (position sync, position
// checker, orphan-order sweep, scanner) as independent tickers, each
// bounded to one in-flight run (spec.md §4.8), grounded on the teacher's
// main.go goroutine + os/signal shutdown idiom.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"sentryfx/internal/core"
	"sentryfx/internal/llm"
	"sentryfx/internal/logger"
)

// Job IDs, matching spec.md §4.8's table exactly.
const (
	JobPositionSync    = "position_sync_job"
	JobPositionChecker = "position_checker_job"
	JobOrphanOrder     = "orphan_order_job"
	JobScanner         = "scanner_job"
)

// JobFunc is one job invocation. Returning an error only logs a warning;
// a panic is recovered and logged as a CRITICAL event.
type JobFunc func(ctx context.Context) error

// EventStore is the persistence seam for the event log.
type EventStore interface {
	Append(e *core.Event) error
}

// job is one ticker-driven loop, bounded to a single in-flight run via a
// weight-1 semaphore (spec.md §4.8 "Max concurrent runs": 1).
type job struct {
	id  string
	fn  JobFunc
	sem *semaphore.Weighted

	mu       sync.Mutex
	interval time.Duration
	resetCh  chan struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

func (j *job) currentInterval() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.interval
}

func (j *job) setInterval(d time.Duration) {
	j.mu.Lock()
	j.interval = d
	j.mu.Unlock()
	select {
	case j.resetCh <- struct{}{}:
	default:
	}
}

// Scheduler owns the set of running jobs.
type Scheduler struct {
	mu     sync.Mutex
	jobs   map[string]*job
	events EventStore

	llmClient *llm.Client
}

// New constructs a Scheduler. events and llmClient may be nil.
func New(events EventStore, llmClient *llm.Client) *Scheduler {
	return &Scheduler{
		jobs:      make(map[string]*job),
		events:    events,
		llmClient: llmClient,
	}
}

func (s *Scheduler) emit(level core.EventLevel, category, message string) {
	if s.events == nil {
		return
	}
	if err := s.events.Append(&core.Event{
		Timestamp: time.Now(), Level: level, Category: category, Message: message,
	}); err != nil {
		logger.Warnf("scheduler: failed to persist event: %v", err)
	}
}

// AddJob registers and starts a ticker-driven job. A no-op if a job with
// the same id is already running.
func (s *Scheduler) AddJob(ctx context.Context, id string, interval time.Duration, fn JobFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[id]; exists {
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	j := &job{
		id: id, fn: fn, sem: semaphore.NewWeighted(1),
		interval: interval, resetCh: make(chan struct{}, 1),
		cancel: cancel, done: make(chan struct{}),
	}
	s.jobs[id] = j
	go s.run(jobCtx, j)
}

// hasJob reports whether a job with the given id is currently registered.
func (s *Scheduler) hasJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.jobs[id]
	return exists
}

// jobCount reports how many jobs are currently registered.
func (s *Scheduler) jobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// RemoveJob cancels and unregisters a job. A no-op if the job isn't
// running.
func (s *Scheduler) RemoveJob(id string) {
	s.mu.Lock()
	j, exists := s.jobs[id]
	if exists {
		delete(s.jobs, id)
	}
	s.mu.Unlock()
	if exists {
		j.cancel()
	}
}

func (s *Scheduler) run(ctx context.Context, j *job) {
	defer close(j.done)
	ticker := time.NewTicker(j.currentInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, j)
		case <-j.resetCh:
			ticker.Reset(j.currentInterval())
		}
	}
}

// tick starts one run of the job if it isn't already running
// (max_instances=1, spec.md §4.8); skips silently otherwise.
func (s *Scheduler) tick(ctx context.Context, j *job) {
	if !j.sem.TryAcquire(1) {
		return
	}
	go func() {
		defer j.sem.Release(1)
		defer s.recoverPanic(j.id)
		if err := j.fn(ctx); err != nil {
			logger.Warnf("scheduler: job %s failed: %v", j.id, err)
		}
	}()
}

func (s *Scheduler) recoverPanic(jobID string) {
	if r := recover(); r != nil {
		message := fmt.Sprintf("job %s panicked: %v\n%s", jobID, r, debug.Stack())
		logger.Errorf("scheduler: %s", message)
		s.emit(core.EventCritical, "Scheduler", message)
	}
}

// Changes is a partial live-update request (spec.md §4.8 Reschedule):
// nil/empty fields mean "no change".
type Changes struct {
	Intervals      map[string]time.Duration
	ScannerEnabled *bool
	LLMModels      []llm.ModelConfig
}

// Reschedule applies a live settings update: interval changes re-anchor
// the affected job's ticker, ScannerEnabled adds/removes the scanner
// job, and LLMModels triggers LLMClient.Reconfigure (spec.md §4.8).
// scannerInterval/scannerFn are used only if ScannerEnabled transitions
// to true and the job isn't already running.
func (s *Scheduler) Reschedule(ctx context.Context, changes Changes, scannerInterval time.Duration, scannerFn JobFunc) error {
	s.mu.Lock()
	for id, interval := range changes.Intervals {
		if j, ok := s.jobs[id]; ok {
			j.setInterval(interval)
		}
	}
	s.mu.Unlock()

	if changes.ScannerEnabled != nil {
		if *changes.ScannerEnabled {
			s.AddJob(ctx, JobScanner, scannerInterval, scannerFn)
		} else {
			s.RemoveJob(JobScanner)
		}
	}

	if changes.LLMModels != nil {
		if s.llmClient == nil {
			return fmt.Errorf("scheduler: cannot reconfigure LLM client, none configured")
		}
		if err := s.llmClient.Reconfigure(changes.LLMModels); err != nil {
			return fmt.Errorf("reconfiguring LLM client: %w", err)
		}
	}
	return nil
}

// Stop cancels every running job and waits for each to finish its
// current tick (spec.md §5: a job cancelled mid-run must not leave the
// ledger in an inconsistent state; the job bodies themselves are
// responsible for that invariant, Stop just ensures a clean process
// exit).
func (s *Scheduler) Stop() {
	s.mu.Lock()
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.jobs = make(map[string]*job)
	s.mu.Unlock()

	for _, j := range jobs {
		j.cancel()
	}
	for _, j := range jobs {
		<-j.done
		// The ticker loop has exited; wait for an in-flight run, if any,
		// to release the job's single slot.
		_ = j.sem.Acquire(context.Background(), 1)
		j.sem.Release(1)
	}
}
