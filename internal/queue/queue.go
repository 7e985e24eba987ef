package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lingosub/internal/source"
	"github.com/lingosub/pkg/logger"
)

// ErrConflict is returned when a source is already being processed with a
// different configuration.
var ErrConflict = errors.New("source is already being processed with a different configuration")

// Reporter lets a processor publish status and progress for the running job.
type Reporter func(status Status, progress int, message string)

// Processor is the interface that processes a job. It receives a copy of
// the job and returns the result to record on success.
type Processor interface {
	Process(ctx context.Context, job *Job, report Reporter) (*Result, error)
}

// Queue runs jobs one at a time in submission order.
type Queue struct {
	mu      sync.RWMutex
	jobs    map[string]*Job
	order   []string // submission order for List
	pending []string // FIFO of job ids waiting for the worker
	signal  chan struct{}
	current string

	processor Processor

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new job queue.
func New(processor Processor) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		jobs:      make(map[string]*Job),
		signal:    make(chan struct{}, 1),
		processor: processor,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins the worker goroutine.
func (q *Queue) Start() {
	q.wg.Add(1)
	go q.worker()
	logger.Info("📥 Job queue started (sequential processing)")
}

// Stop cancels the running job and waits for the worker to exit.
func (q *Queue) Stop() {
	logger.Info("🛑 Stopping job queue...")
	q.cancel()
	q.wg.Wait()
	logger.Info("✅ Job queue stopped")
}

// Submit queues a source and returns its job id without blocking.
// A source that is already queued or running keeps its job; a finished one
// starts a new pass under the same id.
func (q *Queue) Submit(ref source.Reference, cfg Config) (string, error) {
	if ref.ID == "" {
		return "", source.ErrEmptyReference
	}

	q.mu.Lock()
	if job, ok := q.jobs[ref.ID]; ok {
		if job.Status.InFlight() {
			compatible := job.Config.Compatible(cfg)
			q.mu.Unlock()
			if !compatible {
				return "", fmt.Errorf("%w: job %s is %s", ErrConflict, ref.ID, job.Status)
			}
			logger.Infof("♻️ Job %s already %s, returning existing job", ref.ID, job.Status)
			return ref.ID, nil
		}
		job.reset(ref, cfg)
		logger.Infof("🔁 Job %s requeued for another pass", ref.ID)
	} else {
		q.jobs[ref.ID] = NewJob(ref, cfg)
		q.order = append(q.order, ref.ID)
		logger.Infof("📥 Job queued: %s (%s)", ref.ID, ref)
	}
	q.pending = append(q.pending, ref.ID)
	q.mu.Unlock()

	q.wake()
	return ref.ID, nil
}

// Get returns a copy of the job, or nil if the id is unknown.
func (q *Queue) Get(id string) *Job {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.jobs[id].Clone()
}

// Forget drops a job from memory. A queued job will not run; a running job
// finishes but its outcome is discarded.
func (q *Queue) Forget(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.jobs[id]; !ok {
		return false
	}
	delete(q.jobs, id)
	q.order = without(q.order, id)
	q.pending = without(q.pending, id)
	logger.Infof("🧹 Job %s forgotten", id)
	return true
}

// List returns copies of all jobs in submission order.
func (q *Queue) List() []*Job {
	q.mu.RLock()
	defer q.mu.RUnlock()

	result := make([]*Job, 0, len(q.order))
	for _, id := range q.order {
		result = append(result, q.jobs[id].Clone())
	}
	return result
}

// Stats returns queue statistics.
func (q *Queue) Stats() map[string]int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := map[string]int{
		"total":                    len(q.jobs),
		"queued":                   len(q.pending),
		string(StatusPending):      0,
		string(StatusDownloading):  0,
		string(StatusTranscribing): 0,
		string(StatusCompleted):    0,
		string(StatusError):        0,
	}
	for _, job := range q.jobs {
		stats[string(job.Status)]++
	}
	return stats
}

// Current returns the id of the running job, or "".
func (q *Queue) Current() string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.current
}

func (q *Queue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// worker processes jobs sequentially.
func (q *Queue) worker() {
	defer q.wg.Done()

	for {
		if q.ctx.Err() != nil {
			return
		}
		job, ok := q.next()
		if !ok {
			select {
			case <-q.ctx.Done():
				return
			case <-q.signal:
			}
			continue
		}
		q.processJob(job)
	}
}

// next pops the first runnable job.
func (q *Queue) next() (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.pending) > 0 {
		id := q.pending[0]
		q.pending = q.pending[1:]
		job, ok := q.jobs[id]
		if !ok || job.Status != StatusPending {
			continue
		}
		q.current = id
		job.StartedAt = time.Now()
		return job, true
	}
	return nil, false
}

func (q *Queue) processJob(job *Job) {
	q.mu.RLock()
	snapshot := job.Clone()
	q.mu.RUnlock()

	logger.Infof("🔄 Processing job: %s (%s)", snapshot.ID, snapshot.Source)

	report := func(status Status, progress int, message string) {
		q.update(job, status, progress, message)
	}
	result, err := q.processor.Process(q.ctx, snapshot, report)

	q.mu.Lock()
	defer q.mu.Unlock()
	q.current = ""

	now := time.Now()
	job.UpdatedAt = now
	job.CompletedAt = now
	if err != nil {
		logger.Errorf("❌ Job %s failed: %v", job.ID, err)
		job.Status = StatusError
		job.Error = err.Error()
		job.Message = err.Error()
		return
	}

	logger.Infof("✅ Job completed: %s", job.ID)
	job.Status = StatusCompleted
	job.Progress = ProgressDone
	job.Message = "done"
	job.Error = ""
	job.Result = result
}

// update applies a progress report. Status and progress never move backwards.
func (q *Queue) update(job *Job, status Status, progress int, message string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if job.Status.Terminal() {
		return
	}
	if status != "" && !status.Terminal() && status.rank() >= job.Status.rank() {
		job.Status = status
	}
	if progress > job.Progress && progress < ProgressDone {
		job.Progress = progress
	}
	if message != "" {
		job.Message = message
	}
	job.UpdatedAt = time.Now()
}

func without(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
