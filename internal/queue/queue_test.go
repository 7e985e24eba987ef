package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lingosub/internal/source"
	"github.com/lingosub/internal/subtitle"
)

type fakeProcessor struct {
	calls   atomic.Int32
	started chan string
	release chan struct{}
	fail    error
	steps   []Status
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{
		started: make(chan string, 10),
		release: make(chan struct{}),
	}
}

func (p *fakeProcessor) Process(ctx context.Context, job *Job, report Reporter) (*Result, error) {
	p.calls.Add(1)
	for i, st := range p.steps {
		report(st, (i+1)*10, string(st))
	}
	p.started <- job.ID
	select {
	case <-p.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if p.fail != nil {
		return nil, p.fail
	}
	return &Result{DetectedLanguage: "en", Lines: []subtitle.Line{{Start: 0, End: 1, Text: job.ID}}}, nil
}

func ref(id string) source.Reference {
	return source.Reference{URL: "https://example.com/" + id, ID: id}
}

func waitStatus(t *testing.T, q *Queue, id string, want Status) *Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if job := q.Get(id); job != nil && job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s (now %+v)", id, want, q.Get(id))
	return nil
}

func TestSubmitDeduplicatesInFlightJobs(t *testing.T) {
	p := newFakeProcessor()
	q := New(p)
	q.Start()
	defer q.Stop()

	cfg := Config{Service: "local", Domain: "general", Engine: "whisper", TargetLanguage: "zh"}
	id1, err := q.Submit(ref("vid"), cfg)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-p.started

	withHint := cfg
	withHint.Language = "en"
	id2, err := q.Submit(ref("vid"), withHint)
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected same id, got %s and %s", id1, id2)
	}
	if got := q.Stats()["queued"]; got != 0 {
		t.Fatalf("duplicate submission must not enqueue, queued=%d", got)
	}

	close(p.release)
	job := waitStatus(t, q, id1, StatusCompleted)
	if p.calls.Load() != 1 {
		t.Fatalf("processor ran %d times, want 1", p.calls.Load())
	}
	if job.Progress != ProgressDone || job.Result == nil || len(job.Result.Lines) != 1 {
		t.Fatalf("unexpected completed job %+v", job)
	}
}

func TestSubmitConflictingConfig(t *testing.T) {
	p := newFakeProcessor()
	q := New(p)

	cfg := Config{Service: "local", Engine: "whisper"}
	if _, err := q.Submit(ref("a"), cfg); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	other := cfg
	other.TargetLanguage = "ja"
	if _, err := q.Submit(ref("a"), other); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestTerminalJobStartsNewPass(t *testing.T) {
	p := newFakeProcessor()
	p.fail = errors.New("download failed")
	close(p.release)
	q := New(p)
	q.Start()
	defer q.Stop()

	id, _ := q.Submit(ref("b"), Config{Engine: "whisper"})
	failed := waitStatus(t, q, id, StatusError)
	if failed.Error != "download failed" {
		t.Fatalf("unexpected error message %q", failed.Error)
	}

	p.fail = nil
	if _, err := q.Submit(ref("b"), Config{Engine: "qwen3"}); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	done := waitStatus(t, q, id, StatusCompleted)
	if done.Config.Engine != "qwen3" || done.Error != "" {
		t.Fatalf("second pass should use the new config and clear the error: %+v", done)
	}
	if p.calls.Load() != 2 {
		t.Fatalf("processor ran %d times, want 2", p.calls.Load())
	}
}

func TestJobsRunInSubmissionOrder(t *testing.T) {
	p := newFakeProcessor()
	q := New(p)
	for _, id := range []string{"one", "two", "three"} {
		if _, err := q.Submit(ref(id), Config{}); err != nil {
			t.Fatalf("Submit %s: %v", id, err)
		}
	}
	q.Start()
	defer q.Stop()

	for _, want := range []string{"one", "two", "three"} {
		select {
		case got := <-p.started:
			if got != want {
				t.Fatalf("ran %s, want %s", got, want)
			}
			p.release <- struct{}{}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestProgressNeverMovesBackwards(t *testing.T) {
	p := newFakeProcessor()
	p.steps = []Status{StatusTranscribing, StatusDownloading}
	q := New(p)
	q.Start()
	defer q.Stop()

	id, _ := q.Submit(ref("c"), Config{})
	<-p.started

	job := waitStatus(t, q, id, StatusTranscribing)
	if job.Progress != 20 {
		t.Fatalf("progress = %d, want 20", job.Progress)
	}
	close(p.release)
	waitStatus(t, q, id, StatusCompleted)
}

func TestGetReturnsCopy(t *testing.T) {
	q := New(newFakeProcessor())
	id, _ := q.Submit(ref("d"), Config{Engine: "whisper"})

	job := q.Get(id)
	job.Status = StatusCompleted
	job.Config.Engine = "mutated"

	again := q.Get(id)
	if again.Status != StatusPending || again.Config.Engine != "whisper" {
		t.Fatalf("internal job was mutated through a copy: %+v", again)
	}
	if q.Get("missing") != nil {
		t.Fatal("unknown id should return nil")
	}
}

func TestForgetDropsQueuedJob(t *testing.T) {
	p := newFakeProcessor()
	q := New(p)
	id, _ := q.Submit(ref("e"), Config{})

	if !q.Forget(id) {
		t.Fatal("Forget should report the job was known")
	}
	if q.Forget(id) {
		t.Fatal("second Forget should report nothing removed")
	}
	if q.Get(id) != nil || len(q.List()) != 0 || q.Stats()["queued"] != 0 {
		t.Fatal("forgotten job still visible")
	}

	q.Start()
	defer q.Stop()
	select {
	case got := <-p.started:
		t.Fatalf("forgotten job %s was processed", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStopCancelsRunningJob(t *testing.T) {
	p := newFakeProcessor()
	q := New(p)
	q.Start()

	id, _ := q.Submit(ref("f"), Config{})
	<-p.started

	q.Stop()

	if job := q.Get(id); job.Status != StatusError {
		t.Fatalf("cancelled job should be marked error, got %s", job.Status)
	}
}

func TestConfigCompatible(t *testing.T) {
	base := Config{Service: "local", Domain: "general", Engine: "whisper", TargetLanguage: "zh", CorrectionEnabled: true, Language: "en"}
	cases := []struct {
		name   string
		mutate func(c *Config)
		want   bool
	}{
		{"identical", func(c *Config) {}, true},
		{"language hint ignored", func(c *Config) { c.Language = "auto" }, true},
		{"service", func(c *Config) { c.Service = "groq" }, false},
		{"domain", func(c *Config) { c.Domain = "legal" }, false},
		{"engine", func(c *Config) { c.Engine = "qwen3" }, false},
		{"target", func(c *Config) { c.TargetLanguage = "" }, false},
		{"correction", func(c *Config) { c.CorrectionEnabled = false }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			other := base
			tc.mutate(&other)
			if got := base.Compatible(other); got != tc.want {
				t.Fatalf("Compatible = %v, want %v", got, tc.want)
			}
		})
	}
}
