package queue

import (
	"time"

	"github.com/lingosub/internal/source"
	"github.com/lingosub/internal/subtitle"
)

// Status represents the current state of a job.
type Status string

const (
	StatusPending      Status = "pending"
	StatusDownloading  Status = "downloading"
	StatusTranscribing Status = "transcribing"
	StatusCompleted    Status = "completed"
	StatusError        Status = "error"
)

// Terminal reports whether the job has finished, successfully or not.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// InFlight reports whether the job is queued or running.
func (s Status) InFlight() bool { return !s.Terminal() }

// rank orders statuses so transitions only move forward.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusDownloading:
		return 1
	case StatusTranscribing:
		return 2
	default:
		return 3
	}
}

// Progress milestones reported by the processor.
const (
	ProgressQueued          = 0
	ProgressDownloadStarted = 10
	ProgressDownloaded      = 40
	ProgressRecognizing     = 50
	ProgressCorrecting      = 80
	ProgressTranslating     = 90
	ProgressDone            = 100
)

// Config is the processing configuration of a job.
type Config struct {
	Service           string `json:"service"`
	Domain            string `json:"domain"`
	Engine            string `json:"engine"`
	TargetLanguage    string `json:"target_language,omitempty"`
	CorrectionEnabled bool   `json:"correction_enabled"`
	// Language is the recognition hint; "auto" or empty lets the recognizer decide.
	Language string `json:"language,omitempty"`
}

// Compatible reports whether two submissions would produce the same output.
// The recognition hint is not compared.
func (c Config) Compatible(o Config) bool {
	return c.Service == o.Service &&
		c.Domain == o.Domain &&
		c.Engine == o.Engine &&
		c.TargetLanguage == o.TargetLanguage &&
		c.CorrectionEnabled == o.CorrectionEnabled
}

// Result is what a completed job produced.
type Result struct {
	DetectedLanguage string          `json:"detected_language"`
	Lines            []subtitle.Line `json:"subtitles"`
	// Cache names the tier that served the job: "final", "raw" or empty.
	Cache string `json:"cache,omitempty"`
}

// Job represents a subtitle processing job.
type Job struct {
	ID          string           `json:"id"`
	Source      source.Reference `json:"source"`
	Status      Status           `json:"status"`
	Progress    int              `json:"progress"`
	Message     string           `json:"message,omitempty"`
	Error       string           `json:"error,omitempty"`
	Config      Config           `json:"config"`
	Result      *Result          `json:"result,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	StartedAt   time.Time        `json:"started_at,omitempty"`
	CompletedAt time.Time        `json:"completed_at,omitempty"`
}

// NewJob creates a pending job for a resolved source.
func NewJob(ref source.Reference, cfg Config) *Job {
	now := time.Now()
	return &Job{
		ID:        ref.ID,
		Source:    ref,
		Status:    StatusPending,
		Progress:  ProgressQueued,
		Message:   "queued",
		Config:    cfg,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy safe to hand to readers.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	if j.Result != nil {
		res := *j.Result
		res.Lines = append([]subtitle.Line(nil), j.Result.Lines...)
		cp.Result = &res
	}
	return &cp
}

// reset prepares a finished job for another pass.
func (j *Job) reset(ref source.Reference, cfg Config) {
	now := time.Now()
	j.Source = ref
	j.Config = cfg
	j.Status = StatusPending
	j.Progress = ProgressQueued
	j.Message = "queued"
	j.Error = ""
	j.Result = nil
	j.UpdatedAt = now
	j.StartedAt = time.Time{}
	j.CompletedAt = time.Time{}
}
