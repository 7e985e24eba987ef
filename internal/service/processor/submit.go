package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lingosub/internal/cache"
	"github.com/lingosub/internal/events"
	"github.com/lingosub/internal/queue"
	"github.com/lingosub/internal/source"
	"github.com/lingosub/pkg/logger"
)

// WithDefaults fills the service, engine and domain a request left empty.
func (s *Service) WithDefaults(c queue.Config) queue.Config {
	cfg, _ := s.snapshot()
	if c.Service == "" {
		c.Service = cfg.Recognizer.DefaultService
	}
	if c.Engine == "" {
		c.Engine = cfg.Recognizer.DefaultEngine
	}
	if c.Domain == "" {
		c.Domain = "general"
	}
	if c.Language == "" {
		c.Language = "auto"
	}
	return c
}

// Submit queues a source for processing and returns a snapshot of its job.
func (s *Service) Submit(ctx context.Context, ref source.Reference, c queue.Config) (*queue.Job, error) {
	c = s.WithDefaults(c)
	if err := s.checkConfig(c); err != nil {
		return nil, err
	}
	id, err := s.queue.Submit(ref, c)
	if err != nil {
		return nil, err
	}

	ev := events.New(events.JobQueued, id)
	ev.Source = ref.String()
	s.publish(ctx, ev)

	return s.queue.Get(id), nil
}

// Status returns the job for id. Ids that are no longer in memory but have
// a final cache record are reported as completed.
func (s *Service) Status(ctx context.Context, id string) (*queue.Job, error) {
	if job := s.queue.Get(id); job != nil {
		return job, nil
	}

	rec, err := s.cache.Peek(ctx, id)
	if errors.Is(err, cache.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read cache for %s: %w", id, err)
	}
	return &queue.Job{
		ID:       id,
		Source:   source.Reference{ID: id},
		Status:   queue.StatusCompleted,
		Progress: queue.ProgressDone,
		Message:  "served from cache",
		Config: queue.Config{
			Service:        rec.Service,
			Domain:         rec.Domain,
			Engine:         rec.Engine,
			TargetLanguage: rec.TargetLanguage,
		},
		Result: &queue.Result{
			DetectedLanguage: rec.DetectedLanguage,
			Lines:            rec.Lines,
			Cache:            string(cache.TierFinal),
		},
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.CreatedAt,
		CompletedAt: rec.CreatedAt,
	}, nil
}

// DeleteCache removes every cached copy of a source and forgets its job.
func (s *Service) DeleteCache(ctx context.Context, id string) cache.DeleteReport {
	report := s.cache.Delete(ctx, id)

	ev := events.New(events.CacheDeleted, id)
	ev.Message = fmt.Sprintf("deleted %v", report.DeletedItems)
	s.publish(ctx, ev)
	return report
}

// PlaylistItem is the outcome of queueing one playlist entry.
type PlaylistItem struct {
	ID     string       `json:"id,omitempty"`
	Title  string       `json:"title,omitempty"`
	URL    string       `json:"url"`
	Status queue.Status `json:"status,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// SubmitPlaylist expands a playlist and queues every entry with the same
// configuration. Entries that fail to queue are reported, not fatal.
func (s *Service) SubmitPlaylist(ctx context.Context, url string, c queue.Config) ([]PlaylistItem, error) {
	c = s.WithDefaults(c)
	if err := s.checkConfig(c); err != nil {
		return nil, err
	}

	listCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	entries, err := s.downloader.ListPlaylist(listCtx, url)
	if err != nil {
		return nil, fmt.Errorf("list playlist: %w", err)
	}
	logger.Infof("📃 Playlist %s: %d entries", url, len(entries))

	items := make([]PlaylistItem, 0, len(entries))
	for _, e := range entries {
		item := PlaylistItem{Title: e.Title, URL: e.URL}
		ref, err := source.FromURL(e.URL)
		if err != nil {
			item.Error = err.Error()
			items = append(items, item)
			continue
		}
		job, err := s.Submit(ctx, ref, c)
		if err != nil {
			item.ID = ref.ID
			item.Error = err.Error()
			items = append(items, item)
			continue
		}
		item.ID = job.ID
		item.Status = job.Status
		items = append(items, item)
	}
	return items, nil
}
