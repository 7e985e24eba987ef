package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/lingosub/pkg/logger"
)

// LocalStore is a Store that can enumerate its contents.
type LocalStore interface {
	Store
	Scan(ctx context.Context, fn func(tier Tier, sourceID string, payload []byte) error) error
}

// JobForgetter drops an in-memory job so a later submission starts fresh.
type JobForgetter interface {
	Forget(id string) bool
}

// Manager layers the local store over an optional remote store.
type Manager struct {
	local         LocalStore
	remote        Store
	remoteTimeout time.Duration
	forgetter     atomic.Pointer[forgetterBox]
}

type forgetterBox struct{ f JobForgetter }

// NewManager wires the stores. remote may be nil.
func NewManager(local LocalStore, remote Store, remoteTimeout time.Duration) *Manager {
	if remoteTimeout <= 0 {
		remoteTimeout = 10 * time.Second
	}
	return &Manager{local: local, remote: remote, remoteTimeout: remoteTimeout}
}

// AttachForgetter registers the job queue so Delete can drop in-memory jobs.
func (m *Manager) AttachForgetter(f JobForgetter) {
	m.forgetter.Store(&forgetterBox{f: f})
}

// HasRemote reports whether a remote store is configured.
func (m *Manager) HasRemote() bool { return m.remote != nil }

// GetRaw returns the raw record for a source or ErrNotFound.
func (m *Manager) GetRaw(ctx context.Context, sourceID string) (*RawRecord, error) {
	var rec RawRecord
	if err := m.get(ctx, TierRaw, sourceID, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// PutRaw stores a raw record.
func (m *Manager) PutRaw(ctx context.Context, rec *RawRecord) error {
	return m.put(ctx, TierRaw, rec.SourceID, rec)
}

// GetFinal returns the final record only when it was produced with key.
func (m *Manager) GetFinal(ctx context.Context, sourceID string, key Key) (*FinalRecord, error) {
	rec, err := m.Peek(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if !rec.Matches(key) {
		logger.Debugf("🗃️ Final cache for %s built with %+v, requested %+v", sourceID, rec.Key(), key)
		return nil, ErrNotFound
	}
	return rec, nil
}

// Peek returns the final record regardless of its configuration.
func (m *Manager) Peek(ctx context.Context, sourceID string) (*FinalRecord, error) {
	var rec FinalRecord
	if err := m.get(ctx, TierFinal, sourceID, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// PutFinal stores a final record.
func (m *Manager) PutFinal(ctx context.Context, rec *FinalRecord) error {
	return m.put(ctx, TierFinal, rec.SourceID, rec)
}

// Delete removes every trace of a source. Each step runs independently and
// the report lists the ones that removed something.
func (m *Manager) Delete(ctx context.Context, sourceID string) DeleteReport {
	report := DeleteReport{DeletedItems: []string{}}

	if err := m.local.Delete(ctx, TierFinal, sourceID); err == nil {
		report.DeletedItems = append(report.DeletedItems, ItemLocalFinal)
	} else if !errors.Is(err, ErrNotFound) {
		logger.Warnf("⚠️ Delete local final %s: %v", sourceID, err)
	}

	if err := m.local.Delete(ctx, TierRaw, sourceID); err == nil {
		report.DeletedItems = append(report.DeletedItems, ItemLocalRaw)
	} else if !errors.Is(err, ErrNotFound) {
		logger.Warnf("⚠️ Delete local raw %s: %v", sourceID, err)
	}

	if box := m.forgetter.Load(); box != nil && box.f.Forget(sourceID) {
		report.DeletedItems = append(report.DeletedItems, ItemInMemory)
	}

	if m.remote != nil {
		rctx, cancel := context.WithTimeout(ctx, m.remoteTimeout)
		removed := false
		for _, tier := range []Tier{TierFinal, TierRaw} {
			err := m.remote.Delete(rctx, tier, sourceID)
			switch {
			case err == nil:
				removed = true
			case !errors.Is(err, ErrNotFound):
				logger.Warnf("⚠️ Delete remote %s/%s from %s: %v", tier, sourceID, m.remote.Name(), err)
			}
		}
		cancel()
		if removed {
			report.DeletedItems = append(report.DeletedItems, ItemRemote)
		}
	}

	report.Success = len(report.DeletedItems) > 0
	logger.Infof("🗑️ Cache delete %s: %v", sourceID, report.DeletedItems)
	return report
}

// SyncToRemote pushes every local record to the remote store and returns
// how many were written. Failures on individual records are logged.
func (m *Manager) SyncToRemote(ctx context.Context) (int, error) {
	if m.remote == nil {
		return 0, nil
	}
	synced := 0
	failed := 0
	err := m.local.Scan(ctx, func(tier Tier, sourceID string, payload []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		rctx, cancel := context.WithTimeout(ctx, m.remoteTimeout)
		defer cancel()
		if err := m.remote.Put(rctx, tier, sourceID, payload); err != nil {
			failed++
			logger.Warnf("⚠️ Sync %s/%s to %s: %v", tier, sourceID, m.remote.Name(), err)
			return nil
		}
		synced++
		return nil
	})
	if err != nil {
		return synced, fmt.Errorf("sync local cache: %w", err)
	}
	logger.Infof("🔄 Synced %d cache records to %s (%d failed)", synced, m.remote.Name(), failed)
	return synced, nil
}

// Close closes both stores.
func (m *Manager) Close() error {
	var errs []error
	if err := m.local.Close(); err != nil {
		errs = append(errs, err)
	}
	if m.remote != nil {
		if err := m.remote.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) get(ctx context.Context, tier Tier, sourceID string, out any) error {
	payload, err := m.local.Get(ctx, tier, sourceID)
	if err == nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("decode local %s record %s: %w", tier, sourceID, err)
		}
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		logger.Warnf("⚠️ Local cache read %s/%s: %v", tier, sourceID, err)
	}
	if m.remote == nil {
		return ErrNotFound
	}

	rctx, cancel := context.WithTimeout(ctx, m.remoteTimeout)
	defer cancel()
	payload, err = m.remote.Get(rctx, tier, sourceID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logger.Warnf("⚠️ Remote cache read %s/%s: %v", tier, sourceID, err)
		}
		return ErrNotFound
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode remote %s record %s: %w", tier, sourceID, err)
	}

	if err := m.local.Put(ctx, tier, sourceID, payload); err != nil {
		logger.Warnf("⚠️ Write-back %s/%s to local cache: %v", tier, sourceID, err)
	} else {
		logger.Debugf("📥 Restored %s/%s from %s", tier, sourceID, m.remote.Name())
	}
	return nil
}

func (m *Manager) put(ctx context.Context, tier Tier, sourceID string, rec any) error {
	if sourceID == "" {
		return errors.New("cache record has no source id")
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", tier, err)
	}
	if err := m.local.Put(ctx, tier, sourceID, payload); err != nil {
		return fmt.Errorf("write local %s record: %w", tier, err)
	}

	if m.remote != nil {
		rctx, cancel := context.WithTimeout(ctx, m.remoteTimeout)
		defer cancel()
		if err := m.remote.Put(rctx, tier, sourceID, payload); err != nil {
			logger.Warnf("⚠️ Remote cache write %s/%s to %s: %v", tier, sourceID, m.remote.Name(), err)
		}
	}
	return nil
}
