package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lingosub/internal/subtitle"
)

type memStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	failPut bool
	failDel bool
}

func newMemStore() *memStore { return &memStore{data: make(map[string][]byte)} }

func (s *memStore) key(tier Tier, id string) string { return string(tier) + "/" + id }

func (s *memStore) Name() string { return "mem" }

func (s *memStore) Get(_ context.Context, tier Tier, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[s.key(tier, id)]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (s *memStore) Put(_ context.Context, tier Tier, id string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPut {
		return errors.New("remote unavailable")
	}
	s.data[s.key(tier, id)] = append([]byte(nil), payload...)
	return nil
}

func (s *memStore) Delete(_ context.Context, tier Tier, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDel {
		return errors.New("remote unavailable")
	}
	if _, ok := s.data[s.key(tier, id)]; !ok {
		return ErrNotFound
	}
	delete(s.data, s.key(tier, id))
	return nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) has(tier Tier, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[s.key(tier, id)]
	return ok
}

type forgetFunc func(id string) bool

func (f forgetFunc) Forget(id string) bool { return f(id) }

func newTestManager(t *testing.T, remote Store) (*Manager, *SQLiteStore) {
	t.Helper()
	local, err := OpenSQLite(t.TempDir())
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	m := NewManager(local, remote, time.Second)
	t.Cleanup(func() { _ = m.Close() })
	return m, local
}

func sampleFinal(id string) *FinalRecord {
	return &FinalRecord{
		SourceID:         id,
		DetectedLanguage: "en",
		Service:          "local",
		Domain:           "general",
		Engine:           "whisper",
		TargetLanguage:   "zh",
		CreatedAt:        time.Now().UTC(),
		Lines:            []subtitle.Line{{Start: 0, End: 1.5, Text: "hello", Translation: "你好"}},
	}
}

func TestFinalCacheRequiresExactKey(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()
	rec := sampleFinal("abc")
	if err := m.PutFinal(ctx, rec); err != nil {
		t.Fatalf("PutFinal: %v", err)
	}

	hit := Key{Service: "local", Domain: "general", Engine: "whisper", TargetLanguage: "zh"}
	got, err := m.GetFinal(ctx, "abc", hit)
	if err != nil {
		t.Fatalf("expected hit, got %v", err)
	}
	if len(got.Lines) != 1 || got.Lines[0].Translation != "你好" {
		t.Fatalf("unexpected record %+v", got)
	}

	misses := []Key{
		{Service: "openai", Domain: "general", Engine: "whisper", TargetLanguage: "zh"},
		{Service: "local", Domain: "medical", Engine: "whisper", TargetLanguage: "zh"},
		{Service: "local", Domain: "general", Engine: "qwen3", TargetLanguage: "zh"},
		{Service: "local", Domain: "general", Engine: "whisper", TargetLanguage: "ja"},
		{Service: "local", Domain: "general", Engine: "whisper"},
	}
	for _, k := range misses {
		if _, err := m.GetFinal(ctx, "abc", k); !errors.Is(err, ErrNotFound) {
			t.Fatalf("key %+v: expected ErrNotFound, got %v", k, err)
		}
	}
}

func TestRawReusable(t *testing.T) {
	rec := &RawRecord{Domain: "general", Engine: "whisper", Lines: []subtitle.Line{{Text: "x"}}}
	cases := []struct {
		name   string
		rec    *RawRecord
		domain string
		engine string
		want   bool
	}{
		{"match", rec, "general", "whisper", true},
		{"engine differs", rec, "general", "qwen3", false},
		{"domain differs", rec, "legal", "whisper", false},
		{"empty lines", &RawRecord{Domain: "general", Engine: "whisper"}, "general", "whisper", false},
		{"nil", nil, "general", "whisper", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.rec.Reusable(tc.domain, tc.engine); got != tc.want {
				t.Fatalf("Reusable = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRemoteHitIsWrittenBack(t *testing.T) {
	remote := newMemStore()
	m, local := newTestManager(t, remote)
	ctx := context.Background()

	raw := &RawRecord{SourceID: "vid1", Domain: "general", Engine: "whisper", Lines: []subtitle.Line{{Start: 0, End: 1, Text: "hi"}}}
	if err := m.PutRaw(ctx, raw); err != nil {
		t.Fatalf("PutRaw: %v", err)
	}
	if !remote.has(TierRaw, "vid1") {
		t.Fatal("write should reach the remote store")
	}
	if err := local.Delete(ctx, TierRaw, "vid1"); err != nil {
		t.Fatalf("local delete: %v", err)
	}

	got, err := m.GetRaw(ctx, "vid1")
	if err != nil {
		t.Fatalf("GetRaw from remote: %v", err)
	}
	if got.Lines[0].Text != "hi" {
		t.Fatalf("unexpected record %+v", got)
	}
	if _, err := local.Get(ctx, TierRaw, "vid1"); err != nil {
		t.Fatalf("remote hit should be written back locally: %v", err)
	}
}

func TestRemoteWriteFailureIsNotFatal(t *testing.T) {
	remote := newMemStore()
	remote.failPut = true
	m, _ := newTestManager(t, remote)

	if err := m.PutFinal(context.Background(), sampleFinal("x1")); err != nil {
		t.Fatalf("remote failure must not fail the write: %v", err)
	}
	if _, err := m.Peek(context.Background(), "x1"); err != nil {
		t.Fatalf("local copy missing: %v", err)
	}
}

func TestDeleteReportsEachStep(t *testing.T) {
	ctx := context.Background()

	t.Run("all present", func(t *testing.T) {
		remote := newMemStore()
		m, _ := newTestManager(t, remote)
		m.AttachForgetter(forgetFunc(func(id string) bool { return id == "d1" }))
		_ = m.PutFinal(ctx, sampleFinal("d1"))
		_ = m.PutRaw(ctx, &RawRecord{SourceID: "d1", Lines: []subtitle.Line{{Text: "a"}}})

		report := m.Delete(ctx, "d1")
		for _, item := range []string{ItemLocalFinal, ItemLocalRaw, ItemInMemory, ItemRemote} {
			if !report.Deleted(item) {
				t.Fatalf("expected %s in %v", item, report.DeletedItems)
			}
		}
		if !report.Success {
			t.Fatal("expected success")
		}
		if _, err := m.Peek(ctx, "d1"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("record should be gone, got %v", err)
		}
	})

	t.Run("remote failure does not stop local deletion", func(t *testing.T) {
		remote := newMemStore()
		m, _ := newTestManager(t, remote)
		_ = m.PutFinal(ctx, sampleFinal("d2"))
		remote.failDel = true

		report := m.Delete(ctx, "d2")
		if !report.Deleted(ItemLocalFinal) || report.Deleted(ItemRemote) {
			t.Fatalf("unexpected report %v", report.DeletedItems)
		}
		if report.Deleted(ItemLocalRaw) || report.Deleted(ItemInMemory) {
			t.Fatalf("nothing else existed: %v", report.DeletedItems)
		}
	})

	t.Run("unknown id with remote store", func(t *testing.T) {
		m, _ := newTestManager(t, newMemStore())
		report := m.Delete(ctx, "never-cached")
		if report.Success || len(report.DeletedItems) != 0 {
			t.Fatalf("expected empty report, got %+v", report)
		}
	})

	t.Run("remote only", func(t *testing.T) {
		remote := newMemStore()
		m, _ := newTestManager(t, remote)
		payload, _ := json.Marshal(sampleFinal("d3"))
		_ = remote.Put(ctx, TierFinal, "d3", payload)

		report := m.Delete(ctx, "d3")
		if len(report.DeletedItems) != 1 || !report.Deleted(ItemRemote) || !report.Success {
			t.Fatalf("expected only remote, got %+v", report)
		}
		if remote.has(TierFinal, "d3") {
			t.Fatal("remote record should be gone")
		}
	})

	t.Run("nothing to delete", func(t *testing.T) {
		m, _ := newTestManager(t, nil)
		report := m.Delete(ctx, "missing")
		if report.Success || len(report.DeletedItems) != 0 {
			t.Fatalf("expected empty report, got %+v", report)
		}
	})
}

func TestSyncToRemote(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, nil)
	_ = m.PutFinal(ctx, sampleFinal("s1"))
	_ = m.PutRaw(ctx, &RawRecord{SourceID: "s1", Lines: []subtitle.Line{{Text: "a"}}})
	_ = m.PutRaw(ctx, &RawRecord{SourceID: "s2", Lines: []subtitle.Line{{Text: "b"}}})

	remote := newMemStore()
	m.remote = remote
	n, err := m.SyncToRemote(ctx)
	if err != nil {
		t.Fatalf("SyncToRemote: %v", err)
	}
	if n != 3 {
		t.Fatalf("synced %d records, want 3", n)
	}
	if !remote.has(TierFinal, "s1") || !remote.has(TierRaw, "s2") {
		t.Fatal("remote missing synced records")
	}
}

func TestSQLiteLocksDirectory(t *testing.T) {
	dir := t.TempDir()
	first, err := OpenSQLite(dir)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if _, err := OpenSQLite(dir); err == nil {
		t.Fatal("second open of a locked directory should fail")
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	second, err := OpenSQLite(dir)
	if err != nil {
		t.Fatalf("reopen after close: %v", err)
	}
	_ = second.Close()
}
