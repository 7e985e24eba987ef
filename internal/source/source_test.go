package source

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestIDFromURL(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=42s", "dQw4w9WgXcQ"},
		{"https://youtu.be/dQw4w9WgXcQ?si=abc", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/embed/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/playlist?list=PL1&v=abc123", "abc123"},
		{"https://vimeo.com/videos/987654", "987654"},
	}
	for _, tc := range cases {
		if got := IDFromURL(tc.url); got != tc.want {
			t.Fatalf("IDFromURL(%q) = %q, want %q", tc.url, got, tc.want)
		}
	}
}

func TestIDFromURLFallsBackToHash(t *testing.T) {
	url := "https://example.com/podcast/episode-12.mp3"
	got := IDFromURL(url)
	if len(got) != 11 {
		t.Fatalf("expected 11 char hash id, got %q", got)
	}
	if got != IDFromURL(url) {
		t.Fatal("hash id must be deterministic")
	}
	if got == IDFromURL(url+"?x=1") {
		t.Fatal("different urls should not collide")
	}
}

func TestIDFromURLRejectsPathLikeCaptures(t *testing.T) {
	urls := []string{
		"https://example.com/v/../music/song",
		"https://example.com/videos/a/b/c",
		"https://example.com/watch?v=..%2F..%2Fetc",
		"https://example.com/e/" + strings.Repeat("x", 65),
	}
	for _, url := range urls {
		got := IDFromURL(url)
		if !ValidID(got) || strings.Contains(got, "/") || strings.Contains(got, ".") {
			t.Fatalf("IDFromURL(%q) = %q, want a hash id", url, got)
		}
		if len(got) != 11 {
			t.Fatalf("IDFromURL(%q) = %q, want the 11 char fallback", url, got)
		}
	}
}

func TestFromURLRejectsEmpty(t *testing.T) {
	if _, err := FromURL("   "); !errors.Is(err, ErrEmptyReference) {
		t.Fatalf("expected ErrEmptyReference, got %v", err)
	}
}

func TestFromFileHashesContent(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.mp3")
	b := filepath.Join(dir, "b.mp3")
	for _, p := range []string{a, b} {
		if err := os.WriteFile(p, []byte("same audio bytes"), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	refA, err := FromFile(a)
	if err != nil {
		t.Fatalf("FromFile: %v", err)
	}
	refB, _ := FromFile(b)
	if refA.ID != refB.ID {
		t.Fatalf("identical content should share an id: %s vs %s", refA.ID, refB.ID)
	}
	if !strings.HasPrefix(refA.ID, "file-") || !refA.IsLocal() {
		t.Fatalf("unexpected local reference %+v", refA)
	}
}
