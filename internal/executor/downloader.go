package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/lingosub/internal/fileops"
	"github.com/lingosub/internal/retry"
	"github.com/lingosub/internal/source"
	"github.com/lingosub/pkg/logger"
)

// Downloader fetches audio with yt-dlp and shrinks it with ffmpeg.
type Downloader struct {
	tempDir string
	policy  atomic.Pointer[retry.Policy]
	ytDlp   string
	ffmpeg  string
}

// NewDownloader creates a Downloader writing into tempDir.
func NewDownloader(tempDir string, policy retry.Policy) *Downloader {
	d := &Downloader{tempDir: tempDir, ytDlp: "yt-dlp", ffmpeg: "ffmpeg"}
	d.SetPolicy(policy)
	return d
}

// SetPolicy replaces the retry policy used by later downloads.
func (d *Downloader) SetPolicy(p retry.Policy) { d.policy.Store(&p) }

// AudioPath is where the audio for a source id is stored. Ids that would
// escape the temp directory are rejected.
func (d *Downloader) AudioPath(id string) (string, error) {
	if !source.ValidID(id) {
		return "", retry.Permanent(fmt.Errorf("invalid source id %q", id))
	}
	out := filepath.Join(d.tempDir, id+".mp3")
	rel, err := filepath.Rel(d.tempDir, out)
	if err != nil || rel != filepath.Base(out) {
		return "", retry.Permanent(fmt.Errorf("source id %q escapes %s", id, d.tempDir))
	}
	return out, nil
}

// Download returns a local audio path for ref. Local references are used as
// they are; an existing non-empty download is reused without running yt-dlp.
func (d *Downloader) Download(ctx context.Context, ref source.Reference) (string, error) {
	if ref.IsLocal() {
		if !fileops.NonEmpty(ref.LocalPath) {
			return "", retry.Permanent(fmt.Errorf("local audio %s is missing or empty", ref.LocalPath))
		}
		return ref.LocalPath, nil
	}

	out, err := d.AudioPath(ref.ID)
	if err != nil {
		return "", err
	}
	if fileops.NonEmpty(out) {
		logger.Infof("📦 Audio already downloaded: %s", filepath.Base(out))
		return out, nil
	}
	if err := fileops.EnsureDir(d.tempDir); err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}

	args := []string{
		"-x",
		"--audio-format", "mp3",
		"--audio-quality", "128K",
		"--no-part",
		"--force-overwrites",
		"--no-playlist",
		"-o", out,
		ref.URL,
	}

	logger.Infof("⬇️ Downloading audio: %s", ref.URL)
	err = retry.Do(ctx, *d.policy.Load(), "download", func(ctx context.Context) error {
		if _, err := runStreamed(ctx, false, d.ytDlp, args...); err != nil {
			return err
		}
		if !fileops.NonEmpty(out) {
			return fmt.Errorf("yt-dlp produced no audio at %s", out)
		}
		return nil
	})
	if err != nil {
		fileops.RemoveQuiet(out)
		return "", err
	}

	logger.Infof("✅ Download complete: %s", filepath.Base(out))
	return out, nil
}

// PlaylistEntry is one video of a playlist.
type PlaylistEntry struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

type playlistDump struct {
	Title   string `json:"title"`
	Entries []struct {
		ID         string `json:"id"`
		Title      string `json:"title"`
		URL        string `json:"url"`
		WebpageURL string `json:"webpage_url"`
	} `json:"entries"`
}

// ListPlaylist returns the entries of a playlist URL without downloading.
func (d *Downloader) ListPlaylist(ctx context.Context, url string) ([]PlaylistEntry, error) {
	out, err := retry.Value(ctx, *d.policy.Load(), "list playlist", func(ctx context.Context) (string, error) {
		return runStreamed(ctx, true, d.ytDlp, "--flat-playlist", "--dump-single-json", url)
	})
	if err != nil {
		return nil, err
	}
	return parsePlaylist(out)
}

func parsePlaylist(raw string) ([]PlaylistEntry, error) {
	var dump playlistDump
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &dump); err != nil {
		return nil, fmt.Errorf("parse playlist: %w", err)
	}

	entries := make([]PlaylistEntry, 0, len(dump.Entries))
	for _, e := range dump.Entries {
		url := e.WebpageURL
		if url == "" {
			url = e.URL
		}
		if url == "" && e.ID != "" {
			url = "https://www.youtube.com/watch?v=" + e.ID
		}
		if url == "" {
			continue
		}
		entries = append(entries, PlaylistEntry{ID: e.ID, Title: e.Title, URL: url})
	}
	logger.Infof("📃 Playlist %q: %d entries", dump.Title, len(entries))
	return entries, nil
}

// Compress re-encodes audio to 64k mono when it exceeds maxMB, returning the
// path to upload. Files within the limit are returned unchanged.
func (d *Downloader) Compress(ctx context.Context, path string, maxMB int) (string, error) {
	if maxMB <= 0 {
		return path, nil
	}
	size, err := fileops.SizeMB(path)
	if err != nil {
		return "", fmt.Errorf("stat audio: %w", err)
	}
	if size <= float64(maxMB) {
		return path, nil
	}

	out := fileops.ChangeExtension(path, ".small.mp3")
	logger.Infof("🗜️ Audio is %.1f MB (limit %d MB), compressing", size, maxMB)
	if _, err := runStreamed(ctx, false, d.ffmpeg, "-y", "-i", path, "-ac", "1", "-b:a", "64k", out); err != nil {
		return "", fmt.Errorf("compress audio: %w", err)
	}
	if !fileops.NonEmpty(out) {
		return "", fmt.Errorf("ffmpeg produced no output at %s", out)
	}
	if small, err := fileops.SizeMB(out); err == nil {
		logger.Infof("🗜️ Compressed to %.1f MB", small)
	}
	return out, nil
}
