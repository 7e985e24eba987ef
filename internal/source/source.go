package source

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

// videoIDPattern extracts platform video identifiers from common URL shapes.
var videoIDPattern = regexp.MustCompile(`(?:v=|/videos/|embed/|youtu\.be/|/v/|/e/|watch\?v=|&v=)([^#&?\n]*)`)

// idPattern is the shape every source id has. Ids are used as file names.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidID reports whether id is safe to use as a file name and URL segment.
func ValidID(id string) bool { return idPattern.MatchString(id) }

// Reference points at media to process: a remote URL or a local audio file.
type Reference struct {
	URL       string `json:"url,omitempty"`
	LocalPath string `json:"local_path,omitempty"`
	// ID is the deterministic source id, filled by Resolve.
	ID string `json:"id"`
}

// IsLocal reports whether the reference is an uploaded or local file.
func (r Reference) IsLocal() bool { return r.LocalPath != "" }

// String returns the URL or path for logs.
func (r Reference) String() string {
	if r.IsLocal() {
		return r.LocalPath
	}
	return r.URL
}

// ErrEmptyReference is returned when neither URL nor path is set.
var ErrEmptyReference = errors.New("source reference needs a url or a local path")

// FromURL resolves a remote reference.
func FromURL(url string) (Reference, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return Reference{}, ErrEmptyReference
	}
	return Reference{URL: url, ID: IDFromURL(url)}, nil
}

// FromFile resolves a local file reference, identified by its content hash.
func FromFile(path string) (Reference, error) {
	if path == "" {
		return Reference{}, ErrEmptyReference
	}
	id, err := IDFromFile(path)
	if err != nil {
		return Reference{}, err
	}
	return Reference{LocalPath: path, ID: id}, nil
}

// IDFromURL extracts the video identifier, falling back to the first 11 hex
// characters of the URL's MD5 when there is none or it is not a valid id.
func IDFromURL(url string) string {
	if m := videoIDPattern.FindStringSubmatch(url); len(m) == 2 && ValidID(m[1]) {
		return m[1]
	}
	sum := md5.Sum([]byte(url))
	return hex.EncodeToString(sum[:])[:11]
}

// IDFromFile hashes the file contents so identical uploads share an id.
func IDFromFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open source file: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash source file: %w", err)
	}
	return "file-" + hex.EncodeToString(h.Sum(nil))[:16], nil
}
