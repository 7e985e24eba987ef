package cache

import (
	"errors"
	"time"

	"github.com/lingosub/internal/subtitle"
)

// Tier selects one of the two cached stages of a source.
type Tier string

const (
	// TierRaw holds recognition output before correction or translation.
	TierRaw Tier = "raw"
	// TierFinal holds fully processed, configuration-specific output.
	TierFinal Tier = "final"
)

// ErrNotFound is returned by stores when no record exists.
var ErrNotFound = errors.New("cache record not found")

// Key is the configuration a final record was produced with.
type Key struct {
	Service        string `json:"service"`
	Domain         string `json:"domain"`
	Engine         string `json:"engine"`
	TargetLanguage string `json:"target_language"`
}

// RawRecord is the recognition output of a source.
type RawRecord struct {
	SourceID         string          `json:"source_id"`
	DetectedLanguage string          `json:"detected_language"`
	Domain           string          `json:"domain"`
	Engine           string          `json:"engine"`
	CreatedAt        time.Time       `json:"created_at"`
	Lines            []subtitle.Line `json:"subtitles"`
}

// Reusable reports whether the raw record can stand in for a new recognition
// run: engine and domain must match and there must be at least one line.
func (r *RawRecord) Reusable(domain, engine string) bool {
	return r != nil && r.Engine == engine && r.Domain == domain && len(r.Lines) > 0
}

// FinalRecord is the processed output of a source for one configuration.
type FinalRecord struct {
	SourceID         string          `json:"source_id"`
	DetectedLanguage string          `json:"detected_language"`
	Service          string          `json:"service"`
	Domain           string          `json:"domain"`
	Engine           string          `json:"engine"`
	TargetLanguage   string          `json:"target_language"`
	CreatedAt        time.Time       `json:"created_at"`
	Lines            []subtitle.Line `json:"subtitles"`
}

// Key returns the configuration the record was produced with.
func (r *FinalRecord) Key() Key {
	return Key{Service: r.Service, Domain: r.Domain, Engine: r.Engine, TargetLanguage: r.TargetLanguage}
}

// Matches is the final-tier hit rule: every configuration field must be equal.
func (r *FinalRecord) Matches(k Key) bool {
	return r != nil && r.Key() == k
}

// Deletion targets reported by Manager.Delete.
const (
	ItemLocalFinal = "local-final"
	ItemLocalRaw   = "local-raw"
	ItemInMemory   = "in-memory"
	ItemRemote     = "remote"
)

// DeleteReport lists which deletion steps succeeded.
type DeleteReport struct {
	DeletedItems []string `json:"deleted_items"`
	Success      bool     `json:"success"`
}

// Deleted reports whether the named item was removed.
func (d DeleteReport) Deleted(item string) bool {
	for _, it := range d.DeletedItems {
		if it == item {
			return true
		}
	}
	return false
}
