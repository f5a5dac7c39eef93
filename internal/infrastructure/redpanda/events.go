package redpanda

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/drfirst/go-rxinsight/pkg/cachekey"
)

// MetricsComputedEvent summarizes one computed brand-vs-generic comparison
type MetricsComputedEvent struct {
	ID           string    `json:"id"`
	Origin       string    `json:"origin"` // "query" or "files"
	CacheKey     string    `json:"cache_key"`
	BrandCodes   []string  `json:"brand_codes,omitempty"`
	GenericCodes []string  `json:"generic_codes,omitempty"`
	Segments     int       `json:"segments"`
	BrandTotal   int64     `json:"brand_total"`
	GenericTotal int64     `json:"generic_total"`
	BrandShare   float64   `json:"brand_share"`
	ComputedAt   time.Time `json:"computed_at"`
}

// Source names accepted in SourceChangedEvent
const (
	SourceFacts  = "facts"
	SourceFiles  = "files"
	SourceLookup = "lookup"
	SourceAll    = "all"
)

// SourceChangedEvent asks consumers to drop results derived from a source
type SourceChangedEvent struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Reason    string    `json:"reason,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

// NewSourceChangedEvent stamps a new invalidation request
func NewSourceChangedEvent(source, reason string) SourceChangedEvent {
	return SourceChangedEvent{
		ID:        uuid.NewString(),
		Source:    source,
		Reason:    reason,
		ChangedAt: time.Now().UTC(),
	}
}

// Prefixes returns the cache namespaces affected by the change.
// A lookup change relabels everything, so it clears every namespace.
func (e SourceChangedEvent) Prefixes() ([]string, error) {
	switch e.Source {
	case SourceFacts:
		return []string{cachekey.NamespaceQuery}, nil
	case SourceFiles:
		return []string{cachekey.NamespaceFiles, cachekey.NamespaceVolume}, nil
	case SourceLookup, SourceAll:
		return []string{cachekey.Prefix}, nil
	default:
		return nil, fmt.Errorf("unknown source %q", e.Source)
	}
}

// DecodeSourceChanged parses a message value
func DecodeSourceChanged(b []byte) (SourceChangedEvent, error) {
	var e SourceChangedEvent
	if err := json.Unmarshal(b, &e); err != nil {
		return e, fmt.Errorf("decode source changed event: %w", err)
	}
	if e.Source == "" {
		return e, fmt.Errorf("decode source changed event: missing source")
	}
	if e.ID == "" {
		return e, fmt.Errorf("decode source changed event: missing id")
	}
	return e, nil
}
