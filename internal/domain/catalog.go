package domain

import "time"

// EntryKind distinguishes agents from skills in the catalog.
type EntryKind string

const (
	EntryAgent EntryKind = "agent"
	EntrySkill EntryKind = "skill"
)

// CatalogEntry describes one agent or skill known to the engine.
// The engine treats the executor behind an agent id as opaque; only the
// metadata here participates in decisions.
type CatalogEntry struct {
	ID           string    `json:"id" yaml:"id"`
	Kind         EntryKind `json:"kind" yaml:"kind"`
	Description  string    `json:"description,omitempty" yaml:"description,omitempty"`
	TriggerTerms []string  `json:"trigger_terms,omitempty" yaml:"trigger_terms,omitempty"`
	Tags         []string  `json:"tags,omitempty" yaml:"tags,omitempty"`
	Content      string    `json:"-" yaml:"-"` // raw body; skills only
	Order        int       `json:"-" yaml:"-"` // load order, used for deterministic tie-breaking
}

// AccessStats carries per-entry usage metadata for the recency and
// frequency signals. Entries never accessed have a zero LastAccess.
type AccessStats struct {
	LastAccess  time.Time `json:"last_access"`
	AccessCount int       `json:"access_count"`
}

// CatalogProvider is the catalog lookup interface consumed by the engine.
type CatalogProvider interface {
	Agents() []CatalogEntry
	Skills() []CatalogEntry
	Get(id string) (*CatalogEntry, error)
}
