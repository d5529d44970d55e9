package domain

import "time"

// Artifact describes one persisted image and enough metadata to
// reproduce the request that produced it.
type Artifact struct {
	NumericID    int       `json:"numeric_id"`
	RunID        string    `json:"run_id"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	CreatedAt    time.Time `json:"created_at"`
	Prompt       string    `json:"prompt"`
	Rewritten    string    `json:"rewritten,omitempty"`
	Cost         float64   `json:"cost"`
	ImagePath    string    `json:"image_path"`
	SidecarPath  string    `json:"sidecar_path"`
	ThumbPath    string    `json:"thumb_path,omitempty"`
}

// ManifestEntry mirrors Artifact; it is the JSON shape appended, one per
// line, to manifest.jsonl. Kept as a distinct type (even though the
// fields are identical today) so the on-disk schema can evolve
// independently of the in-memory Artifact type.
type ManifestEntry Artifact

// ToManifestEntry converts an Artifact to its manifest line shape.
func (a Artifact) ToManifestEntry() ManifestEntry { return ManifestEntry(a) }
