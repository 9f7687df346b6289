package models

import "time"

// ArtifactStatus is the generation pipeline's lifecycle state for an artifact.
type ArtifactStatus string

const (
	ArtifactPending    ArtifactStatus = "pending"
	ArtifactProcessing ArtifactStatus = "processing"
	ArtifactCompleted  ArtifactStatus = "completed"
	ArtifactFailed     ArtifactStatus = "failed"
)

// Artifact is the subset of a generation record the review engine reads and writes.
// An empty ReviewOutcome or CullStatus means the outcome is not settled yet.
type Artifact struct {
	GenerationID   string         `json:"generation_id"`
	CollectionID   string         `json:"collection_id"`
	Status         ArtifactStatus `json:"status"`
	ParentJobID    string         `json:"parent_job_id,omitempty"`
	ReviewOutcome  Outcome        `json:"review_outcome,omitempty"`
	CullStatus     Outcome        `json:"cull_status,omitempty"`
	ExportExcluded bool           `json:"export_excluded"`
	RequestedAt    time.Time      `json:"requested_at"`
	Tool           string         `json:"tool,omitempty"`
	Prompt         string         `json:"prompt,omitempty"`
	MediaKey       string         `json:"media_key,omitempty"`
	PreviewURL     string         `json:"preview_url,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// EligibleFor reports whether the artifact may be seeded into a queue of the given mode.
func (a Artifact) EligibleFor(mode Mode) bool {
	switch mode {
	case ModeReview:
		return a.Status == ArtifactCompleted && a.ParentJobID == "" && a.ReviewOutcome == ""
	case ModeCull:
		return a.ReviewOutcome == OutcomeAccepted && a.CullStatus == ""
	}
	return false
}

// Settled reports whether the outcome for mode has already been written.
func (a Artifact) Settled(mode Mode) bool {
	switch mode {
	case ModeReview:
		return a.ReviewOutcome != ""
	case ModeCull:
		return a.CullStatus != ""
	}
	return false
}

// SeedMetadata is the context copied from an artifact onto a new queue item.
func (a Artifact) SeedMetadata() map[string]any {
	meta := make(map[string]any, len(a.Metadata)+1)
	for k, v := range a.Metadata {
		meta[k] = v
	}
	if a.Tool != "" {
		meta["tool"] = a.Tool
	}
	return meta
}
