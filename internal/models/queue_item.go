package models

import (
	"fmt"
	"time"
)

// Mode selects which review pass a queue item belongs to.
type Mode string

const (
	ModeReview Mode = "review"
	ModeCull   Mode = "cull"
)

// Modes lists every queue mode in display order.
var Modes = []Mode{ModeReview, ModeCull}

// ParseMode validates a mode coming from a caller.
func ParseMode(v string) (Mode, error) {
	switch Mode(v) {
	case ModeReview, ModeCull:
		return Mode(v), nil
	}
	return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidArgument, v)
}

// Status is the lifecycle state of a queue item persisted by a QueueStore.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

// Statuses lists every queue status in lifecycle order.
var Statuses = []Status{StatusPending, StatusInProgress, StatusDone}

// QueueItem is one unit of reviewer work.
// AssignedTo and AssignedAt are set only while Status is in_progress.
type QueueItem struct {
	ID           string         `json:"id"`
	GenerationID string         `json:"generation_id"`
	CollectionID string         `json:"collection_id"`
	Mode         Mode           `json:"mode"`
	Status       Status         `json:"status"`
	AssignedTo   string         `json:"assigned_to,omitempty"`
	AssignedAt   *time.Time     `json:"assigned_at,omitempty"`
	OrderingKey  time.Time      `json:"ordering_key"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Less orders items FIFO by ordering key, ties broken by id.
func (q QueueItem) Less(other QueueItem) bool {
	if !q.OrderingKey.Equal(other.OrderingKey) {
		return q.OrderingKey.Before(other.OrderingKey)
	}
	return q.ID < other.ID
}

// EnqueueEntry is the caller-supplied shape for an idempotent upsert.
type EnqueueEntry struct {
	GenerationID string         `json:"generation_id"`
	CollectionID string         `json:"collection_id"`
	Mode         Mode           `json:"mode"`
	OrderingKey  time.Time      `json:"ordering_key"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Validate checks the fields a store needs before upserting.
func (e EnqueueEntry) Validate() error {
	if e.GenerationID == "" {
		return fmt.Errorf("%w: generation_id is required", ErrInvalidArgument)
	}
	if e.CollectionID == "" {
		return fmt.Errorf("%w: collection_id is required", ErrInvalidArgument)
	}
	if _, err := ParseMode(string(e.Mode)); err != nil {
		return err
	}
	return nil
}

// Counts holds queue item totals keyed by mode then status.
type Counts map[Mode]map[Status]int

// NewCounts returns a Counts with every mode/status pair present and zeroed.
func NewCounts() Counts {
	c := make(Counts, len(Modes))
	for _, m := range Modes {
		c[m] = make(map[Status]int, len(Statuses))
		for _, s := range Statuses {
			c[m][s] = 0
		}
	}
	return c
}
