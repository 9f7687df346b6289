package models

import "fmt"

// Outcome is a reviewer judgement. Review mode accepts accepted/rejected,
// cull mode accepts keep/exclude.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
	OutcomeKeep     Outcome = "keep"
	OutcomeExclude  Outcome = "exclude"
)

// Decision is one reviewer judgement submitted with a commit.
type Decision struct {
	GenerationID string  `json:"generation_id"`
	Mode         Mode    `json:"mode"`
	Outcome      Outcome `json:"outcome"`
	ReviewerID   string  `json:"reviewer_id,omitempty"`
}

// Validate rejects decisions whose outcome does not belong to their mode.
func (d Decision) Validate() error {
	if d.GenerationID == "" {
		return fmt.Errorf("%w: generation_id is required", ErrInvalidArgument)
	}
	switch d.Mode {
	case ModeReview:
		if d.Outcome != OutcomeAccepted && d.Outcome != OutcomeRejected {
			return fmt.Errorf("%w: outcome %q is not valid for review", ErrInvalidArgument, d.Outcome)
		}
	case ModeCull:
		if d.Outcome != OutcomeKeep && d.Outcome != OutcomeExclude {
			return fmt.Errorf("%w: outcome %q is not valid for cull", ErrInvalidArgument, d.Outcome)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidArgument, d.Mode)
	}
	return nil
}

// Result statuses reported per entry of a batch call.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// EntryResult reports how one entry of a batch operation fared.
type EntryResult struct {
	GenerationID string `json:"generation_id"`
	Mode         Mode   `json:"mode,omitempty"`
	QueueID      string `json:"queue_id,omitempty"`
	Status       string `json:"status"`
	Detail       string `json:"detail,omitempty"`
}
