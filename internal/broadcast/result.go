package broadcast

const (
	ReasonInvalidJob         = "invalid job"
	ReasonGatewayDisabled    = "gateway not configured"
	ReasonAlreadyPosted      = "already posted"
	ReasonDuplicatePrevented = "duplicate prevented"
	ReasonInProgress         = "delivery in progress"
)

// Event types published on the bus.
const (
	EventPosted  = "broadcast.posted"
	EventFailed  = "broadcast.failed"
	EventSkipped = "broadcast.skipped"
)

// PublishResult is the outcome of one PublishNewJob call.
// Exactly one of Success, Skipped or a non-empty Error describes it.
type PublishResult struct {
	JobID             string `json:"jobId"`
	Success           bool   `json:"success"`
	Skipped           bool   `json:"skipped,omitempty"`
	Reason            string `json:"reason,omitempty"`
	ApplyURL          string `json:"applyUrl,omitempty"`
	ExternalMessageID string `json:"externalMessageId,omitempty"`
	Attempts          int    `json:"attempts,omitempty"`
	Error             string `json:"error,omitempty"`

	Err error `json:"-"`
}

// Outcome names the result for logs and events: posted, skipped or failed.
func (r PublishResult) Outcome() string {
	switch {
	case r.Success:
		return "posted"
	case r.Skipped:
		return "skipped"
	default:
		return "failed"
	}
}
