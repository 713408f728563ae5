package model

import "time"

// RunState is the orchestrator state machine position.
type RunState string

const (
	StateIdle           RunState = "idle"
	StateAuthenticating RunState = "authenticating"
	StateFetching       RunState = "fetching"
	StatePublishing     RunState = "publishing"
	StateDone           RunState = "done"
	StateFailed         RunState = "failed"
)

// Outcome classifies a finished run for callers.
type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomePartial       Outcome = "partial"
	OutcomeNothingToSync Outcome = "nothing_to_sync"
	OutcomeFailed        Outcome = "failed"
)

// RecordSource tells where the published records came from.
type RecordSource string

const (
	SourceLive       RecordSource = "live"
	SourceCache      RecordSource = "cache"
	SourceStaleCache RecordSource = "stale_cache"
)

// Error kinds attached to failed runs.
const (
	ErrorKindConfig       = "config"
	ErrorKindInvalidGrant = "invalid_grant"
	ErrorKindAuth         = "auth"
	ErrorKindFetch        = "fetch"
)

// BatchResult is the delivery outcome of one chunk.
type BatchResult struct {
	BatchIndex int    `json:"batch_index"`
	ItemCount  int    `json:"item_count"`
	Succeeded  bool   `json:"succeeded"`
	HTTPStatus *int   `json:"http_status"`
	Error      string `json:"error,omitempty"`
}

// SyncReport aggregates the batch results of one publish.
type SyncReport struct {
	TotalRecords     int           `json:"total_records"`
	BatchesSent      int           `json:"batches_sent"`
	BatchesFailed    int           `json:"batches_failed"`
	RecordsConfirmed int           `json:"records_confirmed"`
	Batches          []BatchResult `json:"batches"`
}

// Complete reports whether every record was confirmed by the receiver.
func (r *SyncReport) Complete() bool {
	return r != nil && r.BatchesFailed == 0 && r.RecordsConfirmed == r.TotalRecords
}

// SyncRun is the record of one synchronization run.
type SyncRun struct {
	ID             string       `json:"id"`
	Trigger        string       `json:"trigger"`
	State          RunState     `json:"state"`
	Outcome        Outcome      `json:"outcome"`
	Source         RecordSource `json:"source,omitempty"`
	StartedAt      time.Time    `json:"started_at"`
	FinishedAt     time.Time    `json:"finished_at"`
	RecordsFetched int          `json:"records_fetched"`
	PagesFetched   int          `json:"pages_fetched"`
	PagesFailed    int          `json:"pages_failed"`
	FetchAborted   bool         `json:"fetch_aborted"`
	FetchTruncated bool         `json:"fetch_truncated"`
	Report         *SyncReport  `json:"report,omitempty"`
	ErrorKind      string       `json:"error_kind,omitempty"`
	Error          string       `json:"error,omitempty"`
}

// Duration returns how long the run took.
func (r *SyncRun) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
