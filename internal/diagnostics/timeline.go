// Package diagnostics defines the ingestion run's stage timeline: the ordered
// sequence of stage events persisted on the run row (spec §4.1, §6).
package diagnostics

import (
	"encoding/json"
	"time"
)

// Stage identifies one step of the ingestion pipeline.
type Stage string

const (
	StageRequest          Stage = "request"
	StagePoll             Stage = "poll"
	StageDownload         Stage = "download"
	StagePersist          Stage = "persist"
	StageCanonicalMapping Stage = "canonical_mapping"
	StageSnapshot         Stage = "snapshot"
)

// Status is the terminal or intermediate outcome of a stage event.
type Status string

const (
	StatusStarted Status = "started"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusRetry   Status = "retry"
)

// Event is one entry in a run's diagnostics timeline. Payload carries
// stage-specific fields (see the per-stage *Payload types below) and is
// stored as a JSON object so the timeline can be persisted as a single
// JSON array column on the run row.
type Event struct {
	Stage       Stage           `json:"stage"`
	Status      Status          `json:"status"`
	StartedAt   time.Time       `json:"started_at_utc"`
	EndedAt     time.Time       `json:"ended_at_utc"`
	DurationMs  int64           `json:"duration_ms"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Timeline accumulates Events for a single run and marshals to the JSON
// array persisted on the run row.
type Timeline struct {
	events []Event
}

// NewTimeline creates an empty timeline.
func NewTimeline() *Timeline {
	return &Timeline{}
}

// Append records a completed stage event with an arbitrary payload value,
// which is marshaled to JSON. Marshal failures are swallowed into a bare
// event (diagnostics must never abort the run they describe).
func (t *Timeline) Append(stage Stage, status Status, startedAt, endedAt time.Time, payload any) {
	ev := Event{
		Stage:      stage,
		Status:     status,
		StartedAt:  startedAt,
		EndedAt:    endedAt,
		DurationMs: endedAt.Sub(startedAt).Milliseconds(),
	}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			ev.Payload = raw
		}
	}
	t.events = append(t.events, ev)
}

// Events returns the accumulated events in append order.
func (t *Timeline) Events() []Event {
	return t.events
}

// MarshalJSON serializes the timeline as a JSON array, the shape persisted
// on the run row's diagnostics column.
func (t *Timeline) MarshalJSON() ([]byte, error) {
	if t.events == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(t.events)
}

// RequestPayload is the request stage's stage-specific payload.
type RequestPayload struct {
	UpstreamReferenceCode string `json:"upstream_reference_code"`
}

// PollAttemptPayload is emitted once per poll retry attempt.
type PollAttemptPayload struct {
	PollAttempt        int    `json:"poll_attempt"`
	ErrorCode          string `json:"error_code,omitempty"`
	ErrorMessage       string `json:"error_message,omitempty"`
	RetryAfterSeconds  float64 `json:"retry_after_seconds,omitempty"`
}

// PersistPayload is the persist stage's stage-specific payload.
type PersistPayload struct {
	PayloadSHA256        string `json:"payload_sha256"`
	RawArtifactID         string `json:"raw_artifact_id"`
	ArtifactDeduped        bool   `json:"artifact_deduped"`
	RawRowsInserted        int    `json:"raw_rows_inserted"`
	RawRowsDeduplicated    int    `json:"raw_rows_deduplicated"`
}

// CanonicalMappingPayload is the canonical_mapping stage's stage-specific payload.
type CanonicalMappingPayload struct {
	TradeFillUpserts        int    `json:"trade_fill_upserts"`
	CashflowUpserts         int    `json:"cashflow_upserts"`
	FXUpserts               int    `json:"fx_upserts"`
	CorporateActionUpserts  int    `json:"corporate_action_upserts"`
	InstrumentUpserts       int    `json:"instrument_upserts"`
	OpenPositionMarkUpserts int    `json:"open_position_mark_upserts"`
	SkipReason              string `json:"canonical_skip_reason,omitempty"`
}

// SnapshotPayload is the snapshot stage's stage-specific payload.
type SnapshotPayload struct {
	InstrumentsSnapshotted int `json:"instruments_snapshotted"`
}
