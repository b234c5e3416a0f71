// Package activity implements the process-wide activity bus: a hierarchically
// scoped stream of typed progress events consumed by the TUI renderer.
package activity

import "encoding/json"

// Level mirrors the tracing levels used to filter and annotate activities.
type Level string

const (
	LevelError Level = "error"
	LevelWarn  Level = "warn"
	LevelInfo  Level = "info"
	LevelDebug Level = "debug"
	LevelTrace Level = "trace"
)

// Outcome is the terminal state of an activity, set at most once before
// Complete fires (default Success if never set explicitly).
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeFailed           Outcome = "failed"
	OutcomeCancelled        Outcome = "cancelled"
	OutcomeCached           Outcome = "cached"
	OutcomeSkipped          Outcome = "skipped"
	OutcomeDependencyFailed Outcome = "dependency_failed"
)

// Kind identifies which event taxonomy (and builder) an activity belongs to.
type Kind string

const (
	KindBuild     Kind = "build"
	KindFetch     Kind = "fetch"
	KindEvaluate  Kind = "evaluate"
	KindTask      Kind = "task"
	KindCommand   Kind = "command"
	KindOperation Kind = "operation"
	KindMessage   Kind = "message"
)

// FetchKind distinguishes the four ways a Fetch activity acquires something.
type FetchKind string

const (
	FetchDownload FetchKind = "download"
	FetchQuery    FetchKind = "query"
	FetchTree     FetchKind = "tree"
	FetchCopy     FetchKind = "copy"
)

// EventName is the `event` discriminant within an activity_kind.
type EventName string

const (
	EventQueued   EventName = "queued"
	EventStart    EventName = "start"
	EventComplete EventName = "complete"
	EventPhase    EventName = "phase"
	EventProgress EventName = "progress"
	EventLog      EventName = "log"
)

// Event is the wire/in-process representation of a single activity_kind event.
// It is a flattened struct rather than a Go tagged union (no sum types in Go);
// ActivityKind+EventName select which of the optional fields are populated,
// mirroring the JSON shape in spec.md §6 exactly (activity_kind, event, plus
// the per-variant fields below). `ID` is also readable under the legacy
// `activity_id` JSON key via UnmarshalJSON.
type Event struct {
	ActivityKind Kind      `json:"activity_kind"`
	Event        EventName `json:"event"`
	ID           uint64    `json:"id"`
	Timestamp    Timestamp `json:"timestamp"`

	// Build-only
	Name           string `json:"name,omitempty"`
	ParentID       *uint64 `json:"parent,omitempty"`
	DerivationPath string `json:"derivation_path,omitempty"`
	Phase          string `json:"phase,omitempty"`

	// Fetch-only
	FetchKind FetchKind `json:"fetch_kind,omitempty"`
	URL       string    `json:"url,omitempty"`
	Current   uint64    `json:"current,omitempty"`
	Total     *uint64   `json:"total,omitempty"`

	// Build/Task/Operation progress
	Done     uint64  `json:"done,omitempty"`
	Expected uint64  `json:"expected,omitempty"`
	Detail   *string `json:"detail,omitempty"`

	// Log lines (Build/Evaluate/Task/Command/Operation)
	Line    string `json:"line,omitempty"`
	IsError bool   `json:"is_error,omitempty"`

	// Terminal state
	Outcome Outcome `json:"outcome,omitempty"`

	// Message-only
	Level Level  `json:"level,omitempty"`
	Text  string `json:"text,omitempty"`
}

type jsonAliasEvent Event

// legacyAlias carries the deprecated `activity_id` key so old consumers that
// never migrated to `id` still decode correctly.
type legacyAlias struct {
	jsonAliasEvent
	LegacyActivityID *uint64 `json:"activity_id,omitempty"`
}

// UnmarshalJSON accepts `id` or its alias `activity_id`, per spec.md §3/§6.
func (e *Event) UnmarshalJSON(data []byte) error {
	var la legacyAlias
	if err := json.Unmarshal(data, &la); err != nil {
		return err
	}
	*e = Event(la.jsonAliasEvent)
	if e.ID == 0 && la.LegacyActivityID != nil {
		e.ID = *la.LegacyActivityID
	}
	return nil
}
