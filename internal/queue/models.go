package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Stage identifies one step of the content-processing chain.
type Stage string

const (
	StageContentAnalysis  Stage = "content_analysis"
	StageTranslate        Stage = "translate"
	StageEmbedding        Stage = "embedding"
	StageEventClustering  Stage = "event_clustering"
	StageTopicDiscovery   Stage = "topic_discovery"
	StageActionExtraction Stage = "action_extraction"
	StageReportGeneration Stage = "report_generation"
)

// allStages lists every stage in chain order. The order matters: the CLI's
// "all" expansion and claim tie-breaking both rely on it.
var allStages = []Stage{
	StageContentAnalysis,
	StageTranslate,
	StageEmbedding,
	StageEventClustering,
	StageTopicDiscovery,
	StageActionExtraction,
	StageReportGeneration,
}

var stageSet = func() map[Stage]struct{} {
	set := make(map[Stage]struct{}, len(allStages))
	for _, stage := range allStages {
		set[stage] = struct{}{}
	}
	return set
}()

// AllStages returns the ordered list of known stages.
func AllStages() []Stage {
	cp := make([]Stage, len(allStages))
	copy(cp, allStages)
	return cp
}

// ParseStage converts a string into a known Stage.
func ParseStage(value string) (Stage, bool) {
	normalized := Stage(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := stageSet[normalized]
	return normalized, ok
}

// Status represents the lifecycle of a pipeline task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var allStatuses = []Status{StatusPending, StatusRunning, StatusCompleted, StatusFailed}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status admits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Payload describes the batch a task operates on: either an explicit set of
// content items (DAG fan-out) or a bounded backlog scan (triggers).
type Payload struct {
	ItemIDs []int64 `json:"item_ids,omitempty"`
	Limit   int     `json:"limit,omitempty"`
}

// Encode serializes the payload for storage.
func (p Payload) Encode() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return string(data), nil
}

// DecodePayload parses a stored payload. An empty string decodes to the zero
// payload so legacy rows remain readable.
func DecodePayload(raw string) (Payload, error) {
	if strings.TrimSpace(raw) == "" {
		return Payload{}, nil
	}
	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Payload{}, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}

// Task represents a pipeline task persisted in SQLite. Tasks form the audit
// trail of the pipeline and are never deleted by the pipeline itself.
type Task struct {
	ID           int64
	Stage        Stage
	Status       Status
	Priority     int
	PayloadJSON  string
	DedupeKey    string
	AttemptCount int
	MaxAttempts  int
	Forced       bool
	ClaimedBy    string
	ClaimedAt    *time.Time
	ErrorMessage string
	FailedItems  int
	CreatedAt    time.Time
	CompletedAt  *time.Time
}

// Payload decodes the task's stored payload.
func (t *Task) Payload() (Payload, error) {
	return DecodePayload(t.PayloadJSON)
}

// AttemptsExhausted reports whether the task has used its final attempt.
func (t *Task) AttemptsExhausted() bool {
	return t.AttemptCount >= t.MaxAttempts
}

// StatsSummary aggregates task counts for diagnostic output.
type StatsSummary struct {
	Total     int
	Pending   int
	Running   int
	Completed int
	Failed    int
	ByStage   map[Stage]int
}
