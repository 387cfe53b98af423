// Package protocol defines the messages the pipeline publishes on Kafka.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Stage names, also used as the Kafka message key.
const (
	StageIngest    = "ingest"
	StageNormalize = "normalize"
	StageLoad      = "load"
	StageAggregate = "aggregate"
)

// Stage outcomes.
const (
	StatusSucceeded = "SUCCEEDED"
	StatusNoOp      = "NOOP"
	StatusFailed    = "FAILED"
)

// StageEvent reports the outcome of one stage run.
type StageEvent struct {
	RunID      string           `json:"run_id"`
	Stage      string           `json:"stage"`
	Status     string           `json:"status"` // SUCCEEDED, NOOP, FAILED
	Window     string           `json:"window,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Counts     map[string]int64 `json:"counts,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// Duration is the wall time of the run.
func (e *StageEvent) Duration() time.Duration {
	return e.FinishedAt.Sub(e.StartedAt)
}

// EncodeStageEvent encodes a StageEvent to JSON
func EncodeStageEvent(event *StageEvent) ([]byte, error) {
	return json.Marshal(event)
}

// DecodeStageEvent decodes JSON to StageEvent
func DecodeStageEvent(data []byte) (*StageEvent, error) {
	var event StageEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	switch event.Status {
	case StatusSucceeded, StatusNoOp, StatusFailed:
	default:
		return nil, fmt.Errorf("unknown stage status %q", event.Status)
	}
	return &event, nil
}
