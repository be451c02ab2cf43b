package domain

import "time"

// Event is a telemetry event exported to the pipeline (Kafka, OTel Logs,
// Loki). The JSON form is the Kafka wire format consumed by the worker.
type Event struct {
	UserID      string `json:"userId"`
	ChallengeID string `json:"challengeId,omitempty"`
	EventType   string `json:"eventType"`
	Source      string `json:"source"`
	// Metadata is an opaque JSON document with event-specific fields
	// (decision reason, scores, policy name).
	Metadata  []byte    `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
