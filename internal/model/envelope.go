package model

type MessageType string

const (
	MessageTypeRunResult MessageType = "run_result"
)

// Envelope is transport-agnostic framing for stream payloads.
type Envelope struct {
	Type          MessageType `json:"type"`
	ProjectID     string      `json:"project_id"`
	RunID         string      `json:"run_id"`
	TimestampUnix int64       `json:"timestamp_unix"`
	Payload       any         `json:"payload"`
}
