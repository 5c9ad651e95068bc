// Package eventstream forwards execution events to a remote collector over a
// WebSocket connection. Messages are JSON envelopes with a type discriminator.
package eventstream

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/hochfrequenz/phaseforge/internal/domain"
)

// Envelope wraps all messages with a type discriminator.
// When marshaling, Payload can be any message struct.
// When unmarshaling, use EnvelopeRaw for type-based dispatch.
type Envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// EnvelopeRaw is used for receiving messages where the payload
// needs to be unmarshaled based on the message type.
type EnvelopeRaw struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MarshalEnvelope creates an envelope with the given type and payload
func MarshalEnvelope(msgType string, payload interface{}) ([]byte, error) {
	return json.Marshal(Envelope{Type: msgType, Payload: payload})
}

// HelloMessage is sent once per connection
type HelloMessage struct {
	ClientID string `json:"client_id"`
	Version  string `json:"version,omitempty"`
}

// EventMessage carries one ExecutionEvent
type EventMessage struct {
	ExecutionID string `json:"execution_id"`
	Project     string `json:"project"`
	Sequence    int    `json:"seq"`
	Type        string `json:"type"`
	Success     bool   `json:"success"`
	Phase       string `json:"phase,omitempty"`
	Task        string `json:"task,omitempty"`
	Module      string `json:"module,omitempty"`
	Message     string `json:"message,omitempty"`
	ErrorDetail string `json:"error_detail,omitempty"`
}

// StatusMessage carries the terminal status of an execution
type StatusMessage struct {
	ExecutionID    string     `json:"execution_id"`
	Project        string     `json:"project"`
	Target         string     `json:"target"`
	Module         string     `json:"module,omitempty"`
	Status         string     `json:"status"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        *time.Time `json:"end_time,omitempty"`
	TotalTasks     int        `json:"total_tasks"`
	CompletedTasks int        `json:"completed_tasks"`
	FailedTasks    int        `json:"failed_tasks"`
	SkippedTasks   int        `json:"skipped_tasks"`
	Error          string     `json:"error,omitempty"`
}

// Message type constants
const (
	TypeHello  = "hello"
	TypeEvent  = "event"
	TypeStatus = "status"
	TypePing   = "ping" // collector -> client, answered with pong
	TypePong   = "pong"
)

// NewEventMessage converts an event to its wire form
func NewEventMessage(ev domain.ExecutionEvent) EventMessage {
	return EventMessage{
		ExecutionID: ev.ExecutionID,
		Project:     ev.ProjectName,
		Sequence:    ev.Sequence,
		Type:        string(ev.Type),
		Success:     ev.Success,
		Phase:       ev.PhaseID,
		Task:        ev.TaskID,
		Module:      ev.SubProject,
		Message:     ev.Message,
		ErrorDetail: ev.ErrorDetail,
	}
}

// Event converts the wire form back to a domain event
func (m EventMessage) Event() domain.ExecutionEvent {
	return domain.ExecutionEvent{
		ExecutionID: m.ExecutionID,
		ProjectName: m.Project,
		Sequence:    m.Sequence,
		Type:        domain.EventType(m.Type),
		Success:     m.Success,
		PhaseID:     m.Phase,
		TaskID:      m.Task,
		SubProject:  m.Module,
		Message:     m.Message,
		ErrorDetail: m.ErrorDetail,
	}
}

// NewStatusMessage converts a terminal status to its wire form
func NewStatusMessage(st domain.ExecutionStatus) StatusMessage {
	m := StatusMessage{
		ExecutionID:    st.ExecutionID,
		Project:        st.ProjectName,
		Target:         st.TaskID,
		Module:         st.SubProject,
		Status:         string(st.Status),
		StartTime:      st.StartTime,
		EndTime:        st.EndTime,
		TotalTasks:     st.TotalTasks,
		CompletedTasks: st.CompletedTasks,
		FailedTasks:    st.FailedTasks,
		SkippedTasks:   st.SkippedTasks,
	}
	if st.Err != nil {
		m.Error = st.Err.Error()
	}
	return m
}
