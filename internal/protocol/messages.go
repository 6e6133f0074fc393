// ABOUTME: Wire message types exchanged between agents, panels, and the gateway.
// ABOUTME: Defines Command, Event, and DirectoryUpdate with strict parse helpers.

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Role identifies which side of the relay a connection belongs to.
type Role string

const (
	// RoleAgent is a remote device that reports data and receives commands.
	RoleAgent Role = "agent"

	// RolePanel is a controller client that issues commands and observes agents.
	RolePanel Role = "panel"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleAgent || r == RolePanel
}

// Well-known action and event names.
const (
	// ActionGetThumbnails asks an agent to start a fresh media fetch. The
	// router clears the device's media cache before forwarding it.
	ActionGetThumbnails = "get_thumbnails"

	// ActionNoOp is the sentinel returned to long-poll clients on timeout.
	ActionNoOp = "no_op"

	// EventThumbnailsData carries a bulk media listing. It is always stored
	// for pull, never broadcast to panels.
	EventThumbnailsData = "thumbnails_data"

	// EventAgentsList tags a directory update pushed to panels.
	EventAgentsList = "agents_list"
)

// ErrMalformedMessage indicates an inbound payload that could not be parsed
// as a tagged message. Callers log and drop; the connection stays open.
var ErrMalformedMessage = errors.New("malformed message")

// Command is a one-shot instruction addressed to exactly one agent.
// This is the shape panels POST to /api/send-command.
type Command struct {
	TargetID string          `json:"target_id" validate:"required"`
	Action   string          `json:"action" validate:"required"`
	Payload  json.RawMessage `json:"payload"`
}

// AgentCommand is the wire form actually written to the target agent's
// connection: the target id is implied by the connection itself.
type AgentCommand struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

// Encode serializes the command in its agent-facing wire form.
func (c Command) Encode() ([]byte, error) {
	return json.Marshal(AgentCommand{Action: c.Action, Payload: c.Payload})
}

// Event is an agent-originated notification as it arrives on the wire.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// PanelEvent is an Event enriched with its source agent's identity, the
// form fanned out to panels.
type PanelEvent struct {
	AgentID   string          `json:"agent_id"`
	AgentName string          `json:"agent_name"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
}

// AgentSummary is one entry of the agent directory.
type AgentSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DirectoryUpdate carries the full current agent list to panels. It is
// always the complete list, never a diff.
type DirectoryUpdate struct {
	Event string         `json:"event"`
	Data  []AgentSummary `json:"data"`
}

// NewDirectoryUpdate builds a directory update for the given agents.
// A nil slice is normalized to an empty list so panels never see null.
func NewDirectoryUpdate(agents []AgentSummary) DirectoryUpdate {
	if agents == nil {
		agents = []AgentSummary{}
	}
	return DirectoryUpdate{Event: EventAgentsList, Data: agents}
}

// ParseEvent decodes raw bytes into an Event. It rejects non-object
// payloads and events without a non-empty string tag, returning
// ErrMalformedMessage so the relay loop can drop them without dying.
func ParseEvent(raw []byte) (*Event, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	var evt Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if evt.Event == "" {
		return nil, fmt.Errorf("%w: missing event tag", ErrMalformedMessage)
	}
	return &evt, nil
}
