package ha

import (
	"encoding/json"
	"time"
)

// DesiredState is one snapshot of entity values fetched from Home
// Assistant. It is built fresh on every fetch and never mutated after
// being returned.
type DesiredState map[string]int

// State represents an entity state as returned by the HA REST API.
type State struct {
	EntityID    string                 `json:"entity_id"`
	State       string                 `json:"state"`
	Attributes  map[string]interface{} `json:"attributes,omitempty"`
	LastChanged time.Time              `json:"last_changed"`
	LastUpdated time.Time              `json:"last_updated"`
}

// Message is a base WebSocket message to/from Home Assistant.
type Message struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *WSError        `json:"error,omitempty"`
	Event   *Event          `json:"event,omitempty"`
}

// WSError is an error payload inside a WebSocket result message.
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AuthMessage is the WebSocket authentication request.
type AuthMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token,omitempty"`
}

// Event is an event message from Home Assistant.
type Event struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	TimeFired time.Time       `json:"time_fired"`
}

// StateChangedEvent is the payload of a state_changed event.
type StateChangedEvent struct {
	EntityID string `json:"entity_id"`
	NewState *State `json:"new_state"`
	OldState *State `json:"old_state"`
}

// SubscribeEventsRequest is a subscribe_events request.
type SubscribeEventsRequest struct {
	ID        int    `json:"id"`
	Type      string `json:"type"`
	EventType string `json:"event_type,omitempty"`
}
