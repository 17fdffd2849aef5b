// Package events provides server event notifications for monitoring.
package events

import "time"

// EventType represents the type of event
type EventType string

const (
	// EventClientConnected is emitted after a connection is registered
	EventClientConnected EventType = "client_connected"
	// EventClientDisconnected is emitted after a connection is removed
	EventClientDisconnected EventType = "client_disconnected"
	// EventVariableSaved is emitted when save creates a new variable
	EventVariableSaved EventType = "variable_saved"
	// EventVariableModified is emitted when save overwrites a variable
	EventVariableModified EventType = "variable_modified"
	// EventVariablesCleared is emitted when clear empties the table
	EventVariablesCleared EventType = "variables_cleared"
	// EventProtocolError is emitted for a rejected request line
	EventProtocolError EventType = "protocol_error"
	// EventCapacityExceeded is emitted when save hits the table ceiling
	EventCapacityExceeded EventType = "capacity_exceeded"
)

// Event is one server occurrence tied to a connection.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	ConnID    string    `json:"conn_id,omitempty"`
	Data      EventData `json:"data,omitempty"`
}

// EventData holds the event-specific fields.
type EventData struct {
	Remote  string `json:"remote,omitempty"`
	Client  string `json:"client,omitempty"`
	Name    string `json:"name,omitempty"`
	Value   string `json:"value,omitempty"`
	Removed int    `json:"removed,omitempty"`
	Error   string `json:"error,omitempty"`
}

func newEvent(t EventType, connID string, data EventData) Event {
	return Event{
		Type:      t,
		Timestamp: time.Now(),
		ConnID:    connID,
		Data:      data,
	}
}

// NewClientConnectedEvent creates a connect event
func NewClientConnectedEvent(connID, remote string) Event {
	return newEvent(EventClientConnected, connID, EventData{Remote: remote})
}

// NewClientDisconnectedEvent creates a disconnect event
func NewClientDisconnectedEvent(connID, remote string) Event {
	return newEvent(EventClientDisconnected, connID, EventData{Remote: remote})
}

// NewVariableSetEvent creates a saved or modified event depending on created
func NewVariableSetEvent(connID, client, name, value string, created bool) Event {
	t := EventVariableModified
	if created {
		t = EventVariableSaved
	}
	return newEvent(t, connID, EventData{Client: client, Name: name, Value: value})
}

// NewVariablesClearedEvent creates a clear event
func NewVariablesClearedEvent(connID, client string, removed int) Event {
	return newEvent(EventVariablesCleared, connID, EventData{Client: client, Removed: removed})
}

// NewProtocolErrorEvent creates a protocol error event
func NewProtocolErrorEvent(connID string, err error) Event {
	return newEvent(EventProtocolError, connID, EventData{Error: errString(err)})
}

// NewCapacityExceededEvent creates a capacity event for a rejected save
func NewCapacityExceededEvent(connID, client, name string, err error) Event {
	return newEvent(EventCapacityExceeded, connID, EventData{Client: client, Name: name, Error: errString(err)})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
