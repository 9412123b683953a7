package models

import (
    "time"
    
    "github.com/google/uuid"
)

// LogEntry represents one line of the session log
type LogEntry struct {
    ID        uuid.UUID  `json:"id"`
    CreatedAt time.Time  `json:"createdAt"`
    
    Level     EventLevel `json:"level"`
    Message   string     `json:"message"`
    
    Details   Variables  `json:"details,omitempty"`
}

// String renders the entry the way the control panel terminal shows it
func (e LogEntry) String() string {
    return "[" + e.CreatedAt.Format("15:04:05") + "] " + e.Message
}

// EventLevel represents event severity levels
type EventLevel string

const (
    EventLevelDebug   EventLevel = "DEBUG"
    EventLevelInfo    EventLevel = "INFO"
    EventLevelWarning EventLevel = "WARNING"
    EventLevelError   EventLevel = "ERROR"
)

// Notification is an interrupting message the operator must see
type Notification struct {
    ID        uuid.UUID `json:"id"`
    CreatedAt time.Time `json:"createdAt"`
    Message   string    `json:"message"`
}
