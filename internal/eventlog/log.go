// Package eventlog keeps the operator-facing session log.
package eventlog

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/petal-ejector/petal-controller/internal/models"
)

// Log is an ordered, append-only list of timestamped entries. It grows
// without bound until Clear is called.
type Log struct {
	mu      sync.RWMutex
	entries []models.LogEntry
	now     func() time.Time
}

// New creates an empty log
func New() *Log {
	return &Log{now: time.Now}
}

// NewWithClock creates a log stamping entries with the given clock
func NewWithClock(now func() time.Time) *Log {
	return &Log{now: now}
}

// Append stamps and stores a message
func (l *Log) Append(level models.EventLevel, message string, details models.Variables) models.LogEntry {
	entry := models.LogEntry{
		ID:        uuid.New(),
		Level:     level,
		Message:   message,
		Details:   details.Clone(),
	}

	l.mu.Lock()
	entry.CreatedAt = l.now()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()

	return entry
}

// Entries returns a copy of the log in insertion order
func (l *Log) Entries() []models.LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Since returns the entries created after the entry with the given ID. An
// unknown ID returns the whole log.
func (l *Log) Since(id uuid.UUID) []models.LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].ID == id {
			out := make([]models.LogEntry, len(l.entries)-i-1)
			copy(out, l.entries[i+1:])
			return out
		}
	}
	out := make([]models.LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Clear drops every entry
func (l *Log) Clear() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
}
