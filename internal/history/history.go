// Package history keeps the most recent generated fax documents, newest first.
package history

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Entry struct {
	PrescriberID   uuid.UUID   `json:"prescriber_id"`
	PrescriberName string      `json:"prescriber_name"`
	PatientID      uuid.UUID   `json:"patient_id"`
	OpportunityIDs []uuid.UUID `json:"opportunity_ids"`
	Mode           string      `json:"mode"`
	FileName       string      `json:"file_name"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Log is a fixed-capacity ring. Adding to a full log evicts the oldest entry.
type Log struct {
	mu   sync.Mutex
	buf  []Entry
	next int
	n    int
}

// NewLog returns an empty log. Capacities below one are raised to one.
func NewLog(capacity int) *Log {
	if capacity < 1 {
		capacity = 1
	}
	return &Log{buf: make([]Entry, capacity)}
}

func (l *Log) Cap() int { return len(l.buf) }

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.n
}

func (l *Log) Add(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf[l.next] = e
	l.next = (l.next + 1) % len(l.buf)
	if l.n < len(l.buf) {
		l.n++
	}
}

// Entries returns a copy, most recent first.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, l.n)
	for i := 0; i < l.n; i++ {
		idx := (l.next - 1 - i + len(l.buf)) % len(l.buf)
		out[i] = l.buf[idx]
	}
	return out
}
