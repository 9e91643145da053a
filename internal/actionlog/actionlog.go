// Package actionlog keeps a bounded, append-only record of executed commands.
package actionlog

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/voicecart/internal/policy"
)

const DefaultSize = 50

// Entry is one executed (or attempted) command.
type Entry struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description"`
	Success     bool      `json:"success"`
	Label       string    `json:"label,omitempty"`
}

// Log is a fixed-size ring buffer; the oldest entry is overwritten first.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	filled  bool
	now     func() time.Time
}

func New(size int) *Log {
	if size <= 0 {
		size = DefaultSize
	}
	return &Log{entries: make([]Entry, size), now: time.Now}
}

// Append records an entry. The description is PII-redacted before storage.
func (l *Log) Append(label, description string, success bool) Entry {
	e := Entry{
		ID:          uuid.NewString(),
		Timestamp:   l.now().UTC(),
		Description: policy.Redact(description),
		Success:     success,
		Label:       label,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[l.next] = e
	l.next++
	if l.next == len(l.entries) {
		l.next = 0
		l.filled = true
	}
	return e
}

// Entries returns the retained entries, oldest first.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.filled {
		out := make([]Entry, l.next)
		copy(out, l.entries[:l.next])
		return out
	}
	out := make([]Entry, 0, len(l.entries))
	out = append(out, l.entries[l.next:]...)
	return append(out, l.entries[:l.next]...)
}

// Recent returns up to n of the newest entries, newest first.
func (l *Log) Recent(n int) []Entry {
	all := l.Entries()
	if n <= 0 || n > len(all) {
		n = len(all)
	}
	out := make([]Entry, 0, n)
	for i := len(all) - 1; i >= len(all)-n; i-- {
		out = append(out, all[i])
	}
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.filled {
		return len(l.entries)
	}
	return l.next
}

func (l *Log) Cap() int { return len(l.entries) }
