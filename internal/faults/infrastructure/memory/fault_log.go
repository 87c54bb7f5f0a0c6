package memory

import (
	"context"
	"sync"
	"time"

	faults "nexusgrid/internal/faults/domain"
)

// FaultLog is an in-memory append-only fault log.
type FaultLog struct {
	mu     sync.RWMutex
	events []faults.Event
}

// NewFaultLog constructs an empty log.
func NewFaultLog() *FaultLog {
	return &FaultLog{}
}

// Append stores one fault event.
func (l *FaultLog) Append(_ context.Context, event faults.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

// ListRecent returns a device's events newer than the cutoff, newest first.
func (l *FaultLog) ListRecent(_ context.Context, deviceID string, since time.Time, limit int) ([]faults.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	var result []faults.Event
	for i := len(l.events) - 1; i >= 0 && len(result) < limit; i-- {
		event := l.events[i]
		if event.DeviceID != deviceID || event.At.Before(since) {
			continue
		}
		result = append(result, event)
	}
	return result, nil
}

// Len reports the total number of stored events.
func (l *FaultLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}
