package secure

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"syscall"
)

// diagnosticQueue collects the engine's diagnostic messages for one session.
// It mirrors the engine's error queue: protocol-level failures are pushed as
// they occur and drained into the error surfaced to the caller. Plain
// transport errors (syscall failures, timeouts, EOF) never enter the queue;
// the read-retry logic depends on that distinction.
type diagnosticQueue struct {
	mu      sync.Mutex
	entries []string
}

func (q *diagnosticQueue) push(msg string) {
	if msg == "" {
		return
	}
	q.mu.Lock()
	q.entries = append(q.entries, msg)
	q.mu.Unlock()
}

func (q *diagnosticQueue) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries) == 0
}

func (q *diagnosticQueue) clear() {
	q.mu.Lock()
	q.entries = nil
	q.mu.Unlock()
}

// drain removes and returns all queued entries.
func (q *diagnosticQueue) drain() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	entries := q.entries
	q.entries = nil
	return entries
}

// buildMessage drains the queue into a semicolon-joined string. When the
// queue is empty it falls back to the platform error description for cause,
// then to a bare numeric code.
func (q *diagnosticQueue) buildMessage(cause error) string {
	if entries := q.drain(); len(entries) > 0 {
		return strings.Join(entries, "; ")
	}
	var errno syscall.Errno
	if errors.As(cause, &errno) {
		if desc := errno.Error(); desc != "" {
			return desc
		}
		return fmt.Sprintf("error code: %d", int(errno))
	}
	if cause != nil {
		return cause.Error()
	}
	return "error code: 0"
}
