package session

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/telnet-web-access/backend/internal/recording"
	"github.com/telnet-web-access/backend/internal/telnet"
)

// entry is a live session together with its subscribers.
type entry struct {
	key       string
	recordID  string
	owner     string // client id in per-client mode
	createdAt time.Time
	session   *telnet.Session
	logger    *slog.Logger

	// recorder and filter are only used from the read loop and onClose.
	recorder *recording.Recorder
	filter   *telnet.Filter

	mu       sync.RWMutex
	members  map[string]struct{}
	lastLeft time.Time
	closed   bool
}

// addMember subscribes a client. It fails once the session has ended.
func (e *entry) addMember(clientID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return false
	}
	e.members[clientID] = struct{}{}
	return true
}

// removeMember unsubscribes a client and returns how many remain.
func (e *entry) removeMember(clientID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.members, clientID)
	if len(e.members) == 0 {
		e.lastLeft = time.Now()
	}
	return len(e.members)
}

// idleSince reports when the last member left, if there are none now.
func (e *entry) idleSince() (time.Time, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(e.members) > 0 || e.closed {
		return time.Time{}, false
	}
	return e.lastLeft, true
}

func (e *entry) memberIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := make([]string, 0, len(e.members))
	for id := range e.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// close marks the entry ended and returns the members it had.
func (e *entry) close() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closed = true
	ids := make([]string, 0, len(e.members))
	for id := range e.members {
		ids = append(ids, id)
	}
	e.members = make(map[string]struct{})
	return ids
}

// write sends translated key bytes to the remote host.
func (e *entry) write(data []byte) {
	if len(data) == 0 {
		return
	}
	e.session.Write(data)
	if e.recorder != nil {
		if err := e.recorder.Input(data); err != nil {
			e.logger.Debug("failed to record input", "session", e.recordID, "error", err)
		}
	}
}
