// Package cursor implements C11, the cursor manager: a process-wide table
// of open result sets for find/aggregate responses that exceed a single
// batch, grounded on the teacher's in-memory session/connection bookkeeping
// style (internal/database/types) but scoped to query result paging rather
// than connection state.
package cursor

import (
	"sync"
	"time"

	"github.com/relaydb/relaydb/internal/mongoerr"
	"github.com/relaydb/relaydb/pkg/document"
)

// State is one open cursor's position within its materialized result set
// (spec §4.10). Results are held in memory for the cursor's lifetime; this
// system does not re-run the query on getMore.
type State struct {
	ID         uint64
	Namespace  string
	Documents  []document.M
	Position   int
	CreatedAt  time.Time
	LastUsedAt time.Time

	inUse bool
}

// HasMore reports whether any documents remain to be returned (spec §8
// invariant: "hasMore is true iff position < len(documents)").
func (s *State) HasMore() bool { return s.Position < len(s.Documents) }

// Manager owns the process-wide cursorId -> State map (spec §4.10, §5
// "Shared resources"). Cursor ids are monotonically increasing and never
// reused within a process.
type Manager struct {
	mu      sync.Mutex
	cursors map[uint64]*State
	nextID  uint64
	ttl     time.Duration
	now     func() time.Time
}

// New builds a Manager with the given cursor expiry TTL. A zero TTL
// defaults to 10 minutes (spec §4.10).
func New(ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Manager{
		cursors: make(map[uint64]*State),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Open registers a freshly materialized result set and returns its new,
// always non-zero cursor id (callers should only call Open when more
// remains after the first batch is served).
func (m *Manager) Open(namespace string, documents []document.M) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	now := m.now()
	m.cursors[id] = &State{
		ID:         id,
		Namespace:  namespace,
		Documents:  documents,
		CreatedAt:  now,
		LastUsedAt: now,
	}
	return id
}

// Advance returns up to count documents starting at the cursor's current
// position, advancing it (spec §4.10 "advance(id, count)"). It enforces the
// single-concurrent-getMore-per-cursor exclusion (spec §5 "Ordering
// guarantees") by rejecting a second concurrent call with CursorInUse.
func (m *Manager) Advance(id uint64, count int64) ([]document.M, bool, error) {
	m.mu.Lock()
	st, ok := m.cursors[id]
	if !ok {
		m.mu.Unlock()
		return nil, false, mongoerr.CursorNotFound(id)
	}
	if st.inUse {
		m.mu.Unlock()
		return nil, false, mongoerr.CursorInUse(id)
	}
	st.inUse = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		st.inUse = false
		m.mu.Unlock()
	}()

	end := st.Position + int(count)
	if end > len(st.Documents) || count <= 0 {
		end = len(st.Documents)
	}
	batch := st.Documents[st.Position:end]
	st.Position = end
	st.LastUsedAt = m.now()

	exhausted := !st.HasMore()
	if exhausted {
		m.mu.Lock()
		delete(m.cursors, id)
		m.mu.Unlock()
	}
	return batch, !exhausted, nil
}

// Close removes a cursor (spec §4.10 "close(id)"), used by killCursors and
// by connection teardown (spec §5 "Cursors are closed on cancellation of
// their owning connection").
func (m *Manager) Close(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cursors, id)
}

// CleanupExpired removes cursors whose last use exceeds the manager's TTL
// (spec §4.10 "cleanupExpired()"). Call on a timer from the server's main
// loop.
func (m *Manager) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	removed := 0
	for id, st := range m.cursors {
		if !st.inUse && now.Sub(st.LastUsedAt) > m.ttl {
			delete(m.cursors, id)
			removed++
		}
	}
	return removed
}

// Count reports the number of currently open cursors, used by
// serverStatus.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cursors)
}
