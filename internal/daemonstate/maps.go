package daemonstate

import (
	"sync"

	"github.com/xlab/codex-monitor-daemon/internal/catalog"
	"github.com/xlab/codex-monitor-daemon/internal/session"
)

// sessionSafeMap is the mutex-guarded workspace catalog. Despite the name
// it holds *catalog.Entry, not sessions; named for the locking discipline it
// shares with sessionMap, not its contents.
type sessionSafeMap struct {
	mu      sync.Mutex
	entries map[string]*catalog.Entry
}

func (m *sessionSafeMap) init() { m.entries = make(map[string]*catalog.Entry) }

func (m *sessionSafeMap) get(id string) *catalog.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil
	}
	return e.Clone()
}

func (m *sessionSafeMap) put(e *catalog.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.ID] = e.Clone()
}

func (m *sessionSafeMap) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
}

func (m *sessionSafeMap) values() []*catalog.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*catalog.Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Clone())
	}
	return out
}

func (m *sessionSafeMap) childrenOf(parentID string) []*catalog.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*catalog.Entry
	for _, e := range m.entries {
		if e.ParentID == parentID {
			out = append(out, e.Clone())
		}
	}
	return out
}

// sessionMap is the mutex-guarded live-sessions table.
type sessionMap struct {
	mu    sync.Mutex
	items map[string]*session.Session
}

func (m *sessionMap) init() { m.items = make(map[string]*session.Session) }

func (m *sessionMap) has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[id]
	return ok
}

func (m *sessionMap) get(id string) *session.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[id]
}

func (m *sessionMap) put(id string, s *session.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[id] = s
}

func (m *sessionMap) remove(id string) *session.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[id]
	if !ok {
		return nil
	}
	delete(m.items, id)
	return s
}

// settingsBox is the mutex-guarded in-memory copy of AppSettings.
type settingsBox struct {
	mu    sync.Mutex
	value catalog.AppSettings
}

func (b *settingsBox) get() catalog.AppSettings {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value
}

func (b *settingsBox) set(v catalog.AppSettings) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.value = v
}
