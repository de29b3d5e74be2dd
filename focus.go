package querycache

import (
	"slices"
	"sync"
)

// FocusManager carries the host's focus signal. Observers subscribe to it and
// refetch stale data when focus comes back.
type FocusManager struct {
	mu      sync.Mutex
	focused bool
	next    uint64
	subs    map[uint64]func()
}

// NewFocusManager starts focused.
func NewFocusManager() *FocusManager {
	return &FocusManager{focused: true, subs: make(map[uint64]func())}
}

func (m *FocusManager) Focused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.focused
}

// SetFocused records the host focus state. Going from unfocused to focused
// calls every subscriber, outside the manager lock.
func (m *FocusManager) SetFocused(focused bool) {
	m.mu.Lock()
	resumed := focused && !m.focused
	m.focused = focused
	var fns []func()
	if resumed {
		ids := make([]uint64, 0, len(m.subs))
		for id := range m.subs {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		for _, id := range ids {
			fns = append(fns, m.subs[id])
		}
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Subscribe registers fn for focus resumes. The returned func unregisters it
// and is safe to call more than once.
func (m *FocusManager) Subscribe(fn func()) (unsubscribe func()) {
	m.mu.Lock()
	m.next++
	id := m.next
	m.subs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

func (m *FocusManager) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}
