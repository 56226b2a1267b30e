package camera

import "sync"

// Manager enforces the single-open-session rule: opening a new session
// through a manager always closes the previous one first, so device
// handles are never leaked across restarts.
type Manager struct {
	mu      sync.Mutex
	current *Session
}

// NewManager creates a manager with no open session.
func NewManager() *Manager {
	return &Manager{}
}

// Open closes any previously open session, then opens the device.
func (m *Manager) Open(deviceID int, cfg Config) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		m.current.Close()
		m.current = nil
	}

	sess, err := Open(deviceID, cfg)
	if err != nil {
		return nil, err
	}
	m.current = sess
	return sess, nil
}

// Current returns the open session, or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Close closes the current session if any. Idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return nil
	}
	err := m.current.Close()
	m.current = nil
	return err
}
