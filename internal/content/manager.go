package content

import (
	"errors"
	"io/fs"
	"sync/atomic"
	"time"
)

var ErrNoSnapshot = errors.New("content: no active snapshot")

type Manager struct {
	active atomic.Pointer[Snapshot]
	seq    atomic.Uint64
}

func NewManager() *Manager { return &Manager{} }

// Set makes a copy of s the active snapshot.
func (m *Manager) Set(s Snapshot) {
	cp := s
	if cp.LoadedAt.IsZero() {
		cp.LoadedAt = time.Now().UTC()
	}
	cp.generation = m.seq.Add(1)
	m.active.Store(&cp)
}

func (m *Manager) Get() (*Snapshot, bool) {
	s := m.active.Load()
	return s, s != nil && s.FS != nil
}

// ContentFS hands the active tree to the page renderer.
func (m *Manager) ContentFS() (fs.FS, bool) {
	s, ok := m.Get()
	if !ok {
		return nil, false
	}
	return s.FS, true
}

// ContentSnapshot is ContentFS plus the generation of the active snapshot.
// Every Set starts a new generation.
func (m *Manager) ContentSnapshot() (fs.FS, uint64, bool) {
	s, ok := m.Get()
	if !ok {
		return nil, 0, false
	}
	return s.FS, s.generation, true
}

// ContentVersion and ContentSource feed the X-Content-* response headers.
func (m *Manager) ContentVersion() string {
	if s := m.active.Load(); s != nil {
		return s.Meta.Version
	}
	return ""
}

func (m *Manager) ContentSource() string {
	if s := m.active.Load(); s != nil {
		return string(s.Meta.Source)
	}
	return string(SourceUnknown)
}

func (m *Manager) LoadedAt() time.Time {
	if s := m.active.Load(); s != nil {
		return s.LoadedAt
	}
	return time.Time{}
}

// ReadyErr fails readiness until a snapshot is active.
func (m *Manager) ReadyErr() error {
	if _, ok := m.Get(); !ok {
		return ErrNoSnapshot
	}
	return nil
}
