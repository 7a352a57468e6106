package chat

import (
	"sync"
)

// Registry holds the live feature chat session per project. A project can
// have at most one active session; starting a new one evicts and closes the
// previous session.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	cfg      Config
}

// NewRegistry creates an empty session registry
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		cfg:      cfg,
	}
}

// Get returns the active session for a project, or nil
func (r *Registry) Get(project string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[project]
}

// Create registers a fresh session for a project, replacing any existing
// one. The evicted session is closed outside the lock.
func (r *Registry) Create(project, projectDir string) *Session {
	session := NewSession(project, projectDir, r.cfg)

	r.mu.Lock()
	old := r.sessions[project]
	r.sessions[project] = session
	r.mu.Unlock()

	if old != nil {
		logger.Info().Str("project", project).Str("sessionId", old.ID).Msg("replacing existing feature chat session")
		go old.Close()
	}

	return session
}

// Remove drops and closes the project's session if one exists. It reports
// whether a session was removed.
func (r *Registry) Remove(project string) bool {
	r.mu.Lock()
	session := r.sessions[project]
	delete(r.sessions, project)
	r.mu.Unlock()

	if session == nil {
		return false
	}
	session.Close()
	return true
}

// CloseAll closes every live session. Called during server shutdown so
// agent subprocesses terminate before the process exits.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	if len(sessions) > 0 {
		logger.Info().Int("count", len(sessions)).Msg("closed all feature chat sessions")
	}
}
