package submission

import (
	"log/slog"
	"sort"
	"sync"
)

// Registry is a bounded in-memory index of sessions by ID
type Registry struct {
	sessions    map[string]*Session
	mu          sync.RWMutex
	maxSessions int // 0 = unlimited
	added       uint64
}

func NewRegistry(maxSessions int) *Registry {
	if maxSessions < 0 {
		maxSessions = 0
	}
	return &Registry{
		sessions:    make(map[string]*Session),
		maxSessions: maxSessions,
	}
}

func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.added++
	s.order = r.added
	r.sessions[s.ID] = s
	r.evictIfNeeded()
}

func (r *Registry) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

func (r *Registry) sortedLocked() []*Session {
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].order < sessions[j].order
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions
}

// evictIfNeeded drops sessions past maxSessions, oldest finished ones first,
// then the oldest still running. Must be called with lock held.
func (r *Registry) evictIfNeeded() {
	if r.maxSessions <= 0 || len(r.sessions) <= r.maxSessions {
		return
	}

	sessions := r.sortedLocked()
	var finished, running []*Session
	for _, s := range sessions {
		if s.isFinished() {
			finished = append(finished, s)
		} else {
			running = append(running, s)
		}
	}

	removeCount := len(sessions) - r.maxSessions
	for _, s := range append(finished, running...)[:removeCount] {
		slog.Debug("evicting old session",
			"session_id", s.ID,
			"created_at", s.CreatedAt,
			"finished", s.isFinished(),
		)
		delete(r.sessions, s.ID)
	}
}
