package app

import (
	"context"
	"sync"

	"github.com/dkeye/Space/internal/core"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	Session *core.PeerSession
	Cancel  context.CancelFunc
}

// Registry is the directory of connected sessions by id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
	}
}

// Bind stores sess under sid and returns the entry it replaced, if any.
func (r *Registry) Bind(sid core.SessionID, sess *core.PeerSession, cancel context.CancelFunc) (*core.PeerSession, context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.sessions[sid]
	r.sessions[sid] = &sessionEntry{Session: sess, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("bound session")
	if old == nil {
		return nil, nil
	}
	return old.Session, old.Cancel
}

func (r *Registry) GetSession(sid core.SessionID) (*core.PeerSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Session, true
	}
	return nil, false
}

// Unbind removes sid only while it still points at sess.
func (r *Registry) Unbind(sid core.SessionID, sess *core.PeerSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok || e.Session != sess {
		return false
	}
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
	return true
}

func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}

// Drain empties the directory and returns what it held.
func (r *Registry) Drain() []*core.PeerSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*core.PeerSession, 0, len(r.sessions))
	for sid, e := range r.sessions {
		out = append(out, e.Session)
		if e.Cancel != nil {
			e.Cancel()
		}
		delete(r.sessions, sid)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
