package submission

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/AnTengye/photoinsight/model"
)

// State is the externally observable submission state
type State string

const (
	StateIdle      State = "idle"
	StateUploading State = "uploading"
	StatePolling   State = "polling"
	StateReady     State = "ready"
	StateError     State = "error"
	// StateCancelled ends a superseded or purged session. The controller
	// never publishes it; its snapshot goes back to idle instead.
	StateCancelled State = "cancelled"
)

var (
	// ErrSessionSuperseded ends a session replaced by a newer submission
	ErrSessionSuperseded = errors.New("session superseded")
	// ErrSessionPurged ends a session cleared by Purge
	ErrSessionPurged = errors.New("session purged")
)

// Session binds one asset, its presigned target and its poller
type Session struct {
	ID        string
	Asset     *model.Asset
	Target    model.PresignedTarget
	CreatedAt time.Time

	poller *ResultPoller
	order  uint64 // registry insertion order

	mu        sync.Mutex
	state     State
	result    *model.ResultDocument
	uploadErr error
	err       error
	finished  chan struct{}
}

func newSession(id string, asset *model.Asset, target model.PresignedTarget, now time.Time) *Session {
	return &Session{
		ID:        id,
		Asset:     asset,
		Target:    target,
		CreatedAt: now,
		state:     StateIdle,
		finished:  make(chan struct{}),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Result() *model.ResultDocument {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// UploadErr returns the upload outcome. It is informational only.
func (s *Session) UploadErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploadErr
}

// Err returns why the session ended without a result, if it did
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) Poller() *ResultPoller {
	return s.poller
}

// Done is closed when the session is ready, failed, superseded or purged
func (s *Session) Done() <-chan struct{} {
	return s.finished
}

// Wait blocks until the session finishes or ctx is done
func (s *Session) Wait(ctx context.Context) (*model.ResultDocument, error) {
	select {
	case <-s.finished:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result != nil {
		return s.result, nil
	}
	return nil, s.err
}

func (s *Session) isFinished() bool {
	select {
	case <-s.finished:
		return true
	default:
		return false
	}
}

// advance moves from one state to another, reporting whether it did
func (s *Session) advance(from, to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return false
	}
	s.state = to
	return true
}

func (s *Session) recordUpload(err error) {
	s.mu.Lock()
	s.uploadErr = err
	s.mu.Unlock()
}

// complete stores the result exactly once
func (s *Session) complete(doc *model.ResultDocument) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isFinished() {
		return false
	}
	s.result = doc
	s.state = StateReady
	close(s.finished)
	return true
}

// fail ends the session in the error state
func (s *Session) fail(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isFinished() {
		return false
	}
	s.err = err
	s.state = StateError
	close(s.finished)
	return true
}

// end closes an unfinished session as cancelled
func (s *Session) end(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isFinished() {
		return
	}
	s.err = err
	s.state = StateCancelled
	close(s.finished)
}
