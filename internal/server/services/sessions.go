package services

import "sync"

// Session is the per-chat conversational state that is not worth
// persisting: which sentence the next voice message belongs to and
// whether a logout or account deletion waits for confirmation.
type Session struct {
	// SelectedPosition is 0 when nothing is selected.
	SelectedPosition int
	ConfirmLogout    bool
	ConfirmDelete    bool
}

type Sessions struct {
	mu sync.Mutex
	m  map[string]*Session
}

func NewSessions() *Sessions {
	return &Sessions{m: make(map[string]*Session)}
}

// Get returns a copy of the chat's session.
func (s *Sessions) Get(chatID string) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[chatID]
	if !ok {
		return Session{}
	}
	return *sess
}

// Update applies fn to the chat's session, creating it if needed.
func (s *Sessions) Update(chatID string, fn func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[chatID]
	if !ok {
		sess = &Session{}
		s.m[chatID] = sess
	}
	fn(sess)
}

func (s *Sessions) Drop(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, chatID)
}
