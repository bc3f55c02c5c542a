package usecase

import "github.com/jayceeit/password-expire/internal/core/domain"

// RequestState carries per-request authentication state and the flags the login
// handler leaves for the expiration middleware.
type RequestState struct {
	Database  string
	SessionID string
	User      *domain.User
	ClientKey string

	RedirectToPasswordChange bool
	ExpiredUser              *domain.User
	LoggedOut                bool

	messages *MessageQueue
}

func NewRequestState(database, clientKey string, messages *MessageQueue) *RequestState {
	return &RequestState{Database: database, ClientKey: clientKey, messages: messages}
}

func (s *RequestState) Authenticated() bool {
	return s != nil && s.User != nil
}

// Messages returns the flash queue for this request. A state built without one
// gets an in-memory queue that is never persisted.
func (s *RequestState) Messages() *MessageQueue {
	if s.messages == nil {
		s.messages = &MessageQueue{}
	}
	return s.messages
}

// FlagPasswordChange records that user must be sent to the password change flow.
// It returns false when the request was already flagged.
func (s *RequestState) FlagPasswordChange(user *domain.User) bool {
	if s.RedirectToPasswordChange {
		return false
	}
	s.RedirectToPasswordChange = true
	s.ExpiredUser = user
	return true
}
