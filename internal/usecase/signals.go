package usecase

import (
	"context"
	"sync"

	"github.com/jayceeit/password-expire/internal/core/domain"
)

// UserEvent is dispatched when a user row is created or about to be saved.
type UserEvent struct {
	User     *domain.User
	Database string
}

// LoginEvent is dispatched after credentials were accepted and a session started.
type LoginEvent struct {
	User     *domain.User
	Database string
	State    *RequestState
}

type (
	UserHandler  func(ctx context.Context, event UserEvent) error
	LoginHandler func(ctx context.Context, event LoginEvent) error
)

type receiver[H any] struct {
	dispatchUID string
	handler     H
}

// Registry holds the subscribers for user lifecycle events. It is built once at
// startup and passed to the services that emit events. Connecting twice with the
// same dispatch UID keeps the first handler.
type Registry struct {
	mu          sync.RWMutex
	userCreated []receiver[UserHandler]
	preSave     []receiver[UserHandler]
	loggedIn    []receiver[LoginHandler]
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) ConnectUserCreated(dispatchUID string, handler UserHandler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ok bool
	r.userCreated, ok = connect(r.userCreated, dispatchUID, handler)
	return ok
}

func (r *Registry) ConnectPreSave(dispatchUID string, handler UserHandler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ok bool
	r.preSave, ok = connect(r.preSave, dispatchUID, handler)
	return ok
}

func (r *Registry) ConnectLoginSucceeded(dispatchUID string, handler LoginHandler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ok bool
	r.loggedIn, ok = connect(r.loggedIn, dispatchUID, handler)
	return ok
}

// EmitUserCreated runs handlers in connection order and stops at the first error.
func (r *Registry) EmitUserCreated(ctx context.Context, event UserEvent) error {
	return emit(ctx, r.snapshotUser(&r.userCreated), func(h UserHandler) error { return h(ctx, event) })
}

func (r *Registry) EmitPreSave(ctx context.Context, event UserEvent) error {
	return emit(ctx, r.snapshotUser(&r.preSave), func(h UserHandler) error { return h(ctx, event) })
}

func (r *Registry) EmitLoginSucceeded(ctx context.Context, event LoginEvent) error {
	r.mu.RLock()
	handlers := append([]receiver[LoginHandler](nil), r.loggedIn...)
	r.mu.RUnlock()
	return emit(ctx, handlers, func(h LoginHandler) error { return h(ctx, event) })
}

func (r *Registry) snapshotUser(list *[]receiver[UserHandler]) []receiver[UserHandler] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]receiver[UserHandler](nil), (*list)...)
}

func connect[H any](list []receiver[H], dispatchUID string, handler H) ([]receiver[H], bool) {
	if dispatchUID != "" {
		for _, existing := range list {
			if existing.dispatchUID == dispatchUID {
				return list, false
			}
		}
	}
	return append(list, receiver[H]{dispatchUID: dispatchUID, handler: handler}), true
}

func emit[H any](ctx context.Context, handlers []receiver[H], call func(H) error) error {
	for _, r := range handlers {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := call(r.handler); err != nil {
			return err
		}
	}
	return nil
}
