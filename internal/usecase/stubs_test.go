package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jayceeit/password-expire/internal/core/domain"
	"github.com/jayceeit/password-expire/internal/core/port"
	"github.com/jayceeit/password-expire/internal/repository"
)

type memoryUserRepo struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]domain.User
	getErr error
}

func newMemoryUserRepo(startID int64) *memoryUserRepo {
	return &memoryUserRepo{nextID: startID, users: make(map[int64]domain.User)}
}

func (m *memoryUserRepo) add(user domain.User) *domain.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user.ID == 0 {
		m.nextID++
		user.ID = m.nextID
	}
	m.users[user.ID] = user
	return &user
}

func (m *memoryUserRepo) Create(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Username == user.Username || existing.UUID == user.UUID {
			return repository.ErrConflict
		}
	}
	m.nextID++
	user.ID = m.nextID
	stored := *user
	stored.ClearPasswordPending()
	m.users[user.ID] = stored
	return nil
}

func (m *memoryUserRepo) GetByID(_ context.Context, id int64) (*domain.User, error) {
	return m.find(func(u domain.User) bool { return u.ID == id })
}

func (m *memoryUserRepo) GetByUUID(_ context.Context, uuid string) (*domain.User, error) {
	return m.find(func(u domain.User) bool { return u.UUID == uuid })
}

func (m *memoryUserRepo) GetByUsername(_ context.Context, username string) (*domain.User, error) {
	return m.find(func(u domain.User) bool { return u.Username == username })
}

func (m *memoryUserRepo) find(match func(domain.User) bool) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	for _, u := range m.users {
		if match(u) {
			copied := u
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memoryUserRepo) Update(_ context.Context, user domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; !ok {
		return repository.ErrNotFound
	}
	user.ClearPasswordPending()
	m.users[user.ID] = user
	return nil
}

type memoryPasswordChangeRepo struct {
	mu        sync.Mutex
	records   map[int64]time.Time
	getErr    error
	upsertErr error
}

func newMemoryPasswordChangeRepo() *memoryPasswordChangeRepo {
	return &memoryPasswordChangeRepo{records: make(map[int64]time.Time)}
}

func (m *memoryPasswordChangeRepo) Get(_ context.Context, userID int64) (*domain.PasswordChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	at, ok := m.records[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &domain.PasswordChange{UserID: userID, LastChanged: at}, nil
}

func (m *memoryPasswordChangeRepo) Create(_ context.Context, record domain.PasswordChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[record.UserID]; ok {
		return repository.ErrConflict
	}
	m.records[record.UserID] = record.LastChanged
	return nil
}

func (m *memoryPasswordChangeRepo) Upsert(_ context.Context, record domain.PasswordChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.records[record.UserID] = record.LastChanged
	return nil
}

func (m *memoryPasswordChangeRepo) lastChanged(userID int64) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.records[userID]
	return at, ok
}

type memoryForceRepo struct {
	mu      sync.Mutex
	markers map[int64]bool
}

func newMemoryForceRepo() *memoryForceRepo {
	return &memoryForceRepo{markers: make(map[int64]bool)}
}

func (m *memoryForceRepo) Exists(_ context.Context, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markers[userID], nil
}

func (m *memoryForceRepo) Create(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markers[userID] = true
	return nil
}

func (m *memoryForceRepo) Delete(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.markers, userID)
	return nil
}

func (m *memoryForceRepo) has(userID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markers[userID]
}

type memoryDatabase struct {
	users   *memoryUserRepo
	changes *memoryPasswordChangeRepo
	force   *memoryForceRepo
}

func (d *memoryDatabase) stores() port.Stores {
	return port.Stores{Users: d.users, PasswordChanges: d.changes, ForceChanges: d.force}
}

type memoryResolver map[string]*memoryDatabase

// newMemoryResolver builds databases whose user IDs start at different offsets so
// primary keys never line up across databases.
func newMemoryResolver(aliases ...string) memoryResolver {
	resolver := make(memoryResolver, len(aliases))
	for i, alias := range aliases {
		resolver[alias] = &memoryDatabase{
			users:   newMemoryUserRepo(int64(i * 100)),
			changes: newMemoryPasswordChangeRepo(),
			force:   newMemoryForceRepo(),
		}
	}
	return resolver
}

func (r memoryResolver) Stores(alias string) (port.Stores, error) {
	db, ok := r[alias]
	if !ok {
		return port.Stores{}, fmt.Errorf("%w: %q", repository.ErrUnknownDatabase, alias)
	}
	return db.stores(), nil
}

type memorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
	deleted  []string
}

func newMemorySessionStore() *memorySessionStore {
	return &memorySessionStore{sessions: make(map[string]domain.Session)}
}

func (m *memorySessionStore) Create(_ context.Context, session domain.Session, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = session
	return nil
}

func (m *memorySessionStore) Get(_ context.Context, id string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &session, nil
}

func (m *memorySessionStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	m.deleted = append(m.deleted, id)
	return nil
}

type memoryMessageStore struct {
	mu       sync.Mutex
	messages map[string][]domain.Message
	peeks    int
}

func newMemoryMessageStore() *memoryMessageStore {
	return &memoryMessageStore{messages: make(map[string][]domain.Message)}
}

func (m *memoryMessageStore) Peek(_ context.Context, key string) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peeks++
	return append([]domain.Message(nil), m.messages[key]...), nil
}

func (m *memoryMessageStore) Append(_ context.Context, key string, messages []domain.Message, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[key] = append(m.messages[key], messages...)
	return nil
}

func (m *memoryMessageStore) Pop(_ context.Context, key string) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	messages := m.messages[key]
	delete(m.messages, key)
	return messages, nil
}

type memoryResetTokens struct {
	mu     sync.Mutex
	tokens map[string]string
}

func newMemoryResetTokens() *memoryResetTokens {
	return &memoryResetTokens{tokens: make(map[string]string)}
}

func (m *memoryResetTokens) Save(_ context.Context, hash, userUUID string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[hash] = userUUID
	return nil
}

func (m *memoryResetTokens) Lookup(_ context.Context, hash string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	userUUID, ok := m.tokens[hash]
	if !ok {
		return "", repository.ErrNotFound
	}
	return userUUID, nil
}

func (m *memoryResetTokens) Consume(_ context.Context, hash string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	userUUID, ok := m.tokens[hash]
	if !ok {
		return "", repository.ErrNotFound
	}
	delete(m.tokens, hash)
	return userUUID, nil
}

type recordingPublisher struct {
	mu            sync.Mutex
	changed       []domain.PasswordChangedEvent
	expiredLogins []domain.ExpiredLoginEvent
	resets        []domain.PasswordResetRequestedEvent
}

func (p *recordingPublisher) PublishPasswordChanged(_ context.Context, event domain.PasswordChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changed = append(p.changed, event)
	return nil
}

func (p *recordingPublisher) PublishExpiredLogin(_ context.Context, event domain.ExpiredLoginEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expiredLogins = append(p.expiredLogins, event)
	return nil
}

func (p *recordingPublisher) PublishPasswordResetRequested(_ context.Context, event domain.PasswordResetRequestedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets = append(p.resets, event)
	return nil
}

// plainHasher stores passwords as "plain:<password>" to keep tests fast.
type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) {
	return "plain:" + password, nil
}

func (plainHasher) Verify(password, encoded string) (bool, error) {
	if !strings.HasPrefix(encoded, "plain:") {
		return false, errors.New("unexpected hash format")
	}
	return encoded == "plain:"+password, nil
}

type minLengthPolicy int

func (p minLengthPolicy) Validate(password string, _ domain.PasswordContext) error {
	if len(password) < int(p) {
		return fmt.Errorf("password must be at least %d characters", int(p))
	}
	return nil
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}
