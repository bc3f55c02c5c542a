// Package memory holds map backed repositories for tests that need a full
// port.StoreResolver without PostgreSQL. Only _test.go files import it.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jayceeit/password-expire/internal/core/domain"
	"github.com/jayceeit/password-expire/internal/core/port"
	"github.com/jayceeit/password-expire/internal/repository"
)

// Database is one in-memory user database.
type Database struct {
	mu      sync.RWMutex
	nextID  int64
	users   map[int64]domain.User
	changes map[int64]time.Time
	markers map[int64]struct{}
}

// NewDatabase starts primary keys after firstID so two databases never share ids.
func NewDatabase(firstID int64) *Database {
	return &Database{
		nextID:  firstID,
		users:   make(map[int64]domain.User),
		changes: make(map[int64]time.Time),
		markers: make(map[int64]struct{}),
	}
}

func (d *Database) Stores() port.Stores {
	return port.Stores{
		Users:           userRepo{d},
		PasswordChanges: changeRepo{d},
		ForceChanges:    forceRepo{d},
	}
}

// LastChanged exposes the stored history for assertions.
func (d *Database) LastChanged(userID int64) (time.Time, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	at, ok := d.changes[userID]
	return at, ok
}

func (d *Database) HasMarker(userID int64) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.markers[userID]
	return ok
}

type userRepo struct{ d *Database }

func (r userRepo) Create(_ context.Context, user *domain.User) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	for _, existing := range r.d.users {
		if existing.Username == user.Username || existing.UUID == user.UUID {
			return repository.ErrConflict
		}
	}
	r.d.nextID++
	user.ID = r.d.nextID
	stored := *user
	stored.ClearPasswordPending()
	r.d.users[user.ID] = stored
	return nil
}

func (r userRepo) GetByID(_ context.Context, id int64) (*domain.User, error) {
	return r.find(func(u domain.User) bool { return u.ID == id })
}

func (r userRepo) GetByUUID(_ context.Context, uuid string) (*domain.User, error) {
	return r.find(func(u domain.User) bool { return u.UUID == uuid })
}

func (r userRepo) GetByUsername(_ context.Context, username string) (*domain.User, error) {
	return r.find(func(u domain.User) bool { return u.Username == username })
}

func (r userRepo) find(match func(domain.User) bool) (*domain.User, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	for _, u := range r.d.users {
		if match(u) {
			found := u
			return &found, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r userRepo) Update(_ context.Context, user domain.User) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if _, ok := r.d.users[user.ID]; !ok {
		return repository.ErrNotFound
	}
	user.ClearPasswordPending()
	r.d.users[user.ID] = user
	return nil
}

type changeRepo struct{ d *Database }

func (r changeRepo) Get(_ context.Context, userID int64) (*domain.PasswordChange, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	at, ok := r.d.changes[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &domain.PasswordChange{UserID: userID, LastChanged: at}, nil
}

func (r changeRepo) Create(_ context.Context, record domain.PasswordChange) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if _, ok := r.d.changes[record.UserID]; ok {
		return repository.ErrConflict
	}
	r.d.changes[record.UserID] = record.LastChanged
	return nil
}

func (r changeRepo) Upsert(_ context.Context, record domain.PasswordChange) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	r.d.changes[record.UserID] = record.LastChanged
	return nil
}

type forceRepo struct{ d *Database }

func (r forceRepo) Exists(_ context.Context, userID int64) (bool, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	_, ok := r.d.markers[userID]
	return ok, nil
}

func (r forceRepo) Create(_ context.Context, userID int64) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	r.d.markers[userID] = struct{}{}
	return nil
}

func (r forceRepo) Delete(_ context.Context, userID int64) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	delete(r.d.markers, userID)
	return nil
}

// Databases resolves in-memory databases by alias.
type Databases struct {
	dbs map[string]*Database
}

// NewDatabases creates one database per alias. Aliases are sorted and each gets
// its own block of primary keys.
func NewDatabases(aliases ...string) *Databases {
	sorted := append([]string(nil), aliases...)
	sort.Strings(sorted)
	dbs := make(map[string]*Database, len(sorted))
	for i, alias := range sorted {
		dbs[alias] = NewDatabase(int64(i) * 1000)
	}
	return &Databases{dbs: dbs}
}

func (d *Databases) Database(alias string) *Database {
	return d.dbs[alias]
}

func (d *Databases) Stores(alias string) (port.Stores, error) {
	db, ok := d.dbs[alias]
	if !ok {
		return port.Stores{}, fmt.Errorf("%w: %q", repository.ErrUnknownDatabase, alias)
	}
	return db.Stores(), nil
}

var _ port.StoreResolver = (*Databases)(nil)
