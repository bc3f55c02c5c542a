package postgres

import (
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jayceeit/password-expire/internal/core/port"
	"github.com/jayceeit/password-expire/internal/repository"
)

// Repositories groups concrete PostgreSQL repository implementations for one database.
type Repositories struct {
	Users           *UserRepository
	PasswordChanges *PasswordChangeRepository
	ForceChanges    *ForcePasswordChangeRepository
}

// NewRepositories wires all repositories backed by the provided executor.
func NewRepositories(exec pgExecutor) *Repositories {
	return &Repositories{
		Users:           NewUserRepository(exec),
		PasswordChanges: NewPasswordChangeRepository(exec),
		ForceChanges:    NewForcePasswordChangeRepository(exec),
	}
}

// Ports exposes the repositories through their port interfaces.
func (r *Repositories) Ports() port.Stores {
	return port.Stores{
		Users:           r.Users,
		PasswordChanges: r.PasswordChanges,
		ForceChanges:    r.ForceChanges,
	}
}

// Databases resolves repositories by database alias.
type Databases struct {
	repos map[string]*Repositories
}

// NewDatabases wires repositories for every pool keyed by alias.
func NewDatabases(pools map[string]*pgxpool.Pool) *Databases {
	repos := make(map[string]*Repositories, len(pools))
	for alias, pool := range pools {
		repos[alias] = NewRepositories(pool)
	}
	return &Databases{repos: repos}
}

// Stores implements port.StoreResolver.
func (d *Databases) Stores(alias string) (port.Stores, error) {
	repos, ok := d.repos[alias]
	if !ok {
		return port.Stores{}, fmt.Errorf("%w: %q", repository.ErrUnknownDatabase, alias)
	}
	return repos.Ports(), nil
}

// Aliases lists the configured aliases in a stable order.
func (d *Databases) Aliases() []string {
	aliases := make([]string, 0, len(d.repos))
	for alias := range d.repos {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	return aliases
}

var _ port.StoreResolver = (*Databases)(nil)
