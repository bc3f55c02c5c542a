package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jayceeit/password-expire/internal/core/domain"
	"github.com/jayceeit/password-expire/internal/core/port"
	"github.com/jayceeit/password-expire/internal/infra/config"
	"github.com/jayceeit/password-expire/internal/infra/telemetry"
	"github.com/jayceeit/password-expire/internal/repository"
)

// SiblingFunc applies one write to a sibling database. user is the sibling's own
// row for the person, so its ID is local to that database.
type SiblingFunc func(ctx context.Context, alias string, stores port.Stores, user *domain.User) error

// Replicator repeats writes against the databases of the other configured
// websites. Rows are matched by user UUID. Sibling writes are best effort: they
// run in website order after the local write, the first failure stops the
// remaining siblings and nothing already written is rolled back.
type Replicator struct {
	stores  port.StoreResolver
	website config.WebsiteSettings
	logger  *zap.Logger
	metrics *telemetry.PolicyMetrics
}

func NewReplicator(stores port.StoreResolver, website config.WebsiteSettings, logger *zap.Logger) *Replicator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Replicator{stores: stores, website: website, logger: logger}
}

func (r *Replicator) WithMetrics(metrics *telemetry.PolicyMetrics) {
	r.metrics = metrics
}

// Siblings lists the database aliases of every website except the current one,
// skipping current and duplicates.
func (r *Replicator) Siblings(current string) []string {
	seen := map[string]struct{}{current: {}}
	aliases := make([]string, 0, len(r.website.Choices))
	for _, site := range r.website.Choices {
		if site == r.website.Current {
			continue
		}
		alias := r.website.Databases[site]
		if alias == "" {
			continue
		}
		if _, ok := seen[alias]; ok {
			continue
		}
		seen[alias] = struct{}{}
		aliases = append(aliases, alias)
	}
	return aliases
}

// Each calls fn for every sibling database holding a user with userUUID.
// Siblings without that user are skipped.
func (r *Replicator) Each(ctx context.Context, handler, current, userUUID string, fn SiblingFunc) error {
	if userUUID == "" {
		return nil
	}

	for _, alias := range r.Siblings(current) {
		stores, err := r.stores.Stores(alias)
		if err != nil {
			r.metrics.ReplicationFailed()
			return fmt.Errorf("%s: resolve %q: %w", handler, alias, err)
		}

		user, err := stores.Users.GetByUUID(ctx, userUUID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				r.logger.Debug("sibling database has no matching user",
					zap.String("handler", handler),
					zap.String("database", alias),
					zap.String("user_uuid", userUUID),
				)
				r.metrics.Replication(handler, "skipped")
				continue
			}
			r.metrics.ReplicationFailed()
			return fmt.Errorf("%s: lookup user in %q: %w", handler, alias, err)
		}

		if err := fn(ctx, alias, stores, user); err != nil {
			r.metrics.ReplicationFailed()
			r.logger.Warn("sibling write failed; earlier databases keep their changes",
				zap.String("handler", handler),
				zap.String("database", alias),
				zap.String("user_uuid", userUUID),
				zap.Error(err),
			)
			return fmt.Errorf("%s: write to %q: %w", handler, alias, err)
		}
		r.metrics.Replication(handler, "applied")
	}
	return nil
}
