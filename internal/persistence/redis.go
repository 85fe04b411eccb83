// Package persistence implements the optional state persistence adapter:
// snapshot/restore of per-tag coordinator state keyed by tag id, backed by
// Redis (spec.md §4.4).
package persistence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/virtual-origami/pypersonnelloc/internal/localization"
	"github.com/virtual-origami/pypersonnelloc/internal/obslog"
)

// Config addresses the Redis server backing persistence. It mirrors
// in_mem_db.server.{address,port} / in_mem_db.credentials.password from
// spec.md §6, name for name.
type Config struct {
	Address  string
	Port     int
	Password string
}

// Store is the opaque key/value collaborator spec.md §4.4 describes:
// get(key) -> value|absent and set(key, value), specialized to coordinator
// snapshots serialized as JSON and keyed by "personnel_<id>".
type Store struct {
	client *redis.Client
}

// Open connects to the configured Redis server. The returned cleanup func
// closes the connection and should be deferred by the caller, matching the
// teacher's buildStorage() (T, func()) scoped-acquisition convention.
func Open(cfg Config) (*Store, func(), error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Password: cfg.Password,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, func() {}, obslog.NewConfigError("failed to connect to persistence store", err)
	}
	store := &Store{client: client}
	return store, func() { _ = client.Close() }, nil
}

func key(tagID string) string {
	return "personnel_" + tagID
}

// Get returns the persisted snapshot for a tag, or ErrPersistenceMissing if
// none exists (spec.md §4.4: the caller skips the step entirely on absence).
func (s *Store) Get(ctx context.Context, tagID string) (localization.Snapshot, error) {
	raw, err := s.client.Get(ctx, key(tagID)).Bytes()
	if err == redis.Nil {
		return localization.Snapshot{}, obslog.NewPersistenceMissing(fmt.Sprintf("no persisted state for tag %q", tagID))
	}
	if err != nil {
		return localization.Snapshot{}, obslog.NewTransportError("persistence get failed", err)
	}

	var snap localization.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return localization.Snapshot{}, obslog.NewInvalidInput("persisted snapshot is not valid JSON", err)
	}
	return snap, nil
}

// Set persists a coordinator snapshot under the tag's key, overwriting any
// prior value (last-writer-wins, per spec.md §5).
func (s *Store) Set(ctx context.Context, tagID string, snap localization.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return obslog.NewInvalidInput("snapshot failed to serialize", err)
	}
	if err := s.client.Set(ctx, key(tagID), raw, 0).Err(); err != nil {
		return obslog.NewTransportError("persistence set failed", err)
	}
	return nil
}
