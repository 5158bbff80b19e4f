package state

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/danielpatrickdp/tone-stabilizer/internal/tone"
)

// #region errors
var (
	// ErrNotFound is returned when committing against a session that does not exist.
	ErrNotFound = errors.New("session not found")
	// ErrVersionConflict is returned when the caller's snapshot is stale.
	ErrVersionConflict = errors.New("session version conflict")
	// ErrInvalidConfig is returned when a driver is missing a required option.
	ErrInvalidConfig = errors.New("invalid store configuration")
	// ErrInvalidStoreType is returned by NewStore for an unknown driver name.
	ErrInvalidStoreType = errors.New("invalid store type")
)

// #endregion errors

// #region snapshot
// Snapshot is one committed version of a session's tone state.
type Snapshot struct {
	SessionID string            `json:"session_id"`
	VersionID string            `json:"version_id"`
	ParentID  string            `json:"parent_id,omitempty"`
	Version   int64             `json:"version"` // monotonically increasing, for optimistic locking
	State     tone.SessionState `json:"state"`
	CreatedAt time.Time         `json:"created_at"`
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	c := *s
	c.State = s.State.Clone()
	return &c
}

// #endregion snapshot

// #region store-interface
// Store persists session snapshots.
type Store interface {
	// Get returns the active snapshot for a session, or nil if the session
	// does not exist (not an error).
	Get(ctx context.Context, sessionID string) (*Snapshot, error)

	// Commit persists snap.State as the next version. A Version of 0 creates
	// the session. Otherwise Version must match the stored version.
	// On success snap gets a fresh VersionID, its ParentID is set to the
	// previous VersionID and Version is incremented.
	Commit(ctx context.Context, snap *Snapshot) error

	// Delete removes a session. Deleting an absent session is not an error.
	Delete(ctx context.Context, sessionID string) error

	// Close releases the store's resources.
	Close() error
}

// #endregion store-interface

// #region options
// StoreType names a storage driver.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeSQLite StoreType = "sqlite"
	StoreTypeRedis  StoreType = "redis"
)

// StoreOption configures NewStore.
type StoreOption func(*storeConfig)

type storeConfig struct {
	redisClient *redis.Client
	redisTTL    time.Duration
	sqlitePath  string
}

// WithRedisClient sets the client used by the redis driver.
func WithRedisClient(client *redis.Client) StoreOption {
	return func(c *storeConfig) { c.redisClient = client }
}

// WithRedisTTL sets the expiry of session keys. Defaults to 24h.
func WithRedisTTL(ttl time.Duration) StoreOption {
	return func(c *storeConfig) { c.redisTTL = ttl }
}

// WithSQLitePath sets the database file used by the sqlite driver.
func WithSQLitePath(path string) StoreOption {
	return func(c *storeConfig) { c.sqlitePath = path }
}

// #endregion options
