package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultRedisTTL = 24 * time.Hour

// NewStore creates a Store for the given driver.
// The redis driver requires WithRedisClient; the sqlite driver requires WithSQLitePath.
func NewStore(storeType StoreType, opts ...StoreOption) (Store, error) {
	config := &storeConfig{}
	for _, opt := range opts {
		opt(config)
	}

	switch storeType {
	case StoreTypeMemory:
		return NewMemoryStore(), nil

	case StoreTypeSQLite:
		if config.sqlitePath == "" {
			return nil, fmt.Errorf("%w: sqlite path required", ErrInvalidConfig)
		}
		s, err := NewSQLiteStore(config.sqlitePath)
		if err != nil {
			return nil, err
		}
		return s, nil

	case StoreTypeRedis:
		if config.redisClient == nil {
			return nil, fmt.Errorf("%w: redis client required", ErrInvalidConfig)
		}
		return NewRedisStore(config.redisClient, config.redisTTL), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidStoreType, storeType)
	}
}

// #region memory
// MemoryStore keeps snapshots in a map. Stored values are deep copies.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Snapshot
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Snapshot)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, sessionID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[sessionID].Clone(), nil
}

// Commit implements Store.
func (s *MemoryStore) Commit(_ context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.sessions[snap.SessionID]
	parentID, err := checkVersion(stored, exists, snap.Version)
	if err != nil {
		return err
	}
	advance(snap, parentID)
	s.sessions[snap.SessionID] = snap.Clone()
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]*Snapshot)
	return nil
}

// #endregion memory

// #region versioning
// checkVersion applies the optimistic-locking rule shared by every driver and
// returns the VersionID the next snapshot descends from.
func checkVersion(stored *Snapshot, exists bool, version int64) (string, error) {
	if version == 0 {
		if exists {
			return "", ErrVersionConflict
		}
		return "", nil
	}
	if !exists {
		return "", ErrNotFound
	}
	if stored.Version != version {
		return "", ErrVersionConflict
	}
	return stored.VersionID, nil
}

func advance(snap *Snapshot, parentID string) {
	snap.ParentID = parentID
	snap.VersionID = uuid.New().String()
	snap.Version++
	snap.CreatedAt = time.Now().UTC()
}

// #endregion versioning
