package idempotency

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// MemoryStore implements Store on an in-process concurrent map. It backs
// local runs and tests; every mutation goes through the map's per-key Compute
// so the same exactly-one-winner guarantee holds as with conditional writes.
type MemoryStore struct {
	records *xsync.MapOf[string, Record]
	nowFunc func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: xsync.NewMapOf[string, Record](),
		nowFunc: time.Now,
	}
}

func (s *MemoryStore) PutIfAbsent(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	now := s.nowFunc()
	var token string
	s.records.Compute(key, func(old Record, loaded bool) (Record, bool) {
		if loaded && !old.Expired(now) {
			return old, false
		}
		token = uuid.NewString()
		return Record{
			Key:       key,
			State:     StateInProgress,
			Token:     token,
			CreatedAt: now,
			UpdatedAt: now,
			ExpiresAt: now.Add(ttl).Unix(),
		}, false
	})
	return token, token != "", nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Record, error) {
	rec, ok := s.records.Load(key)
	if !ok || rec.Expired(s.nowFunc()) {
		return nil, nil
	}
	return &rec, nil
}

func (s *MemoryStore) Complete(_ context.Context, key, token string, result Result, ttl time.Duration) error {
	now := s.nowFunc()
	var err error
	s.records.Compute(key, func(old Record, loaded bool) (Record, bool) {
		if !loaded || old.Expired(now) || old.State != StateInProgress || old.Token != token {
			err = ErrAlreadyCompleted
			return old, !loaded
		}
		old.State = StateCompleted
		old.Result = result
		old.UpdatedAt = now
		old.ExpiresAt = now.Add(ttl).Unix()
		return old, false
	})
	return err
}

func (s *MemoryStore) Abandon(_ context.Context, key, token string) error {
	now := s.nowFunc()
	var err error
	s.records.Compute(key, func(old Record, loaded bool) (Record, bool) {
		if !loaded || old.Expired(now) || old.State != StateInProgress || old.Token != token {
			err = ErrAlreadyCompleted
			return old, !loaded
		}
		return old, true // delete
	})
	return err
}

// Sweep removes expired records. The stores treat expired entries as absent
// regardless; this just reclaims memory on long-lived local processes.
func (s *MemoryStore) Sweep() int {
	now := s.nowFunc()
	removed := 0
	s.records.Range(func(key string, rec Record) bool {
		if rec.Expired(now) {
			s.records.Compute(key, func(old Record, loaded bool) (Record, bool) {
				if loaded && old.Expired(now) {
					removed++
					return old, true
				}
				return old, false
			})
		}
		return true
	})
	return removed
}
