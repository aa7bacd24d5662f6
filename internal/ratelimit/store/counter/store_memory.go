package counter

import (
	"context"
	"time"

	"leadgate/internal/ratelimit/models"
	"leadgate/pkg/platform/sentinel"
	platformsync "leadgate/pkg/platform/sync"
)

// InMemoryStore keeps counters in a sharded map. Admit holds the key's shard
// lock across the whole read-modify-write, so admissions for one pair are
// serialized while unrelated pairs proceed on other shards.
// Counters do not survive a restart; use the Postgres or Redis store to share
// them across processes.
type InMemoryStore struct {
	records *platformsync.ShardedMap[*models.Record]
}

// NewInMemory creates an empty in-memory counter store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		records: platformsync.NewShardedMap[*models.Record](0),
	}
}

func memoryKey(identifier string, action models.Action) string {
	return models.NewKey(identifier, action).String()
}

func (s *InMemoryStore) Admit(_ context.Context, identifier string, action models.Action, policy models.Policy, now time.Time) (*models.Record, error) {
	var out models.Record
	s.records.With(memoryKey(identifier, action), func(items map[string]*models.Record) {
		key := memoryKey(identifier, action)
		record, ok := items[key]
		if !ok {
			record = &models.Record{Identifier: identifier, Action: action}
			items[key] = record
		}
		record.Admit(now, policy)
		out = copyRecord(record)
	})
	return &out, nil
}

func (s *InMemoryStore) Get(_ context.Context, identifier string, action models.Action) (*models.Record, error) {
	var (
		out   models.Record
		found bool
	)
	key := memoryKey(identifier, action)
	s.records.With(key, func(items map[string]*models.Record) {
		if record, ok := items[key]; ok {
			out = copyRecord(record)
			found = true
		}
	})
	if !found {
		return nil, sentinel.ErrNotFound
	}
	return &out, nil
}

func (s *InMemoryStore) Delete(_ context.Context, identifier string, action models.Action) error {
	key := memoryKey(identifier, action)
	s.records.With(key, func(items map[string]*models.Record) {
		delete(items, key)
	})
	return nil
}

func (s *InMemoryStore) DeleteStale(_ context.Context, now time.Time) (int, error) {
	return s.records.Sweep(func(_ string, record *models.Record) bool {
		return record.IsStale(now)
	}), nil
}

// Len returns the number of live counters.
func (s *InMemoryStore) Len() int {
	return s.records.Len()
}

// copyRecord detaches the returned value from the stored pointer so callers
// never read it outside the shard lock.
func copyRecord(r *models.Record) models.Record {
	out := *r
	if r.BlockedUntil != nil {
		until := *r.BlockedUntil
		out.BlockedUntil = &until
	}
	return out
}
