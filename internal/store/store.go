// Package store implements the Notification Manager's keyed
// container: a sharded concurrent map from models.NotificationID to a
// notification record (shard by hash, per-shard RWMutex). It gives
// per-entry locking rather than one coarse mutex: a slow delivery
// must never stall a concurrent status read of a different record.
package store

import (
	"hash/fnv"
	"sync"

	"notifyd/models"
)

const defaultShardCount = 32

// Store is the concurrent keyed container of notification records.
type Store struct {
	shards []*shard
	mask   uint64
}

type shard struct {
	mu      sync.RWMutex
	records map[models.NotificationID]*models.Notification
}

// New creates a Store with the given shard count rounded up to the
// next power of two (0 selects the default).
func New(shardCount int) *Store {
	if shardCount <= 0 {
		shardCount = defaultShardCount
	}
	n := 1
	for n < shardCount {
		n <<= 1
	}
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{records: make(map[models.NotificationID]*models.Notification)}
	}
	return &Store{shards: shards, mask: uint64(n - 1)}
}

func (s *Store) shardFor(id models.NotificationID) *shard {
	h := fnv.New64a()
	_, _ = h.Write(id[:])
	return s.shards[h.Sum64()&s.mask]
}

// Insert adds a new record. Returns false without mutating the store
// if a record already exists under this id (spec invariant: exactly
// one record per id).
func (s *Store) Insert(n *models.Notification) bool {
	sh := s.shardFor(n.Identity.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, exists := sh.records[n.Identity.ID]; exists {
		return false
	}
	sh.records[n.Identity.ID] = n
	return true
}

// Get returns a pointer to the record for read access. Callers must
// not mutate the returned record outside of Mutate; the pointer is
// shared. Returns nil if not present.
func (s *Store) Get(id models.NotificationID) *models.Notification {
	sh := s.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.records[id]
}

// Mutate acquires the per-shard write lock, hands fn the record (or
// nil if absent), and returns whatever fn returns. The lock is held
// only for the duration of fn — callers must never perform blocking
// I/O inside fn.
func (s *Store) Mutate(id models.NotificationID, fn func(n *models.Notification) bool) bool {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	n := sh.records[id]
	if n == nil {
		return false
	}
	return fn(n)
}

// Delete removes a record (caller-triggered purge).
func (s *Store) Delete(id models.NotificationID) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.records, id)
}

// Range iterates every record shard-by-shard, taking only that shard's
// read lock at a time — never a global lock — the iteration
// discipline the workers' collect phases rely on. Stops early if fn
// returns false.
func (s *Store) Range(fn func(n *models.Notification) bool) {
	for _, sh := range s.shards {
		sh.mu.RLock()
		cont := true
		for _, n := range sh.records {
			if !fn(n) {
				cont = false
				break
			}
		}
		sh.mu.RUnlock()
		if !cont {
			return
		}
	}
}

// Len returns the total number of stored records.
func (s *Store) Len() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		total += len(sh.records)
		sh.mu.RUnlock()
	}
	return total
}
