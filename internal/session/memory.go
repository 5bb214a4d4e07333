package session

import (
	"context"
	"maps"
	"sync"
	"time"
)

// MemoryStore keeps records in process. Used by tests and single-node runs.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Get(_ context.Context, userID, feature string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key(userID, feature)]
	if ok {
		rec.DeviceInfo = maps.Clone(rec.DeviceInfo)
	}
	return rec, ok, nil
}

func (s *MemoryStore) Upsert(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.DeviceInfo = maps.Clone(rec.DeviceInfo)
	s.records[key(rec.UserID, rec.Feature)] = rec
	return nil
}

func (s *MemoryStore) Touch(_ context.Context, userID, feature, deviceID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(userID, feature)
	rec, ok := s.records[k]
	if !ok || rec.DeviceID != deviceID {
		return false, nil
	}
	rec.LastActiveAt = at
	s.records[k] = rec
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, userID, feature, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(userID, feature)
	if rec, ok := s.records[k]; ok && rec.DeviceID == deviceID {
		delete(s.records, k)
	}
	return nil
}
