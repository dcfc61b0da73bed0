// Package storage 提供进程内的档案存储与本地缓存实现，用于离线运行和测试。
package storage

import (
	"context"
	"sync"
	"time"

	"cryptofolio/internal/application/port"
	"cryptofolio/internal/domain/model"
)

// InMemoryProfileStore keeps one record per owner and fans changes out to
// subscribers synchronously.
type InMemoryProfileStore struct {
	mu      sync.Mutex
	records map[string]model.ProfileRecord
	subs    map[string]map[int]func(model.ProfileRecord)
	nextID  int
}

func NewInMemoryProfileStore() *InMemoryProfileStore {
	return &InMemoryProfileStore{
		records: make(map[string]model.ProfileRecord),
		subs:    make(map[string]map[int]func(model.ProfileRecord)),
	}
}

func (s *InMemoryProfileStore) Pull(ctx context.Context, ownerID string) (*model.ProfileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[ownerID]
	if !ok {
		return nil, nil
	}
	rec.Snapshot = rec.Snapshot.Clone()
	return &rec, nil
}

func (s *InMemoryProfileStore) Push(ctx context.Context, ownerID string, snap model.Snapshot) error {
	s.mu.Lock()
	rec, ok := s.records[ownerID]
	if !ok {
		rec = model.ProfileRecord{OwnerID: ownerID, Tier: model.TierFree, Role: model.RoleUser}
	}
	rec.Snapshot = snap.Normalized().Clone()
	rec.UpdatedAt = time.Now()
	s.records[ownerID] = rec
	s.mu.Unlock()

	s.publish(ownerID)
	return nil
}

// SetProfile updates tier and role the way an admin tool would.
func (s *InMemoryProfileStore) SetProfile(ownerID string, tier model.Tier, role model.Role) {
	s.mu.Lock()
	rec, ok := s.records[ownerID]
	if !ok {
		rec = model.ProfileRecord{OwnerID: ownerID, Snapshot: model.Snapshot{}.Normalized()}
	}
	rec.Tier, rec.Role = tier, role
	rec.UpdatedAt = time.Now()
	s.records[ownerID] = rec
	s.mu.Unlock()

	s.publish(ownerID)
}

func (s *InMemoryProfileStore) publish(ownerID string) {
	s.mu.Lock()
	rec := s.records[ownerID]
	fns := make([]func(model.ProfileRecord), 0, len(s.subs[ownerID]))
	for _, fn := range s.subs[ownerID] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		r := rec
		r.Snapshot = rec.Snapshot.Clone()
		fn(r)
	}
}

type memSub struct {
	store *InMemoryProfileStore
	owner string
	id    int
}

func (m memSub) Close() error {
	m.store.mu.Lock()
	delete(m.store.subs[m.owner], m.id)
	m.store.mu.Unlock()
	return nil
}

func (s *InMemoryProfileStore) Subscribe(ctx context.Context, ownerID string, fn func(model.ProfileRecord)) (port.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs[ownerID] == nil {
		s.subs[ownerID] = make(map[int]func(model.ProfileRecord))
	}
	s.nextID++
	s.subs[ownerID][s.nextID] = fn
	return memSub{store: s, owner: ownerID, id: s.nextID}, nil
}

// InMemoryCache is a LocalCache that forgets everything on exit.
type InMemoryCache struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{data: make(map[string][]byte)}
}

func (c *InMemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (c *InMemoryCache) Put(ctx context.Context, key string, value []byte) error {
	c.mu.Lock()
	c.data[key] = append([]byte(nil), value...)
	c.mu.Unlock()
	return nil
}

func (c *InMemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.data, key)
	c.mu.Unlock()
	return nil
}

var (
	_ port.ProfileStore = (*InMemoryProfileStore)(nil)
	_ port.LocalCache   = (*InMemoryCache)(nil)
)
