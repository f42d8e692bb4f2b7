package bridge

import (
	"hash/fnv"
	"sync"
)

// shardCount должно быть степенью 2
const shardCount = 32

type registryShard struct {
	calls map[string]*Call
	mutex sync.RWMutex
}

// callRegistry реестр звонков по provider call id.
// У каждого шарда свой мьютекс, глобальной блокировки нет.
type callRegistry struct {
	shards [shardCount]*registryShard
}

func newCallRegistry() *callRegistry {
	r := &callRegistry{}
	for i := range r.shards {
		r.shards[i] = &registryShard{calls: make(map[string]*Call)}
	}
	return r
}

func (r *callRegistry) shard(providerCallID string) *registryShard {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(providerCallID))
	return r.shards[hasher.Sum32()&(shardCount-1)]
}

// Add добавляет звонок. false, если id уже занят.
func (r *callRegistry) Add(c *Call) bool {
	s := r.shard(c.providerCallID)
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.calls[c.providerCallID]; exists {
		return false
	}
	s.calls[c.providerCallID] = c
	return true
}

func (r *callRegistry) Get(providerCallID string) (*Call, bool) {
	s := r.shard(providerCallID)
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	c, ok := s.calls[providerCallID]
	return c, ok
}

// Remove удаляет именно этот экземпляр звонка
func (r *callRegistry) Remove(c *Call) bool {
	s := r.shard(c.providerCallID)
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if current, ok := s.calls[c.providerCallID]; ok && current == c {
		delete(s.calls, c.providerCallID)
		return true
	}
	return false
}

func (r *callRegistry) Len() int {
	n := 0
	for _, s := range r.shards {
		s.mutex.RLock()
		n += len(s.calls)
		s.mutex.RUnlock()
	}
	return n
}

// Snapshot копирует звонки; шарды блокируются по одному
func (r *callRegistry) Snapshot() []*Call {
	var calls []*Call
	for _, s := range r.shards {
		s.mutex.RLock()
		for _, c := range s.calls {
			calls = append(calls, c)
		}
		s.mutex.RUnlock()
	}
	return calls
}

// FindByChannel ищет звонок, которому принадлежит канал (телефонный или внешнего медиа)
func (r *callRegistry) FindByChannel(channelID string) (*Call, bool) {
	if c, ok := r.Get(channelID); ok {
		return c, true
	}
	for _, c := range r.Snapshot() {
		if c.ownsChannel(channelID) {
			return c, true
		}
	}
	return nil, false
}

// ExternalMediaChannels множество каналов внешнего медиа живых звонков
func (r *callRegistry) ExternalMediaChannels() map[string]struct{} {
	ids := make(map[string]struct{})
	for _, c := range r.Snapshot() {
		c.mutex.Lock()
		if c.extChannelID != "" {
			ids[c.extChannelID] = struct{}{}
		}
		c.mutex.Unlock()
	}
	return ids
}
