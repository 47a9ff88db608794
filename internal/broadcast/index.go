package broadcast

import (
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 32

func shardOf(key string) int {
	return int(xxhash.Sum64String(key) % shardCount)
}

type indexShard[K comparable] struct {
	mu    sync.RWMutex
	conns map[K]map[string]*connState
}

// index maps a key (gateway or panel id) to the connections subscribed to it.
type index[K comparable] struct {
	shards  [shardCount]*indexShard[K]
	hashKey func(K) string
}

func newIndex[K comparable](hashKey func(K) string) *index[K] {
	idx := &index[K]{hashKey: hashKey}
	for i := range idx.shards {
		idx.shards[i] = &indexShard[K]{conns: make(map[K]map[string]*connState)}
	}
	return idx
}

func newGatewayIndex() *index[string] {
	return newIndex(func(k string) string { return k })
}

func newPanelIndex() *index[int64] {
	return newIndex(func(k int64) string { return strconv.FormatInt(k, 10) })
}

func (idx *index[K]) shard(key K) *indexShard[K] {
	return idx.shards[shardOf(idx.hashKey(key))]
}

func (idx *index[K]) add(key K, cs *connState) {
	s := idx.shard(key)
	s.mu.Lock()
	set, ok := s.conns[key]
	if !ok {
		set = make(map[string]*connState)
		s.conns[key] = set
	}
	set[cs.id] = cs
	s.mu.Unlock()
}

// remove drops cs from key, deleting the key once nobody references it.
func (idx *index[K]) remove(key K, cs *connState) {
	s := idx.shard(key)
	s.mu.Lock()
	if set, ok := s.conns[key]; ok {
		if cur, ok := set[cs.id]; ok && cur == cs {
			delete(set, cs.id)
		}
		if len(set) == 0 {
			delete(s.conns, key)
		}
	}
	s.mu.Unlock()
}

// lookup copies the connections subscribed to key.
func (idx *index[K]) lookup(key K) []*connState {
	s := idx.shard(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.conns[key]
	if len(set) == 0 {
		return nil
	}
	out := make([]*connState, 0, len(set))
	for _, cs := range set {
		out = append(out, cs)
	}
	return out
}

func (idx *index[K]) len() int {
	n := 0
	for _, s := range idx.shards {
		s.mu.RLock()
		n += len(s.conns)
		s.mu.RUnlock()
	}
	return n
}

func (idx *index[K]) each(fn func(key K, connID string, cs *connState)) {
	for _, s := range idx.shards {
		s.mu.RLock()
		for k, set := range s.conns {
			for id, cs := range set {
				fn(k, id, cs)
			}
		}
		s.mu.RUnlock()
	}
}
