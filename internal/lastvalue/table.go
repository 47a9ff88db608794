package lastvalue

import (
	"sync"
	"time"

	"github.com/ANIKETSHETTY47/panel-telemetry/internal/domain"
)

const shardCount = 32

type shard struct {
	mu       sync.RWMutex
	readings map[int64]domain.PanelReading
}

// Table keeps the newest unwritten reading per panel. Panels are spread
// over independent shards so writers for unrelated panels never contend.
type Table struct {
	shards [shardCount]*shard
}

func New() *Table {
	t := &Table{}
	for i := range t.shards {
		t.shards[i] = &shard{readings: make(map[int64]domain.PanelReading)}
	}
	return t
}

func (t *Table) shardFor(panelID int64) *shard {
	idx := panelID % shardCount
	if idx < 0 {
		idx = -idx
	}
	return t.shards[idx]
}

// Upsert stores r, replacing whatever was buffered for the same panel.
func (t *Table) Upsert(r domain.PanelReading) {
	s := t.shardFor(r.PanelID)
	s.mu.Lock()
	s.readings[r.PanelID] = r
	s.mu.Unlock()
}

func (t *Table) Get(panelID int64) (domain.PanelReading, bool) {
	s := t.shardFor(panelID)
	s.mu.RLock()
	r, ok := s.readings[panelID]
	s.mu.RUnlock()
	return r, ok
}

func (t *Table) Len() int {
	n := 0
	for _, s := range t.shards {
		s.mu.RLock()
		n += len(s.readings)
		s.mu.RUnlock()
	}
	return n
}

// Fresh returns the readings younger than horizon at now and evicts the
// rest. An evicted entry is only removed if it was not replaced meanwhile.
func (t *Table) Fresh(now time.Time, horizon time.Duration) (fresh []domain.PanelReading, evicted int) {
	for _, s := range t.shards {
		var stale []domain.PanelReading

		s.mu.RLock()
		for _, r := range s.readings {
			if now.Sub(r.ReadingTime) < horizon {
				fresh = append(fresh, r)
			} else {
				stale = append(stale, r)
			}
		}
		s.mu.RUnlock()

		if len(stale) == 0 {
			continue
		}
		s.mu.Lock()
		for _, r := range stale {
			if cur, ok := s.readings[r.PanelID]; ok && cur == r {
				delete(s.readings, r.PanelID)
				evicted++
			}
		}
		s.mu.Unlock()
	}
	return fresh, evicted
}

// Snapshot copies every buffered reading.
func (t *Table) Snapshot() []domain.PanelReading {
	var out []domain.PanelReading
	for _, s := range t.shards {
		s.mu.RLock()
		for _, r := range s.readings {
			out = append(out, r)
		}
		s.mu.RUnlock()
	}
	return out
}
