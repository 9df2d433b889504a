// Package store provides the staging buffer for the canonical record stream.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/caseledger/ledger"
)

// =============================================================================
// MEMORY STORE - Record buffer filled concurrently by feed loaders
// =============================================================================

// Memory buffers records until the whole stream is materialized. Loads return
// records ordered by (date, feed priority, feed name, position within the
// batch), so the order the engine sees does not depend on which loader
// finished first. Appends are O(batch); the buffer is sorted once on the
// first load after an append.
type Memory struct {
	mu      sync.Mutex
	records []entry
	sorted  bool
	batches int
	feeds   map[string]int
}

type entry struct {
	rec      ledger.Record
	priority int
	seq      int
	batch    int
}

func NewMemory() *Memory {
	return &Memory{feeds: make(map[string]int), sorted: true}
}

// AppendBatch adds a feed's records atomically. Lower priority values sort
// first among records of the same date.
func (m *Memory) AppendBatch(_ context.Context, priority int, recs []ledger.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.batches++
	for i, rec := range recs {
		m.records = append(m.records, entry{rec: rec, priority: priority, seq: i, batch: m.batches})
		m.feeds[rec.Feed]++
	}
	if len(recs) > 0 {
		m.sorted = false
	}
	return nil
}

func (m *Memory) sortLocked() {
	if m.sorted {
		return
	}
	sort.Slice(m.records, func(i, j int) bool {
		return less(m.records[i], m.records[j])
	})
	m.sorted = true
}

// less is a total order. The batch ordinal only separates two batches of the
// same feed name and priority.
func less(a, b entry) bool {
	if !a.rec.Date.Equal(b.rec.Date) {
		return a.rec.Date.Before(b.rec.Date)
	}
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	if a.rec.Feed != b.rec.Feed {
		return a.rec.Feed < b.rec.Feed
	}
	if a.batch != b.batch {
		return a.batch < b.batch
	}
	return a.seq < b.seq
}

// Load returns every record in order.
func (m *Memory) Load(_ context.Context) ([]ledger.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sortLocked()

	out := make([]ledger.Record, len(m.records))
	for i, e := range m.records {
		out[i] = e.rec
	}
	return out, nil
}

// LoadRange returns the records dated within r.
func (m *Memory) LoadRange(_ context.Context, r ledger.Range) ([]ledger.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sortLocked()

	var out []ledger.Record
	for _, e := range m.records {
		if r.Contains(e.rec.Date) {
			out = append(out, e.rec)
		}
	}
	return out, nil
}

// Len returns the number of buffered records.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Feeds returns the record count per feed name.
func (m *Memory) Feeds() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]int, len(m.feeds))
	for k, v := range m.feeds {
		out[k] = v
	}
	return out
}
