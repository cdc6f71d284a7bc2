package scheduler

import (
	"sort"

	"github.com/jzx17/offload/pkg/types"
)

// ResultStore keeps terminal records by task id. It is a bounded cache, not
// durable storage: Sweep trims it by recency only.
//
// ResultStore is not safe for concurrent use; the scheduler loop owns it.
type ResultStore struct {
	records map[string]types.Record
	evicted int64
}

// NewResultStore creates an empty store
func NewResultStore() *ResultStore {
	return &ResultStore{records: make(map[string]types.Record)}
}

// Put stores a terminal record, replacing any previous record for the id
func (s *ResultStore) Put(rec types.Record) {
	s.records[rec.TaskID] = rec
}

// Get returns the record for id. Evicted and unknown ids report false.
func (s *ResultStore) Get(id string) (types.Record, bool) {
	rec, ok := s.records[id]
	return rec, ok
}

// Len returns the number of stored records
func (s *ResultStore) Len() int {
	return len(s.records)
}

// Evicted returns the number of records dropped by sweeps
func (s *ResultStore) Evicted() int64 {
	return s.evicted
}

// Sweep trims the store to the low most recently completed records once it
// holds more than high. It returns the number of evicted records.
func (s *ResultStore) Sweep(high, low int) int {
	if len(s.records) <= high {
		return 0
	}
	if low < 0 {
		low = 0
	}

	recs := make([]types.Record, 0, len(s.records))
	for _, rec := range s.records {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CompletedAt.Equal(recs[j].CompletedAt) {
			return recs[i].CompletedAt.After(recs[j].CompletedAt)
		}
		// ids are ULIDs, so a later id was submitted later
		return recs[i].TaskID > recs[j].TaskID
	})

	evicted := 0
	for _, rec := range recs[min(low, len(recs)):] {
		delete(s.records, rec.TaskID)
		evicted++
	}
	s.evicted += int64(evicted)
	return evicted
}
