package history

import (
	"sort"
	"sync"

	"pricewatch/internal/model"
)

// State tracks whether an asset has produced an accepted sample yet.
type State int

const (
	NoHistory State = iota
	HasHistory
)

func (s State) String() string {
	if s == HasHistory {
		return "has_history"
	}
	return "no_history"
}

type series struct {
	mu       sync.Mutex
	buffer   *Buffer
	previous model.Sample
	state    State
}

// Store owns one series per asset. Each series has its own lock so different
// assets never contend; the map itself is guarded separately.
type Store struct {
	capacity int

	mu     sync.RWMutex
	assets map[string]*series
}

// NewStore creates an empty store whose buffers hold capacity samples.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		panic("history capacity must be positive")
	}
	return &Store{capacity: capacity, assets: make(map[string]*series)}
}

// Capacity returns the per-asset buffer capacity.
func (s *Store) Capacity() int { return s.capacity }

// CommitFunc observes the sample preceding the one being committed. ok is false
// while the asset is still in NoHistory.
type CommitFunc func(previous model.Sample, ok bool)

// Commit serialises evaluation and append for the sample's asset: fn sees the
// pre-update previous sample, then the sample becomes previous and is appended.
// Invalid samples are rejected without touching state.
func (s *Store) Commit(sample model.Sample, fn CommitFunc) error {
	if err := sample.Validate(); err != nil {
		return err
	}

	ser := s.series(sample.AssetID, true)
	ser.mu.Lock()
	defer ser.mu.Unlock()

	if fn != nil {
		fn(ser.previous, ser.state == HasHistory)
	}

	ser.previous = sample
	ser.state = HasHistory
	ser.buffer.Append(sample)
	return nil
}

// Latest returns the most recent accepted sample for assetID.
func (s *Store) Latest(assetID string) (model.Sample, bool) {
	ser := s.series(assetID, false)
	if ser == nil {
		return model.Sample{}, false
	}
	ser.mu.Lock()
	defer ser.mu.Unlock()
	return ser.previous, ser.state == HasHistory
}

// Recent returns the buffer contents for assetID, oldest first.
func (s *Store) Recent(assetID string) []model.Sample {
	ser := s.series(assetID, false)
	if ser == nil {
		return []model.Sample{}
	}
	ser.mu.Lock()
	defer ser.mu.Unlock()
	return ser.buffer.Snapshot()
}

// State reports the evaluation state of assetID.
func (s *Store) State(assetID string) State {
	ser := s.series(assetID, false)
	if ser == nil {
		return NoHistory
	}
	ser.mu.Lock()
	defer ser.mu.Unlock()
	return ser.state
}

// Assets lists every asset with a series, sorted.
func (s *Store) Assets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.assets))
	for id := range s.assets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Store) series(assetID string, create bool) *series {
	s.mu.RLock()
	ser, ok := s.assets[assetID]
	s.mu.RUnlock()
	if ok || !create {
		return ser
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ser, ok = s.assets[assetID]; ok {
		return ser
	}
	ser = &series{buffer: NewBuffer(s.capacity)}
	s.assets[assetID] = ser
	return ser
}
