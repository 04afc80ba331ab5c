// Package cycles persists completed pipeline cycle outcomes in a WAL.
package cycles

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"helmsman/internal/domain"
)

const (
	DefaultDir   = "./wal/cycles"
	segmentLimit = 100
	maxSegments  = 10

	cycleKeyPrefix = "cycle_"
)

// WALStore persists cycle events in a WAL.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore initializes a WAL-backed cycle store.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = DefaultDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "cycle_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init cycle WAL")
	}

	return &WALStore{wal: wal}, nil
}

// Save writes the cycle event to WAL.
func (s *WALStore) Save(event domain.CycleEvent) error {
	if s == nil || s.wal == nil {
		return errors.New("cycle store is not initialized")
	}
	if event.ID == "" {
		return fmt.Errorf("cycle event id is required")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshal cycle event")
	}

	key := fmt.Sprintf("%s%s", cycleKeyPrefix, event.ID)

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	return s.wal.Write(nextIndex, key, payload)
}

// EventsAfter returns all cycle events written after the provided WAL index.
func (s *WALStore) EventsAfter(index uint64) ([]domain.CycleEventRecord, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("cycle store is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	current := s.wal.CurrentIndex()
	if current <= index {
		return nil, nil
	}

	records := make([]domain.CycleEventRecord, 0, current-index)
	for idx := index + 1; idx <= current; idx++ {
		key, payload, err := s.wal.Get(idx)
		if err != nil {
			continue
		}
		if !strings.HasPrefix(key, cycleKeyPrefix) {
			continue
		}

		var event domain.CycleEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, errors.Wrap(err, "decode cycle event")
		}
		records = append(records, domain.CycleEventRecord{
			Index: idx,
			Event: event,
		})
	}

	return records, nil
}

// CurrentIndex returns the latest WAL index stored.
func (s *WALStore) CurrentIndex() uint64 {
	if s == nil || s.wal == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("cycle store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
