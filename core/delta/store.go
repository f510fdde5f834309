package delta

import (
	"sync"
	"time"
)

// Reading is the last accepted counter sample for a device.
type Reading struct {
	EnergyKWh float64
	Timestamp time.Time
}

// ReadingStore keeps the per-device baseline used for delta
// computation. It is cache-resident only; cold starts rebuild it from
// the most recent persisted measurement.
type ReadingStore struct {
	mu   sync.RWMutex
	data map[string]Reading
}

// NewReadingStore returns an empty store.
func NewReadingStore() *ReadingStore {
	return &ReadingStore{data: map[string]Reading{}}
}

// Get returns the baseline for the device.
func (s *ReadingStore) Get(deviceID string) (Reading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.data[deviceID]
	return r, ok
}

// Set replaces the baseline for the device.
func (s *ReadingStore) Set(deviceID string, r Reading) {
	s.mu.Lock()
	s.data[deviceID] = r
	s.mu.Unlock()
}

// Delete drops the baseline, forcing a cold-start lookup next time.
func (s *ReadingStore) Delete(deviceID string) {
	s.mu.Lock()
	delete(s.data, deviceID)
	s.mu.Unlock()
}
