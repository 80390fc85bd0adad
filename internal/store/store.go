// Package store implements the bounded rolling sample buffer that sits
// between the serial ingestion path and the render/export consumers.
package store

import (
	"sync"
	"time"

	"cir-monitor/internal/telemetry"
)

// DefaultCapacity is the number of samples retained when no explicit
// capacity is configured.
const DefaultCapacity = 500

// Series is a length-matched view of one field's retained samples.
// Missing values carry the telemetry.Missing sentinel; it is the
// consumer's choice to skip them (plotting) or render them empty (export).
type Series struct {
	Field      telemetry.Field
	Indices    []uint64
	Timestamps []time.Time
	Values     []float64
}

// RollingStore is a fixed-capacity FIFO ring of samples with parallel
// index and timestamp series. The reader goroutine is the sole writer
// (Append); render and export paths read concurrently via Snapshot.
type RollingStore struct {
	mu        sync.RWMutex
	samples   []telemetry.Sample // ring storage, len == capacity
	capacity  int
	head      int    // position of the oldest sample
	size      int    // number of valid samples
	nextIndex uint64 // index assigned to the next appended sample
}

// New creates a rolling store retaining up to capacity samples.
// Non-positive capacities fall back to DefaultCapacity.
func New(capacity int) *RollingStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &RollingStore{
		samples:  make([]telemetry.Sample, capacity),
		capacity: capacity,
	}
}

// Append records one parsed line as a sample: the next strictly increasing
// index is assigned, the capture time is stamped, and every known field
// receives either its parsed value or the missing sentinel. When the ring
// is full the oldest sample is evicted. O(1).
func (s *RollingStore) Append(parsed map[string]float64) telemetry.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()

	sample := telemetry.NewSample(s.nextIndex, time.Now(), parsed)
	s.nextIndex++

	if s.size < s.capacity {
		s.samples[(s.head+s.size)%s.capacity] = sample
		s.size++
	} else {
		// Overwrite the oldest slot and advance the head.
		s.samples[s.head] = sample
		s.head = (s.head + 1) % s.capacity
	}
	return sample
}

// Len returns the number of retained samples.
func (s *RollingStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Capacity returns the fixed ring capacity.
func (s *RollingStore) Capacity() int {
	return s.capacity
}

// LastIndex returns the index of the most recent sample and whether any
// sample exists.
func (s *RollingStore) LastIndex() (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.size == 0 {
		return 0, false
	}
	return s.samples[(s.head+s.size-1)%s.capacity].Index, true
}

// Snapshot returns a read-only copy of the requested field series in
// oldest-to-newest order. All returned series have matching lengths,
// even when called concurrently with an in-flight Append.
func (s *RollingStore) Snapshot(fields []telemetry.Field) []Series {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := make([]Series, 0, len(fields))
	for _, f := range fields {
		sr := Series{
			Field:      f,
			Indices:    make([]uint64, 0, s.size),
			Timestamps: make([]time.Time, 0, s.size),
			Values:     make([]float64, 0, s.size),
		}
		for i := 0; i < s.size; i++ {
			sample := s.samples[(s.head+i)%s.capacity]
			sr.Indices = append(sr.Indices, sample.Index)
			sr.Timestamps = append(sr.Timestamps, sample.Timestamp)
			sr.Values = append(sr.Values, sample.Values[f])
		}
		series = append(series, sr)
	}
	return series
}

// Samples returns a copy of all retained samples in oldest-to-newest
// order, a single consistent read for export.
func (s *RollingStore) Samples() []telemetry.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]telemetry.Sample, s.size)
	for i := 0; i < s.size; i++ {
		out[i] = s.samples[(s.head+i)%s.capacity]
	}
	return out
}

// Clear atomically empties all series and resets the index counter, so
// the next appended sample gets index 0. It cannot interleave with an
// in-progress Append or Snapshot.
func (s *RollingStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.head = 0
	s.size = 0
	s.nextIndex = 0
}
