package metrics

import (
	"sync"
	"time"

	"github.com/olympisai/trafficgen/internal/loadgen/ramp"
)

// TimeBucket holds the activity of one emitter interval.
type TimeBucket struct {
	Timestamp time.Time     `json:"timestamp"`
	Interval  time.Duration `json:"interval"`
	Requests  int64         `json:"requests"`
	Passed    int64         `json:"passed"`
	Failed    int64         `json:"failed"`
	Bytes     int64         `json:"bytes"`
	RPS       float64       `json:"rps"`

	// Cumulative totals at emission time
	TotalRequests int64 `json:"totalRequests"`
	TotalPassed   int64 `json:"totalPassed"`

	ActiveVUs int        `json:"activeVUs"`
	Phase     ramp.Phase `json:"phase"`
}

// TimeBucketStore accumulates in-progress counts and retains up to max
// emitted buckets.
type TimeBucketStore struct {
	mu      sync.Mutex
	buckets []*TimeBucket
	max     int

	// in-progress interval
	since    time.Time
	requests int64
	passed   int64
	bytes    int64
}

// NewTimeBucketStore creates a store that keeps at most max buckets.
func NewTimeBucketStore(max int) *TimeBucketStore {
	return &TimeBucketStore{
		max:   max,
		since: time.Now(),
	}
}

// RecordRequest counts one request in the current interval.
func (s *TimeBucketStore) RecordRequest(passed bool, bytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests++
	s.bytes += bytes
	if passed {
		s.passed++
	}
}

// CreateBucket closes the current interval.
func (s *TimeBucketStore) CreateBucket(totalRequests, totalPassed int64, activeVUs int, phase ramp.Phase) *TimeBucket {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	interval := now.Sub(s.since)

	b := &TimeBucket{
		Timestamp:     now,
		Interval:      interval,
		Requests:      s.requests,
		Passed:        s.passed,
		Failed:        s.requests - s.passed,
		Bytes:         s.bytes,
		TotalRequests: totalRequests,
		TotalPassed:   totalPassed,
		ActiveVUs:     activeVUs,
		Phase:         phase,
	}
	if interval > 0 {
		b.RPS = float64(s.requests) / interval.Seconds()
	}

	s.buckets = append(s.buckets, b)
	if s.max > 0 && len(s.buckets) > s.max {
		s.buckets = s.buckets[len(s.buckets)-s.max:]
	}

	s.since = now
	s.requests, s.passed, s.bytes = 0, 0, 0
	return b
}

// CurrentRPS returns the rate of the last emitted bucket.
func (s *TimeBucketStore) CurrentRPS() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buckets) == 0 {
		return 0
	}
	return s.buckets[len(s.buckets)-1].RPS
}

// Buckets returns a copy of the retained buckets.
func (s *TimeBucketStore) Buckets() []*TimeBucket {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*TimeBucket, len(s.buckets))
	copy(out, s.buckets)
	return out
}
