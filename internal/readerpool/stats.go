package readerpool

import (
	"sync"
	"time"

	"github.com/paulbellamy/ratecounter"

	"github.com/omalloc/staticd/internal/metrics"
)

// Stats is a point-in-time snapshot of pool counters, per spec.md §3's
// invariant completed+failed+canceled+pending == total.
type Stats struct {
	Completed uint64
	Failed    uint64
	Canceled  uint64
	Total     uint64
	Pending   uint64

	// per-second rates, observed the way storage/bucket/disk.go's loadLRU
	// reports progress through a ratecounter.RateCounter.
	CompletedPerSecond int64
	FailedPerSecond    int64
	CanceledPerSecond  int64
}

type statsTracker struct {
	mu sync.Mutex

	completed uint64
	failed    uint64
	canceled  uint64
	total     uint64

	completedRate *ratecounter.RateCounter
	failedRate    *ratecounter.RateCounter
	canceledRate  *ratecounter.RateCounter
}

func newStatsTracker() *statsTracker {
	return &statsTracker{
		completedRate: ratecounter.NewRateCounter(time.Second),
		failedRate:    ratecounter.NewRateCounter(time.Second),
		canceledRate:  ratecounter.NewRateCounter(time.Second),
	}
}

func (s *statsTracker) incrTotal() {
	s.mu.Lock()
	s.total++
	s.mu.Unlock()
}

func (s *statsTracker) incrCompleted() {
	s.mu.Lock()
	s.completed++
	s.mu.Unlock()
	s.completedRate.Incr(1)
	metrics.ReaderPoolRequests.WithLabelValues("completed").Inc()
}

func (s *statsTracker) incrFailed() {
	s.mu.Lock()
	s.failed++
	s.mu.Unlock()
	s.failedRate.Incr(1)
	metrics.ReaderPoolRequests.WithLabelValues("failed").Inc()
}

func (s *statsTracker) incrCanceled() {
	s.mu.Lock()
	s.canceled++
	s.mu.Unlock()
	s.canceledRate.Incr(1)
	metrics.ReaderPoolRequests.WithLabelValues("canceled").Inc()
}

func (s *statsTracker) snapshot(pending uint64) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Completed:          s.completed,
		Failed:             s.failed,
		Canceled:           s.canceled,
		Total:              s.total,
		Pending:            pending,
		CompletedPerSecond: s.completedRate.Rate(),
		FailedPerSecond:    s.failedRate.Rate(),
		CanceledPerSecond:  s.canceledRate.Rate(),
	}
}
