package sync

import (
	gosync "sync"
	"time"

	movingaverage "github.com/RobinUS2/golang-moving-average"

	"github.com/itadriver/fieldsync/internal/sync/queue"
)

const statsWindow = 50

// Stats tracks remote call outcomes per action: success/failure counters and
// a moving average of call durations over the last statsWindow attempts.
type Stats struct {
	mu      gosync.Mutex
	actions map[queue.Action]*actionStats
}

type actionStats struct {
	avg     *movingaverage.MovingAverage
	success int64
	failure int64
}

// ActionStats is a point-in-time snapshot for one action.
type ActionStats struct {
	Success   int64   `json:"success"`
	Failure   int64   `json:"failure"`
	AvgMillis float64 `json:"avg_ms"`
}

// NewStats creates empty stats.
func NewStats() *Stats {
	return &Stats{actions: make(map[queue.Action]*actionStats)}
}

// Observe records one remote call.
func (s *Stats) Observe(action queue.Action, d time.Duration, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, found := s.actions[action]
	if !found {
		st = &actionStats{avg: movingaverage.New(statsWindow)}
		s.actions[action] = st
	}

	st.avg.Add(float64(d.Milliseconds()))
	if ok {
		st.success++
	} else {
		st.failure++
	}
}

// Snapshot returns current per-action stats keyed by action name.
func (s *Stats) Snapshot() map[string]ActionStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]ActionStats, len(s.actions))
	for action, st := range s.actions {
		out[string(action)] = ActionStats{
			Success:   st.success,
			Failure:   st.failure,
			AvgMillis: st.avg.Avg(),
		}
	}
	return out
}
