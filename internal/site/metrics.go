package site

import (
	"sync"
	"time"
)

// BuildStats is a snapshot of rebuild outcomes
type BuildStats struct {
	TotalBuilds      int64
	SuccessfulBuilds int64
	FailedBuilds     int64
	AverageDuration  time.Duration
	TotalDuration    time.Duration
	LastRoutes       int
	LastError        error
}

// BuildMetrics tracks rebuild outcomes
type BuildMetrics struct {
	stats BuildStats
	mutex sync.RWMutex
}

// NewBuildMetrics creates a new build metrics tracker
func NewBuildMetrics() *BuildMetrics {
	return &BuildMetrics{}
}

func (m *BuildMetrics) record(d time.Duration, routes int, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	s := &m.stats
	s.TotalBuilds++
	s.TotalDuration += d
	s.AverageDuration = s.TotalDuration / time.Duration(s.TotalBuilds)
	s.LastError = err

	if err != nil {
		s.FailedBuilds++
		return
	}
	s.SuccessfulBuilds++
	s.LastRoutes = routes
}

// Snapshot returns the current statistics
func (m *BuildMetrics) Snapshot() BuildStats {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.stats
}
