package authkit

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// NewSystemClock returns a Clock backed by time.Now.
func NewSystemClock() Clock {
	return systemClock{}
}

var (
	dependencyMutex sync.RWMutex
	providedClock   Clock
	providedLogger  *zap.Logger
	providedMetrics MetricsRecorder
)

// ProvideClock installs the clock used by the gateway; nil restores the system clock.
func ProvideClock(clock Clock) {
	dependencyMutex.Lock()
	defer dependencyMutex.Unlock()
	providedClock = clock
}

// ProvideLogger installs the logger used by auth routes; nil restores a no-op logger.
func ProvideLogger(logger *zap.Logger) {
	dependencyMutex.Lock()
	defer dependencyMutex.Unlock()
	providedLogger = logger
}

// ProvideMetrics installs the metrics recorder; nil disables recording.
func ProvideMetrics(recorder MetricsRecorder) {
	dependencyMutex.Lock()
	defer dependencyMutex.Unlock()
	providedMetrics = recorder
}

func currentClock() Clock {
	dependencyMutex.RLock()
	defer dependencyMutex.RUnlock()
	if providedClock == nil {
		return systemClock{}
	}
	return providedClock
}

func currentLogger() *zap.Logger {
	dependencyMutex.RLock()
	defer dependencyMutex.RUnlock()
	if providedLogger == nil {
		return zap.NewNop()
	}
	return providedLogger
}

func recordMetric(event string) {
	dependencyMutex.RLock()
	recorder := providedMetrics
	dependencyMutex.RUnlock()
	if recorder != nil {
		recorder.Increment(event)
	}
}
