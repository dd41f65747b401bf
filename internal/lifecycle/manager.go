package lifecycle

import (
	"context"
	"time"

	"github.com/gftdcojp/artgate/internal/metrics"
	"github.com/gftdcojp/artgate/internal/submission"
	"go.uber.org/zap"
)

// Manager drops submissions nobody has touched for MaxAge.
type Manager struct {
	subs   *submission.Registry
	maxAge time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// NewManager creates a new reaper for subs.
func NewManager(subs *submission.Registry, maxAge time.Duration, logger *zap.Logger) *Manager {
	return &Manager{
		subs:   subs,
		maxAge: maxAge,
		now:    time.Now,
		logger: logger,
	}
}

// Run starts the periodic sweep loop. A zero maxAge disables it.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	if m.maxAge <= 0 || interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.sweepCycle()
		}
	}
}

func (m *Manager) sweepCycle() int {
	cutoff := m.now().Add(-m.maxAge)
	reaped := m.subs.Sweep(cutoff)
	if len(reaped) == 0 {
		return 0
	}
	metrics.SubmissionsReaped.Add(float64(len(reaped)))
	m.logger.Info("reaped idle submissions",
		zap.Int("count", len(reaped)),
		zap.Uint64s("ids", reaped),
		zap.Time("cutoff", cutoff),
	)
	return len(reaped)
}
