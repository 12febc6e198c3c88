package workflow

import (
	"context"

	"overdub/internal/queue"
	"overdub/internal/transform"
)

// Health aggregates handler readiness and queue state for diagnostics.
type Health struct {
	Ready    bool
	Handlers []transform.Health
	Queue    queue.HealthSummary
}

// Health runs every handler's health check and collects queue counters.
func (m *Manager) Health(ctx context.Context) (Health, error) {
	summary, err := m.store.Health(ctx)
	if err != nil {
		return Health{}, err
	}

	health := Health{Ready: true, Queue: summary}
	for _, handler := range m.handlers {
		check := handler.HealthCheck(ctx)
		health.Handlers = append(health.Handlers, check)
		if !check.Ready {
			health.Ready = false
		}
	}
	return health, nil
}
