package application

import (
	"context"
	"log/slog"

	"github.com/ericfisherdev/txmirror/internal/domain/port/driven"
)

// Pinger is satisfied by both mirror store DB handles.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthReport is the readiness view returned by the health endpoint.
type HealthReport struct {
	Healthy       bool
	Database      string
	QueueDepth    int
	QueueCapacity int
	Regions       []string
}

// HealthService reports whether the mirror store is reachable and how full
// the dispatch queue is.
type HealthService struct {
	db      Pinger
	queue   driven.JobQueue
	sources *SourceRegistry
}

// NewHealthService creates a new HealthService with the required dependencies.
func NewHealthService(db Pinger, queue driven.JobQueue, sources *SourceRegistry) *HealthService {
	return &HealthService{
		db:      db,
		queue:   queue,
		sources: sources,
	}
}

// Check pings the database and samples the queue. A full queue does not make
// the service unhealthy; intake answers 503 per notification instead.
func (s *HealthService) Check(ctx context.Context) HealthReport {
	report := HealthReport{
		Healthy:       true,
		Database:      "ok",
		QueueDepth:    s.queue.Depth(),
		QueueCapacity: s.queue.Capacity(),
		Regions:       s.sources.Regions(),
	}

	if err := s.db.Ping(ctx); err != nil {
		slog.Warn("health check: database unreachable", "error", err)
		report.Healthy = false
		report.Database = "unreachable"
	}

	return report
}
