package application_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ericfisherdev/txmirror/internal/application"
	"github.com/ericfisherdev/txmirror/internal/domain/model"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func TestHealthService_Check(t *testing.T) {
	q := newMemoryQueue(t, 4)
	q.TryEnqueue(model.Job{ID: "j1", Kind: model.JobKindSyncRecords, AccountID: "A1"})

	registry := application.NewSourceRegistry("us")
	registry.Register("us", newFakeSource())
	registry.Register("eu", newFakeSource())

	report := application.NewHealthService(stubPinger{}, q, registry).Check(context.Background())

	assert.True(t, report.Healthy)
	assert.Equal(t, "ok", report.Database)
	assert.Equal(t, 1, report.QueueDepth)
	assert.Equal(t, 4, report.QueueCapacity)
	assert.Equal(t, []string{"eu", "us"}, report.Regions)
}

func TestHealthService_DatabaseDown(t *testing.T) {
	q := newMemoryQueue(t, 4)
	registry := application.NewSourceRegistry("us")

	report := application.NewHealthService(stubPinger{err: errors.New("dial tcp: refused")}, q, registry).
		Check(context.Background())

	assert.False(t, report.Healthy)
	assert.Equal(t, "unreachable", report.Database)
}

func TestHealthService_RealDatabase(t *testing.T) {
	env := newTestEnv(t)
	q := newMemoryQueue(t, 4)

	report := application.NewHealthService(env.db, q, env.registry).Check(context.Background())
	assert.True(t, report.Healthy)
}
