package biz

import (
	"context"
	"testing"
	"time"

	"tokenrouter/cmd/token-router/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterWorker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	w, err := f.registry.RegisterWorker(ctx, "tenant-1", domain.WorkerDescriptor{
		WorkerID: "w1", WorkerType: "llm", Capacity: 4, Region: "us-east", Tags: []string{"gpu"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.WorkerStatusActive, w.Status)
	assert.Equal(t, 100, w.HealthScore)
	assert.Equal(t, f.clock.Now(), w.LastHeartbeat)

	_, err = f.registry.RegisterWorker(ctx, "tenant-1", domain.WorkerDescriptor{WorkerID: "w2", Capacity: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidCapacity)

	_, err = f.registry.RegisterWorker(ctx, "tenant-1", domain.WorkerDescriptor{Capacity: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidWorkerID)
}

func TestUpdateHealthScore_DerivesStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addWorker(t, "w1", 10, 0, 100)

	cases := []struct {
		score  int
		status domain.WorkerStatus
	}{
		{25, domain.WorkerStatusError},
		{29, domain.WorkerStatusError},
		{30, domain.WorkerStatusMaintenance},
		{59, domain.WorkerStatusMaintenance},
		{60, domain.WorkerStatusActive},
		{75, domain.WorkerStatusActive},
		{0, domain.WorkerStatusError},
		{100, domain.WorkerStatusActive},
	}
	for _, tc := range cases {
		w, err := f.registry.UpdateHealthScore(ctx, "w1", tc.score)
		require.NoError(t, err)
		assert.Equal(t, tc.status, w.Status, "score %d", tc.score)
		assert.Equal(t, tc.score, w.HealthScore)
	}

	_, err := f.registry.UpdateHealthScore(ctx, "w1", 101)
	assert.ErrorIs(t, err, domain.ErrInvalidHealthScore)
	_, err = f.registry.UpdateHealthScore(ctx, "w1", -1)
	assert.ErrorIs(t, err, domain.ErrInvalidHealthScore)
	_, err = f.registry.UpdateHealthScore(ctx, "missing", 50)
	assert.ErrorIs(t, err, domain.ErrWorkerNotFound)
}

func TestHeartbeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addWorker(t, "w1", 10, 0, 40)

	later := f.clock.Now().Add(2 * time.Minute)
	f.clock.Set(later)
	require.NoError(t, f.registry.Heartbeat(ctx, "w1"))

	w, err := f.registry.GetWorker(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, later, w.LastHeartbeat)
	// 心跳不改变状态
	assert.Equal(t, domain.WorkerStatusMaintenance, w.Status)

	assert.ErrorIs(t, f.registry.Heartbeat(ctx, "missing"), domain.ErrWorkerNotFound)
}

func TestSetStatusAndLoad(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addWorker(t, "w1", 10, 0, 100)

	w, err := f.registry.SetStatus(ctx, "w1", domain.WorkerStatusInactive)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkerStatusInactive, w.Status)

	_, err = f.registry.SetStatus(ctx, "w1", domain.WorkerStatus("sleeping"))
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	_, err = f.registry.UpdateLoad(ctx, "w1", -1)
	assert.ErrorIs(t, err, domain.ErrInvalidLoad)

	w, err = f.registry.UpdateLoad(ctx, "w1", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, w.CurrentLoad)
}

func TestGetAvailableWorkers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addWorker(t, "busy", 10, 9, 100)       // 90% 超过默认80%
	f.addWorker(t, "half", 10, 5, 90)        // 50%
	f.addWorker(t, "idle", 10, 1, 70)        // 10%
	f.addWorker(t, "sick", 10, 0, 50)        // maintenance
	f.addWorker(t, "idle-strong", 20, 2, 95) // 10%, 健康分更高

	got, err := f.registry.GetAvailableWorkers(ctx, "tenant-1", domain.AvailabilityFilter{})
	require.NoError(t, err)

	ids := make([]string, 0, len(got))
	for _, w := range got {
		ids = append(ids, w.WorkerID)
	}
	assert.Equal(t, []string{"idle-strong", "idle", "half"}, ids)

	got, err = f.registry.GetAvailableWorkers(ctx, "tenant-1", domain.AvailabilityFilter{MaxLoadPercent: ptr(100.0), MinHealthScore: ptr(91)})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "idle-strong", got[0].WorkerID)
	assert.Equal(t, "busy", got[1].WorkerID)

	got, err = f.registry.GetAvailableWorkers(ctx, "tenant-2", domain.AvailabilityFilter{})
	require.NoError(t, err)
	assert.Empty(t, got)

	// 显式 0 不回退到默认阈值：只接受空闲节点
	got, err = f.registry.GetAvailableWorkers(ctx, "tenant-1", domain.AvailabilityFilter{MaxLoadPercent: ptr(0.0)})
	require.NoError(t, err)
	assert.Empty(t, got)

	f.addWorker(t, "empty", 10, 0, 65)
	got, err = f.registry.GetAvailableWorkers(ctx, "tenant-1", domain.AvailabilityFilter{MaxLoadPercent: ptr(0.0)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "empty", got[0].WorkerID)
}

func TestStats_CountsStaleWithoutDemoting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addWorker(t, "a", 10, 2, 100)
	f.addWorker(t, "b", 5, 1, 20)
	f.addWorker(t, "c", 5, 0, 45)

	f.clock.Set(f.clock.Now().Add(10 * time.Minute))
	require.NoError(t, f.registry.Heartbeat(ctx, "a"))

	stats, err := f.registry.Stats(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 1, stats.Error)
	assert.Equal(t, 1, stats.Maintenance)
	assert.Equal(t, 2, stats.Stale)
	assert.Equal(t, int64(20), stats.TotalCapacity)
	assert.Equal(t, int64(3), stats.TotalLoad)

	b, err := f.registry.GetWorker(ctx, "b")
	require.NoError(t, err)
	assert.True(t, f.registry.IsStale(b))
	assert.Equal(t, domain.WorkerStatusError, b.Status)
}

func TestHealthMonitor_SweepReportsStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addWorker(t, "fresh", 10, 0, 100)
	f.addWorker(t, "old", 10, 0, 100)

	f.clock.Set(f.clock.Now().Add(6 * time.Minute))
	require.NoError(t, f.registry.Heartbeat(ctx, "fresh"))

	monitor := NewHealthMonitor(f.workers, time.Minute, 5*time.Minute, f.logger)
	monitor.now = f.clock.Now

	stale := monitor.Sweep(ctx)
	require.Len(t, stale, 1)
	assert.Equal(t, "old", stale[0].WorkerID)

	old, err := f.registry.GetWorker(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, domain.WorkerStatusActive, old.Status)

	stats, ok := monitor.LastStats()
	require.True(t, ok)
	assert.Equal(t, 1, stats.Stale)
	assert.Equal(t, 2, stats.Active)
}

func TestHealthMonitor_StartStop(t *testing.T) {
	f := newFixture(t)
	monitor := NewHealthMonitor(f.workers, 10*time.Millisecond, time.Minute, f.logger)

	done := make(chan error, 1)
	go func() { done <- monitor.Start(context.Background()) }()

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, monitor.Stop(context.Background()))
	require.NoError(t, monitor.Stop(context.Background()))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("health monitor did not stop")
	}
}
