package biz

import (
	"context"
	"testing"

	"tokenrouter/cmd/token-router/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func worker(id string, capacity, load, health int) *domain.Worker {
	return &domain.Worker{
		WorkerID:    id,
		Capacity:    capacity,
		CurrentLoad: load,
		HealthScore: health,
		Status:      domain.WorkerStatusActive,
	}
}

func TestSelectWorker_Strategies(t *testing.T) {
	a := worker("A", 10, 5, 90)
	b := worker("B", 10, 2, 80)

	got, err := SelectWorker([]*domain.Worker{a, b}, domain.StrategyLeastLoaded, nil)
	require.NoError(t, err)
	assert.Equal(t, "B", got.WorkerID)

	got, err = SelectWorker([]*domain.Worker{a, b}, domain.StrategyHealthBased, nil)
	require.NoError(t, err)
	assert.Equal(t, "A", got.WorkerID)

	// A: 0.5, C: 0.3 -> C, although C carries more absolute load
	c := worker("C", 20, 6, 70)
	got, err = SelectWorker([]*domain.Worker{a, c}, domain.StrategyCapacityAware, nil)
	require.NoError(t, err)
	assert.Equal(t, "C", got.WorkerID)

	got, err = SelectWorker([]*domain.Worker{a, c}, domain.StrategyLeastLoaded, nil)
	require.NoError(t, err)
	assert.Equal(t, "A", got.WorkerID)
}

func TestSelectWorker_TiesPickFirstSeen(t *testing.T) {
	first := worker("first", 10, 3, 80)
	second := worker("second", 10, 3, 80)

	for _, st := range []domain.RoutingStrategy{
		domain.StrategyLeastLoaded, domain.StrategyHealthBased, domain.StrategyCapacityAware,
	} {
		got, err := SelectWorker([]*domain.Worker{first, second}, st, nil)
		require.NoError(t, err)
		assert.Equal(t, "first", got.WorkerID, string(st))
	}
}

func TestSelectWorker_RoundRobinUsesRandomSource(t *testing.T) {
	ws := []*domain.Worker{worker("a", 1, 0, 100), worker("b", 1, 0, 100), worker("c", 1, 0, 100)}

	var asked int
	got, err := SelectWorker(ws, domain.StrategyRoundRobin, func(n int) int {
		asked = n
		return 2
	})
	require.NoError(t, err)
	assert.Equal(t, 3, asked)
	assert.Equal(t, "c", got.WorkerID)

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		got, err := SelectWorker(ws, domain.StrategyRoundRobin, nil)
		require.NoError(t, err)
		seen[got.WorkerID] = true
	}
	assert.Len(t, seen, 3)
}

func TestSelectWorker_Errors(t *testing.T) {
	_, err := SelectWorker(nil, domain.StrategyLeastLoaded, nil)
	assert.ErrorIs(t, err, domain.ErrNoHealthyWorkers)

	_, err = SelectWorker([]*domain.Worker{worker("a", 1, 0, 100)}, domain.RoutingStrategy("fastest"), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidStrategy)

	_, err = SelectWorker(nil, domain.RoutingStrategy(""), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidStrategy)
}

func TestRoute_RecordsMetrics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addWorker(t, "A", 10, 5, 90)
	f.addWorker(t, "B", 10, 2, 80)

	for i := 0; i < 3; i++ {
		w, err := f.selector.Route(ctx, "tenant-1", domain.StrategyLeastLoaded, domain.AvailabilityFilter{})
		require.NoError(t, err)
		assert.Equal(t, "B", w.WorkerID)
	}
	w, err := f.selector.Route(ctx, "tenant-1", domain.StrategyHealthBased, domain.AvailabilityFilter{})
	require.NoError(t, err)
	assert.Equal(t, "A", w.WorkerID)

	m, err := f.selector.Metrics(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, int64(3), m.Total)
	assert.Equal(t, int64(3), m.ByStrategy[domain.StrategyLeastLoaded])

	m, err = f.selector.Metrics(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.Total)
}

func TestRoute_NoHealthyWorkers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addWorker(t, "sick", 10, 0, 20)
	f.addWorker(t, "full", 10, 10, 100)

	_, err := f.selector.Route(ctx, "tenant-1", domain.StrategyCapacityAware, domain.AvailabilityFilter{})
	assert.ErrorIs(t, err, domain.ErrNoHealthyWorkers)

	_, err = f.selector.Route(ctx, "tenant-1", domain.RoutingStrategy("bogus"), domain.AvailabilityFilter{})
	assert.ErrorIs(t, err, domain.ErrInvalidStrategy)
}
