package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/worker-supervisor/worker/trace"
)

func serialRoute(maxQueue float64) RouteConfig {
	return RouteConfig{Path: "/generate/sync", AllowParallel: false, MaxQueueSeconds: maxQueue}
}

func TestAdmit_UnknownRoute_RejectedWithoutQueueing(t *testing.T) {
	// GIVEN a controller with one route
	at := trace.NewAdmissionTrace(trace.TraceConfig{Level: trace.TraceLevelDecisions})
	ac := NewAdmissionController([]RouteConfig{serialRoute(10)}, WithAdmissionTrace(at))

	// WHEN a request targets an unconfigured route
	g, err := ac.Admit(context.Background(), "/nope", "r1")

	// THEN it fails with UnknownRoute and no queue state changes
	assert.Nil(t, g)
	assert.Equal(t, UnknownRoute, CanonicalCode(err))
	assert.Equal(t, 0, ac.QueueDepth("/generate/sync"))
	assert.Equal(t, 0, ac.InFlight("/generate/sync"))
	require.Len(t, at.Admissions(), 1)
	assert.Equal(t, trace.OutcomeUnknownRoute, at.Admissions()[0].Outcome)
}

func TestAdmit_ParallelRoute_NeverQueues(t *testing.T) {
	ac := NewAdmissionController([]RouteConfig{{Path: "/prompt", AllowParallel: true}})

	grants := make([]*Grant, 0, 20)
	for i := 0; i < 20; i++ {
		g, err := ac.Admit(context.Background(), "/prompt", "r")
		require.NoError(t, err)
		assert.False(t, g.Queued)
		grants = append(grants, g)
	}
	assert.Equal(t, 20, ac.InFlight("/prompt"))
	assert.Equal(t, 0, ac.QueueDepth("/prompt"))

	for _, g := range grants {
		g.Release()
	}
	assert.Equal(t, 0, ac.InFlight("/prompt"))
}

func TestAdmit_SerialRoute_AtMostOneAdmitted(t *testing.T) {
	// GIVEN a serialized route and many concurrent requests
	ac := NewAdmissionController([]RouteConfig{serialRoute(10)})
	var active, maxActive atomic.Int32
	var wg sync.WaitGroup

	// WHEN each admitted request holds the route briefly
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g, err := ac.Admit(context.Background(), "/generate/sync", "r")
			if !assert.NoError(t, err) {
				return
			}
			defer g.Release()
			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()

	// THEN never more than one request was admitted at a time
	assert.Equal(t, int32(1), maxActive.Load())
	assert.Equal(t, 0, ac.InFlight("/generate/sync"))
	assert.Equal(t, 0, ac.QueueDepth("/generate/sync"))
}

func TestAdmit_SerialRoute_FIFOPromotion(t *testing.T) {
	// GIVEN an occupied serialized route
	ac := NewAdmissionController([]RouteConfig{serialRoute(10)})
	holder, err := ac.Admit(context.Background(), "/generate/sync", "holder")
	require.NoError(t, err)

	// WHEN waiters enqueue one after another
	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup
	ids := []string{"A", "B", "C", "D"}
	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g, err := ac.Admit(context.Background(), "/generate/sync", id)
			if !assert.NoError(t, err) {
				return
			}
			assert.True(t, g.Queued)
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			g.Release()
		}()
		require.Eventually(t, func() bool { return ac.QueueDepth("/generate/sync") == i+1 }, time.Second, time.Millisecond)
	}

	holder.Release()
	wg.Wait()

	// THEN they are admitted strictly in arrival order
	assert.Equal(t, ids, order)
}

func TestAdmit_QueueTimeout_LeavesNoDanglingTicket(t *testing.T) {
	// GIVEN a route occupied for longer than the wait budget
	at := trace.NewAdmissionTrace(trace.TraceConfig{Level: trace.TraceLevelDecisions})
	ac := NewAdmissionController([]RouteConfig{serialRoute(0.05)}, WithAdmissionTrace(at))
	holder, err := ac.Admit(context.Background(), "/generate/sync", "holder")
	require.NoError(t, err)
	defer holder.Release()

	// WHEN another request waits
	start := time.Now()
	g, err := ac.Admit(context.Background(), "/generate/sync", "late")

	// THEN it fails with QueueTimeout after roughly the budget and leaves the queue empty
	assert.Nil(t, g)
	assert.Equal(t, QueueTimeout, CanonicalCode(err))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 0, ac.QueueDepth("/generate/sync"))
	assert.Equal(t, 1, ac.InFlight("/generate/sync"))

	summary := trace.Summarize(at)
	assert.Equal(t, 1, summary.OutcomeDistribution[trace.OutcomeQueueTimeout])
}

func TestAdmit_ZeroBudget_TimesOutImmediately(t *testing.T) {
	ac := NewAdmissionController([]RouteConfig{serialRoute(0)})
	holder, err := ac.Admit(context.Background(), "/generate/sync", "holder")
	require.NoError(t, err)
	defer holder.Release()

	_, err = ac.Admit(context.Background(), "/generate/sync", "late")
	assert.Equal(t, QueueTimeout, CanonicalCode(err))
	assert.Equal(t, 0, ac.QueueDepth("/generate/sync"))
}

func TestAdmit_ZeroBudget_FreeRouteStillAdmits(t *testing.T) {
	ac := NewAdmissionController([]RouteConfig{serialRoute(0)})
	g, err := ac.Admit(context.Background(), "/generate/sync", "first")
	require.NoError(t, err)
	g.Release()
}

func TestAdmit_CallerCancelled_RemovesTicket(t *testing.T) {
	ac := NewAdmissionController([]RouteConfig{serialRoute(10)})
	holder, err := ac.Admit(context.Background(), "/generate/sync", "holder")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := ac.Admit(ctx, "/generate/sync", "gone")
		errCh <- err
	}()
	require.Eventually(t, func() bool { return ac.QueueDepth("/generate/sync") == 1 }, time.Second, time.Millisecond)

	// WHEN the caller disconnects
	cancel()

	// THEN the wait ends with the context error and the ticket is gone
	err = <-errCh
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, ac.QueueDepth("/generate/sync"))

	// AND releasing the holder frees the route entirely
	holder.Release()
	assert.Equal(t, 0, ac.InFlight("/generate/sync"))
}

func TestGrant_Release_IsIdempotent(t *testing.T) {
	ac := NewAdmissionController([]RouteConfig{serialRoute(10)})
	g1, err := ac.Admit(context.Background(), "/generate/sync", "a")
	require.NoError(t, err)

	waiting := make(chan *Grant, 1)
	go func() {
		g, err := ac.Admit(context.Background(), "/generate/sync", "b")
		assert.NoError(t, err)
		waiting <- g
	}()
	require.Eventually(t, func() bool { return ac.QueueDepth("/generate/sync") == 1 }, time.Second, time.Millisecond)

	// WHEN the first grant is released twice
	g1.Release()
	g1.Release()

	// THEN the second release does not free the slot now owned by b
	g2 := <-waiting
	assert.Equal(t, 1, ac.InFlight("/generate/sync"))
	g2.Release()
	assert.Equal(t, 0, ac.InFlight("/generate/sync"))
}

func TestAdmit_TimeoutRacingPromotion_ResolvesExactlyOnce(t *testing.T) {
	// GIVEN many rounds where the release lands right at the waiter's deadline
	for round := 0; round < 50; round++ {
		ac := NewAdmissionController([]RouteConfig{serialRoute(0.005)})
		holder, err := ac.Admit(context.Background(), "/generate/sync", "holder")
		require.NoError(t, err)

		result := make(chan error, 1)
		var grant *Grant
		go func() {
			g, err := ac.Admit(context.Background(), "/generate/sync", "racer")
			grant = g
			result <- err
		}()
		time.Sleep(5 * time.Millisecond)
		holder.Release()
		err = <-result

		// THEN the waiter either holds the route or timed out, never both, never neither
		if err == nil {
			require.NotNil(t, grant)
			assert.Equal(t, 1, ac.InFlight("/generate/sync"))
			grant.Release()
		} else {
			assert.Equal(t, QueueTimeout, CanonicalCode(err))
		}
		assert.Equal(t, 0, ac.InFlight("/generate/sync"), "round %d leaked occupancy", round)
		assert.Equal(t, 0, ac.QueueDepth("/generate/sync"), "round %d left a ticket", round)
	}
}

func TestAdmit_ExpiredWaiterSkippedOnRelease(t *testing.T) {
	// GIVEN an expired waiter ahead of a fresh one
	ac := NewAdmissionController([]RouteConfig{serialRoute(0.03)})
	holder, err := ac.Admit(context.Background(), "/generate/sync", "holder")
	require.NoError(t, err)

	first := make(chan error, 1)
	go func() {
		_, err := ac.Admit(context.Background(), "/generate/sync", "old")
		first <- err
	}()
	assert.Equal(t, QueueTimeout, CanonicalCode(<-first))

	second := make(chan *Grant, 1)
	go func() {
		g, err := ac.Admit(context.Background(), "/generate/sync", "fresh")
		assert.NoError(t, err)
		second <- g
	}()
	require.Eventually(t, func() bool { return ac.QueueDepth("/generate/sync") == 1 }, time.Second, time.Millisecond)

	// WHEN the holder releases
	holder.Release()

	// THEN the fresh waiter gets the route
	g := <-second
	assert.Equal(t, "fresh", g.RequestID)
	g.Release()
}

func TestAdmissionController_Routes_KeepsConfigOrder(t *testing.T) {
	ac := NewAdmissionController([]RouteConfig{
		{Path: "/b"}, {Path: "/a", AllowParallel: true}, {Path: "/b"},
	})
	assert.Equal(t, []string{"/b", "/a"}, ac.Routes())
	assert.True(t, ac.HasRoute("/a"))
	cfg, ok := ac.RouteConfig("/a")
	assert.True(t, ok)
	assert.True(t, cfg.AllowParallel)
}
