package loop

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRoutineSuspendsOnlyAroundIO(t *testing.T) {
	l := New()
	l.Start()

	var (
		active, peak atomic.Int32
		inflight     atomic.Int32
		overlapped   atomic.Bool
		order        []string
		mu           sync.Mutex
	)
	step := func() {
		if n := active.Add(1); n > peak.Load() {
			peak.Store(n)
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
	}
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	const n = 4
	for i := 0; i < n; i++ {
		require.NoError(t, l.Schedule(func(ctx context.Context) {
			Go(l, ctx, func(ctx context.Context) {
				step()
				for depth := 0; depth < 2; depth++ {
					_, err := Suspend(ctx, func(context.Context) (struct{}, error) {
						if inflight.Add(1) > 1 {
							overlapped.Store(true)
						}
						time.Sleep(20 * time.Millisecond)
						inflight.Add(-1)
						return struct{}{}, nil
					})
					require.NoError(t, err)
					step()
				}
				record("done")
			})
		}))
	}
	require.NoError(t, l.Shutdown(nil))
	l.Wait()

	require.Equal(t, int32(1), peak.Load())
	require.True(t, overlapped.Load())
	require.Len(t, order, n)
}

func TestRoutineRunsBeforeGoReturns(t *testing.T) {
	l := New()
	l.Start()

	var order []string
	require.NoError(t, l.Schedule(func(ctx context.Context) {
		Go(l, ctx, func(ctx context.Context) {
			order = append(order, "body")
			v, err := Suspend(ctx, func(context.Context) (int, error) { return 7, nil })
			require.NoError(t, err)
			require.Equal(t, 7, v)
			order = append(order, "resumed")
		})
		order = append(order, "returned")
	}))
	require.NoError(t, l.Shutdown(nil))
	l.Wait()

	require.Equal(t, []string{"body", "returned", "resumed"}, order)
}

func TestSuspendOutsideRoutineRunsInline(t *testing.T) {
	v, err := Suspend(context.Background(), func(context.Context) (string, error) { return "inline", nil })
	require.NoError(t, err)
	require.Equal(t, "inline", v)

	_, err = Suspend(context.Background(), func(context.Context) (int, error) { panic("io boom") })
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
}

func TestRoutinePanicReturnsTheTurn(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	l := New(WithLogger(zap.New(core)))
	l.Start()

	ran := false
	require.NoError(t, l.Schedule(func(ctx context.Context) {
		Go(l, ctx, func(ctx context.Context) {
			_, _ = Suspend(ctx, func(context.Context) (int, error) { return 0, nil })
			panic("boom")
		})
	}))
	require.NoError(t, l.Schedule(func(context.Context) { ran = true }))
	require.NoError(t, l.Shutdown(nil))
	l.Wait()

	require.True(t, ran)
	require.Equal(t, 1, logs.FilterMessage("loop: recovered panic in routine").Len())
}
