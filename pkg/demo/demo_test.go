package demo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxorio/nodelet/pkg/bus"
	"github.com/fluxorio/nodelet/pkg/core"
	"github.com/fluxorio/nodelet/pkg/demo"
	"github.com/fluxorio/nodelet/pkg/loader"
	"github.com/fluxorio/nodelet/pkg/nodelet"
)

func newLoader(t *testing.T) *loader.Loader {
	t.Helper()
	l := loader.New(loader.WithLogger(core.NopLogger()), loader.WithNodeletOptions(nodelet.WithMultiThreadedWorkers(2)))
	require.NoError(t, demo.Register(l))
	t.Cleanup(func() { l.Close(context.Background()) })
	return l
}

func call(t *testing.T, b *bus.Bus, service string) any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := b.Call(ctx, service, nil)
	require.NoError(t, err)
	return resp
}

func TestRegister(t *testing.T) {
	l := newLoader(t)
	assert.Equal(t, []string{demo.HeartbeatType, demo.RelayType}, l.Types())
	assert.True(t, errors.Is(demo.Register(l), loader.ErrTypeExists))
}

func TestHeartbeat(t *testing.T) {
	l := newLoader(t)

	beats := make(chan demo.Beat, 8)
	_, err := l.Bus().Subscribe("/pulse/beat", func(msg bus.Message) {
		select {
		case beats <- msg.Body.(demo.Beat):
		default:
		}
	})
	require.NoError(t, err)

	_, err = l.Load(context.Background(), "pulse", demo.HeartbeatType, nil, []string{"--period", "5ms"})
	require.NoError(t, err)

	dep, ok := l.Get("pulse")
	require.True(t, ok)
	assert.Equal(t, 5*time.Millisecond, dep.Unit.(*demo.Heartbeat).Period())

	var last uint64
	for i := 0; i < 3; i++ {
		select {
		case b := <-beats:
			assert.Equal(t, "pulse", b.Unit)
			assert.Greater(t, b.Seq, last)
			last = b.Seq
		case <-time.After(time.Second):
			t.Fatal("no heartbeat received")
		}
	}

	count := call(t, l.Bus(), "/pulse/count").(uint64)
	assert.GreaterOrEqual(t, count, last)
}

func TestHeartbeat_BadArguments(t *testing.T) {
	l := newLoader(t)
	_, err := l.Load(context.Background(), "pulse", demo.HeartbeatType, nil, []string{"--period", "soon"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrOnInitFailed))
	assert.Empty(t, l.List())
}

func TestRelay(t *testing.T) {
	l := newLoader(t)
	_, err := l.Load(context.Background(), "relay", demo.RelayType, map[string]string{"~in": "/input"}, []string{"--drop-every", "3"})
	require.NoError(t, err)

	out := make(chan any, 16)
	_, err = l.Bus().Subscribe("/relay/out", func(msg bus.Message) { out <- msg.Body })
	require.NoError(t, err)

	for i := 1; i <= 6; i++ {
		_, err := l.Bus().Publish("/input", i)
		require.NoError(t, err)
	}

	got := map[any]bool{}
	for len(got) < 4 {
		select {
		case v := <-out:
			got[v] = true
		case <-time.After(time.Second):
			t.Fatalf("relayed %d messages, want 4", len(got))
		}
	}

	require.Eventually(t, func() bool {
		resp, err := l.Bus().Call(context.Background(), "/relay/stats", nil)
		if err != nil {
			return false
		}
		stats := resp.(demo.RelayStats)
		return stats.Relayed == 4 && stats.Dropped == 2
	}, time.Second, 10*time.Millisecond)
}
