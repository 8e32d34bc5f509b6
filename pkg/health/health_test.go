package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/fluxorio/nodelet/pkg/callback"
	"github.com/fluxorio/nodelet/pkg/core"
	"github.com/fluxorio/nodelet/pkg/health"
	"github.com/fluxorio/nodelet/pkg/nodelet"
	"github.com/fluxorio/nodelet/pkg/spinner"
)

func up(context.Context) error { return nil }

func TestRegistry_Check(t *testing.T) {
	r := health.NewRegistry()

	status, results := r.Check(context.Background())
	assert.Equal(t, health.StatusUp, status)
	assert.Empty(t, results)

	r.Register("a", up)
	r.Register("b", func(context.Context) error { return errors.New("disk gone") })
	assert.Equal(t, []string{"a", "b"}, r.Names())

	status, results = r.Check(context.Background())
	assert.Equal(t, health.StatusDown, status)
	assert.Equal(t, health.StatusUp, results["a"].Status)
	assert.Equal(t, "disk gone", results["b"].Message)

	r.Unregister("b")
	status, _ = r.Check(context.Background())
	assert.Equal(t, health.StatusUp, status)
}

func TestRegistry_CheckTimeout(t *testing.T) {
	r := health.NewRegistry()
	r.RegisterWithTimeout("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, 20*time.Millisecond)

	start := time.Now()
	status, results := r.Check(context.Background())
	assert.Equal(t, health.StatusDown, status)
	assert.Contains(t, results["slow"].Message, "deadline exceeded")
	assert.Less(t, time.Since(start), time.Second)
}

func TestQueueProbe(t *testing.T) {
	q := callback.NewQueue("probe")
	probe := health.QueueProbe(q)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, probe(ctx), "nothing spins the queue")
	assert.Equal(t, 0, q.Len(), "timed out probe must not stay queued")

	s, err := spinner.New(1, q, spinner.WithLogger(core.NopLogger()))
	require.NoError(t, err)
	require.NoError(t, s.Start())
	defer s.Stop(context.Background())

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	assert.NoError(t, probe(ctx2))
}

func TestQueueProbe_Disabled(t *testing.T) {
	q := callback.NewQueue("off")
	q.Disable()
	assert.Error(t, health.QueueProbe(q)(context.Background()))
}

func TestUnitProbe(t *testing.T) {
	n := nodelet.New(nodelet.InitFunc(func() error { return nil }), nodelet.WithLogger(core.NopLogger()))
	probe := health.UnitProbe(n)

	assert.ErrorIs(t, probe(context.Background()), core.ErrNotInitialized)

	require.NoError(t, n.Init("probed", nil, nil))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, probe(ctx))

	require.NoError(t, n.Close(context.Background()))
	assert.ErrorIs(t, probe(context.Background()), core.ErrNotInitialized)
}

func TestFastHTTPHandler(t *testing.T) {
	r := health.NewRegistry()
	r.Register("ok", up)
	h := r.FastHTTPHandler()

	var ctx fasthttp.RequestCtx
	h(&ctx)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "application/json", string(ctx.Response.Header.ContentType()))

	var resp health.Response
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
	assert.Equal(t, health.StatusUp, resp.Status)
	assert.Contains(t, resp.Checks, "ok")

	r.Register("bad", func(context.Context) error { return errors.New("no") })
	var ctx2 fasthttp.RequestCtx
	h(&ctx2)
	assert.Equal(t, fasthttp.StatusServiceUnavailable, ctx2.Response.StatusCode())
}
