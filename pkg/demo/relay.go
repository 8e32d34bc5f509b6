package demo

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/spf13/pflag"

	"github.com/fluxorio/nodelet/pkg/bus"
	"github.com/fluxorio/nodelet/pkg/loader"
	"github.com/fluxorio/nodelet/pkg/nodelet"
)

// RelayStats is returned by the ~stats service
type RelayStats struct {
	Relayed uint64
	Dropped uint64
}

// Relay republishes messages from ~in on ~out. Relaying runs on the
// multi-threaded queue; ~stats is served from the single-threaded one.
// Arguments: --drop-every N drops every Nth message (0 keeps all).
type Relay struct {
	*nodelet.Nodelet

	dropEvery uint64
	seen      atomic.Uint64
	relayed   atomic.Uint64
	dropped   atomic.Uint64
}

// NewRelay is the loader.Factory for RelayType
func NewRelay(opts ...nodelet.Option) loader.Unit {
	r := &Relay{}
	r.Nodelet = nodelet.New(r, opts...)
	return r
}

// OnInit subscribes ~in and advertises ~stats
func (r *Relay) OnInit() error {
	fs := pflag.NewFlagSet(r.Name(), pflag.ContinueOnError)
	fs.Uint64Var(&r.dropEvery, "drop-every", 0, "drop every Nth message")
	if err := fs.Parse(r.Argv()); err != nil {
		return fmt.Errorf("relay arguments: %w", err)
	}

	mt := r.MTPrivateNodeHandle()
	if _, err := mt.Subscribe("~in", r.relay); err != nil {
		return err
	}
	_, err := r.PrivateNodeHandle().AdvertiseService("~stats", func(ctx context.Context, req any) (any, error) {
		return RelayStats{Relayed: r.relayed.Load(), Dropped: r.dropped.Load()}, nil
	})
	return err
}

func (r *Relay) relay(ctx context.Context, msg bus.Message) {
	n := r.seen.Add(1)
	if r.dropEvery > 0 && n%r.dropEvery == 0 {
		r.dropped.Add(1)
		return
	}
	if err := r.MTPrivateNodeHandle().Publish("~out", msg.Body); err != nil {
		r.Logger().Warn("relaying message", "topic", msg.Topic, "error", err)
		return
	}
	r.relayed.Add(1)
}
