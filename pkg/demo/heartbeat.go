// Package demo holds small unit types shipped with nodeletd.
package demo

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spf13/pflag"

	"github.com/fluxorio/nodelet/pkg/handle"
	"github.com/fluxorio/nodelet/pkg/loader"
	"github.com/fluxorio/nodelet/pkg/nodelet"
)

// Unit type names
const (
	HeartbeatType = "demo/heartbeat"
	RelayType     = "demo/relay"
)

// Register adds the demo types to l
func Register(l *loader.Loader) error {
	if err := l.Register(HeartbeatType, NewHeartbeat); err != nil {
		return err
	}
	return l.Register(RelayType, NewRelay)
}

// Beat is published by Heartbeat on ~beat
type Beat struct {
	Seq  uint64
	Unit string
	At   time.Time
}

// Heartbeat publishes a Beat on ~beat every period and serves the number
// of beats sent on ~count. Arguments: --period (default 1s).
type Heartbeat struct {
	*nodelet.Nodelet

	period time.Duration
	seq    atomic.Uint64
}

// NewHeartbeat is the loader.Factory for HeartbeatType
func NewHeartbeat(opts ...nodelet.Option) loader.Unit {
	h := &Heartbeat{}
	h.Nodelet = nodelet.New(h, opts...)
	return h
}

// OnInit parses arguments and starts the beat timer on the
// single-threaded queue.
func (h *Heartbeat) OnInit() error {
	fs := pflag.NewFlagSet(h.Name(), pflag.ContinueOnError)
	fs.DurationVar(&h.period, "period", time.Second, "interval between beats")
	if err := fs.Parse(h.Argv()); err != nil {
		return fmt.Errorf("heartbeat arguments: %w", err)
	}

	nh := h.PrivateNodeHandle()
	if _, err := nh.AdvertiseService("~count", func(ctx context.Context, req any) (any, error) {
		return h.seq.Load(), nil
	}); err != nil {
		return err
	}

	_, err := nh.CreateTimer(h.period, func(ctx context.Context, ev handle.TimerEvent) {
		beat := Beat{Seq: h.seq.Add(1), Unit: h.Name(), At: ev.Real}
		if err := nh.Publish("~beat", beat); err != nil {
			h.Logger().Warn("publishing beat", "error", err)
		}
	}, false)
	if err != nil {
		return err
	}
	h.Logger().Info("heartbeat started", "period", h.period)
	return nil
}

// Period returns the parsed beat interval
func (h *Heartbeat) Period() time.Duration { return h.period }
