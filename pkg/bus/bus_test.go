package bus_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fluxorio/nodelet/pkg/bus"
	"github.com/fluxorio/nodelet/pkg/core"
)

func newBus() *bus.Bus {
	return bus.New(bus.WithLogger(core.NopLogger()))
}

func TestBus_Publish(t *testing.T) {
	b := newBus()
	defer b.Close()

	var counter int32
	var payload any
	for i := 0; i < 2; i++ {
		if _, err := b.Subscribe("/chatter", func(msg bus.Message) {
			atomic.AddInt32(&counter, 1)
			payload = msg.Body
			if msg.ID == "" || msg.Topic != "/chatter" {
				t.Errorf("unexpected message %+v", msg)
			}
		}); err != nil {
			t.Fatalf("Subscribe() error = %v", err)
		}
	}

	n, err := b.Publish("/chatter", "hello")
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if n != 2 || atomic.LoadInt32(&counter) != 2 {
		t.Errorf("delivered to %d (counter %d), want 2", n, counter)
	}
	if payload != "hello" {
		t.Errorf("payload = %v", payload)
	}

	// No subscribers is not an error
	if n, err := b.Publish("/nobody", 1); err != nil || n != 0 {
		t.Errorf("Publish() to empty topic = %d, %v", n, err)
	}
}

func TestBus_Validation(t *testing.T) {
	b := newBus()
	defer b.Close()

	if _, err := b.Publish("", "x"); !errors.Is(err, core.ErrInvalidName) {
		t.Errorf("Publish() with empty topic error = %v", err)
	}
	if _, err := b.Subscribe("/ok", nil); !errors.Is(err, bus.ErrNilDelivery) {
		t.Errorf("Subscribe() with nil delivery error = %v", err)
	}
	if _, err := b.Subscribe("bad name", func(bus.Message) {}); err == nil {
		t.Error("Subscribe() with invalid name should fail")
	}
}

func TestBus_Unregister(t *testing.T) {
	b := newBus()
	defer b.Close()

	var counter int32
	sub, _ := b.Subscribe("/chatter", func(bus.Message) { atomic.AddInt32(&counter, 1) })
	if b.SubscriberCount("/chatter") != 1 {
		t.Fatalf("SubscriberCount() = %d", b.SubscriberCount("/chatter"))
	}

	if err := sub.Unregister(); err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}
	if err := sub.Unregister(); err != nil {
		t.Errorf("second Unregister() error = %v", err)
	}
	b.Publish("/chatter", "x")

	if atomic.LoadInt32(&counter) != 0 {
		t.Error("unregistered subscription received a message")
	}
	if len(b.Topics()) != 0 {
		t.Errorf("Topics() = %v, want empty", b.Topics())
	}
}

func TestBus_PanickingDeliveryIsIsolated(t *testing.T) {
	b := newBus()
	defer b.Close()

	var reached int32
	b.Subscribe("/chatter", func(bus.Message) { panic("boom") })
	b.Subscribe("/chatter", func(bus.Message) { atomic.StoreInt32(&reached, 1) })

	if _, err := b.Publish("/chatter", "x"); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if atomic.LoadInt32(&reached) != 1 {
		t.Error("second subscriber should still receive the message")
	}
}

func TestBus_Services(t *testing.T) {
	b := newBus()
	defer b.Close()

	if _, err := b.Call(context.Background(), "/add", 1); !errors.Is(err, bus.ErrNoService) {
		t.Errorf("Call() without server error = %v", err)
	}

	srv, err := b.AdvertiseService("/add", func(ctx context.Context, req any, reply func(any, error)) {
		go reply(req.(int)+1, nil)
	})
	if err != nil {
		t.Fatalf("AdvertiseService() error = %v", err)
	}
	if _, err := b.AdvertiseService("/add", func(context.Context, any, func(any, error)) {}); !errors.Is(err, bus.ErrServiceExists) {
		t.Errorf("duplicate AdvertiseService() error = %v", err)
	}

	resp, err := b.Call(context.Background(), "/add", 41)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if resp != 42 {
		t.Errorf("Call() = %v, want 42", resp)
	}

	srv.Unregister()
	if len(b.Services()) != 0 {
		t.Errorf("Services() = %v after Unregister", b.Services())
	}
}

func TestBus_CallTimeout(t *testing.T) {
	b := newBus()
	defer b.Close()

	b.AdvertiseService("/slow", func(context.Context, any, func(any, error)) {})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := b.Call(ctx, "/slow", nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Call() error = %v, want deadline exceeded", err)
	}
}

func TestBus_Close(t *testing.T) {
	b := newBus()
	b.Subscribe("/chatter", func(bus.Message) {})
	b.Close()

	if _, err := b.Publish("/chatter", "x"); !errors.Is(err, bus.ErrClosed) {
		t.Errorf("Publish() after Close error = %v", err)
	}
	if _, err := b.Subscribe("/chatter", func(bus.Message) {}); !errors.Is(err, bus.ErrClosed) {
		t.Errorf("Subscribe() after Close error = %v", err)
	}
}
