package events_test

import (
	"sync/atomic"
	"testing"
	"time"

	"careline/internal/events"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := events.NewBus()
	var instances, logs atomic.Int32
	unsub := bus.Subscribe(events.TopicInstances, func(c events.Change) {
		if c.PatientID == "pat-1" {
			instances.Add(1)
		}
	})
	bus.Subscribe(events.TopicLogs, func(events.Change) { logs.Add(1) })

	bus.Publish(events.Change{Topic: events.TopicInstances, PatientID: "pat-1"})
	bus.Publish(events.Change{Topic: events.TopicLogs, PatientID: "pat-1"})
	unsub()
	bus.Publish(events.Change{Topic: events.TopicInstances, PatientID: "pat-1"})
	bus.Close()

	if got := instances.Load(); got != 1 {
		t.Fatalf("instances handler ran %d times, want 1", got)
	}
	if got := logs.Load(); got != 1 {
		t.Fatalf("logs handler ran %d times, want 1", got)
	}
}

func TestBusCloseDropsSubscribers(t *testing.T) {
	bus := events.NewBus()
	var n atomic.Int32
	bus.Subscribe(events.TopicPlan, func(events.Change) { n.Add(1) })
	bus.Close()
	bus.Publish(events.Change{Topic: events.TopicPlan})
	if n.Load() != 0 {
		t.Fatalf("closed bus must not deliver")
	}
}

func TestDebounceCoalesces(t *testing.T) {
	batches := make(chan []events.Change, 2)
	handler, stop := events.Debounce(20*time.Millisecond, func(b []events.Change) {
		batches <- b
	})
	defer stop()

	handler(events.Change{Topic: events.TopicInstances, PatientID: "pat-1"})
	handler(events.Change{Topic: events.TopicInstances, PatientID: "pat-1"})
	handler(events.Change{Topic: events.TopicLogs, PatientID: "pat-1"})

	select {
	case b := <-batches:
		if len(b) != 3 {
			t.Fatalf("expected one batch of 3, got %d", len(b))
		}
	case <-time.After(time.Second):
		t.Fatalf("debounced batch never fired")
	}
	select {
	case b := <-batches:
		t.Fatalf("unexpected second batch: %+v", b)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDebounceStop(t *testing.T) {
	batches := make(chan []events.Change, 1)
	handler, stop := events.Debounce(10*time.Millisecond, func(b []events.Change) {
		batches <- b
	})
	handler(events.Change{Topic: events.TopicInstances})
	stop()
	select {
	case b := <-batches:
		t.Fatalf("stopped debounce must not fire, got %+v", b)
	case <-time.After(50 * time.Millisecond):
	}
	// handlers after stop are dropped
	handler(events.Change{Topic: events.TopicInstances})
	select {
	case <-batches:
		t.Fatalf("handler after stop must be a no-op")
	case <-time.After(30 * time.Millisecond):
	}
}
