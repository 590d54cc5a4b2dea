package events

import (
	"sync"
	"time"
)

// Topic identifies a class of in-process change notification.
type Topic string

const (
	TopicInstances     Topic = "instances.changed"
	TopicLogs          Topic = "logs.changed"
	TopicPlan          Topic = "plan.changed"
	TopicNotifications Topic = "notifications.changed"
)

// Change describes what moved. InstanceIDs is set for instance-level
// transitions so subscribers can cancel per-instance work.
type Change struct {
	Topic       Topic
	PatientID   string
	InstanceIDs []string
}

type Handler func(Change)

// Bus is a small in-process publish/subscribe fan-out. Publishing never
// blocks on subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Topic]map[int]Handler
	nextID int
	closed bool
	wg     sync.WaitGroup
}

func NewBus() *Bus {
	return &Bus{subs: make(map[Topic]map[int]Handler)}
}

// Subscribe registers a handler; the returned func removes it.
func (b *Bus) Subscribe(topic Topic, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.subs[topic][id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[topic], id)
	}
}

// Publish delivers the change to every subscriber of its topic, each on
// its own goroutine.
func (b *Bus) Publish(c Change) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, h := range b.subs[c.Topic] {
		h := h
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			h(c)
		}()
	}
}

// Close drops all subscriptions and waits for in-flight deliveries.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.subs = make(map[Topic]map[int]Handler)
	b.mu.Unlock()
	b.wg.Wait()
}

// Debounce wraps fn so a burst of changes inside the window collapses to
// one invocation with the batch. The returned stop func flushes nothing
// and cancels any pending timer; call it on teardown.
func Debounce(window time.Duration, fn func([]Change)) (Handler, func()) {
	var (
		mu      sync.Mutex
		pending []Change
		timer   *time.Timer
		stopped bool
	)
	fire := func() {
		mu.Lock()
		batch := pending
		pending = nil
		timer = nil
		mu.Unlock()
		if len(batch) > 0 {
			fn(batch)
		}
	}
	handler := func(c Change) {
		mu.Lock()
		defer mu.Unlock()
		if stopped {
			return
		}
		pending = append(pending, c)
		if timer == nil {
			timer = time.AfterFunc(window, fire)
		}
	}
	stop := func() {
		mu.Lock()
		defer mu.Unlock()
		stopped = true
		if timer != nil {
			timer.Stop()
			timer = nil
		}
		pending = nil
	}
	return handler, stop
}
