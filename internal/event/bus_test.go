package event

import (
	"sync"
	"testing"
	"time"
)

func TestBus_PublishFansOutToSubscribers(t *testing.T) {
	b := NewBus()
	var wg sync.WaitGroup
	wg.Add(2)

	var mu sync.Mutex
	var received []string

	b.Subscribe(PhaseStarted, func(e Event) {
		defer wg.Done()
		mu.Lock()
		received = append(received, "sub1:"+e.Phase)
		mu.Unlock()
	})
	b.Subscribe(PhaseStarted, func(e Event) {
		defer wg.Done()
		mu.Lock()
		received = append(received, "sub2:"+e.Phase)
		mu.Unlock()
	})

	b.Publish(Event{Type: PhaseStarted, Phase: "phase1"})

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("subscribers did not both fire within the timeout")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 {
		t.Fatalf("expected 2 deliveries, got %d: %v", len(received), received)
	}
}

func TestBus_PublishIgnoresUnrelatedEventTypes(t *testing.T) {
	b := NewBus()
	fired := make(chan struct{}, 1)
	b.Subscribe(PhaseCompleted, func(e Event) { fired <- struct{}{} })

	b.Publish(Event{Type: PhaseStarted, Phase: "phase1"})

	select {
	case <-fired:
		t.Fatalf("subscriber to PhaseCompleted should not fire on a PhaseStarted publish")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBus_PublishWithNoSubscribersDoesNotBlock(t *testing.T) {
	b := NewBus()
	b.Publish(Event{Type: ConflictDetected})
}
