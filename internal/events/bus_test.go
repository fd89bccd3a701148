package events_test

import (
	"testing"
	"time"

	"github.com/micro-nova/sync-sonic-go/internal/events"
	"github.com/micro-nova/sync-sonic-go/internal/models"
)

func TestBusSubscribePublish(t *testing.T) {
	bus := events.NewBus()

	ch := bus.Subscribe("test1")

	snap := models.Snapshot{Connected: []string{"AA:BB:CC:DD:EE:01"}, Scanning: true}
	bus.Publish(snap)

	select {
	case got := <-ch:
		if !got.Snap.Scanning || len(got.Snap.Connected) != 1 {
			t.Errorf("got %+v, want %+v", got.Snap, snap)
		}
		if got.Seq != 1 {
			t.Errorf("got seq %d, want 1", got.Seq)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for event")
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := events.NewBus()
	ch := bus.Subscribe("test-unsub")

	bus.Unsubscribe("test-unsub")

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel to be closed after unsubscribe")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestBusCoalescesInsteadOfBlockingOnFullBuffer(t *testing.T) {
	bus := events.NewBus()
	ch := bus.Subscribe("slow-reader")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			bus.Publish(models.Snapshot{Connected: []string{"AA:BB:CC:DD:EE:01"}})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Publish blocked for too long (should coalesce, not block)")
	}

	// Whatever survived in the buffer must be in non-decreasing sequence
	// order — a stale delivery should never be reordered ahead of a
	// newer one that coalescing left behind.
	var lastSeq uint64
	draining := true
	for draining {
		select {
		case d := <-ch:
			if d.Seq < lastSeq {
				t.Fatalf("received out-of-order sequence: %d after %d", d.Seq, lastSeq)
			}
			lastSeq = d.Seq
		default:
			draining = false
		}
	}
	if lastSeq == 0 {
		t.Fatal("expected at least one delivery to survive coalescing")
	}

	bus.Unsubscribe("slow-reader")
}

func TestBusReplaysLastSnapshotToNewSubscriber(t *testing.T) {
	bus := events.NewBus()
	bus.Publish(models.Snapshot{Connected: []string{"AA:BB:CC:DD:EE:02"}})

	ch := bus.Subscribe("late-joiner")
	select {
	case d := <-ch:
		if len(d.Snap.Connected) != 1 || d.Snap.Connected[0] != "AA:BB:CC:DD:EE:02" {
			t.Errorf("got %+v, want replay of last snapshot", d.Snap)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for replayed snapshot")
	}
}

func TestBusNoReplayBeforeFirstPublish(t *testing.T) {
	bus := events.NewBus()
	ch := bus.Subscribe("first-joiner")

	select {
	case d := <-ch:
		t.Fatalf("expected no replay before any Publish, got %+v", d)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestBusSubscriberCount(t *testing.T) {
	bus := events.NewBus()
	if n := bus.SubscriberCount(); n != 0 {
		t.Errorf("expected 0 subscribers, got %d", n)
	}
	bus.Subscribe("s1")
	bus.Subscribe("s2")
	if n := bus.SubscriberCount(); n != 2 {
		t.Errorf("expected 2 subscribers, got %d", n)
	}
	bus.Unsubscribe("s1")
	if n := bus.SubscriberCount(); n != 1 {
		t.Errorf("expected 1 subscriber, got %d", n)
	}
}
