package inproc

import (
	"errors"
	"testing"

	"cyber_range/internal/domain"
)

func event(id string) domain.Event {
	return domain.Event{Type: domain.EventRoundStarted, RoundID: id}
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	bus := New(4)
	a := bus.Register("monitor")
	b := bus.Register("archiver")

	if err := bus.Publish(event("r1")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for name, ch := range map[string]<-chan domain.Event{"monitor": a, "archiver": b} {
		select {
		case evt := <-ch:
			if evt.RoundID != "r1" {
				t.Fatalf("%s got round %s want r1", name, evt.RoundID)
			}
		default:
			t.Fatalf("%s received nothing", name)
		}
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	bus := New(4)
	a := bus.Register("monitor")
	b := bus.Register("monitor")
	if a != b {
		t.Fatalf("expected same channel for repeated registration")
	}
}

func TestFullQueueDropsForThatSubscriberOnly(t *testing.T) {
	bus := New(1)
	slow := bus.Register("slow")
	fast := bus.Register("fast")

	if err := bus.Publish(event("r1")); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	// Drain only the fast subscriber; the slow one's queue stays full.
	<-fast

	err := bus.Publish(event("r2"))
	if !errors.Is(err, ErrSubscriberQueueFull) {
		t.Fatalf("err=%v want ErrSubscriberQueueFull", err)
	}

	select {
	case evt := <-fast:
		if evt.RoundID != "r2" {
			t.Fatalf("fast got round %s want r2", evt.RoundID)
		}
	default:
		t.Fatalf("fast subscriber missed the event")
	}
	if evt := <-slow; evt.RoundID != "r1" {
		t.Fatalf("slow got round %s want r1", evt.RoundID)
	}
}

func TestUnregisterClosesChannel(t *testing.T) {
	bus := New(4)
	ch := bus.Register("monitor")
	bus.Unregister("monitor")

	if _, open := <-ch; open {
		t.Fatalf("expected closed channel after unregister")
	}
	// Unregistering twice is a no-op.
	bus.Unregister("monitor")

	if err := bus.Publish(event("r1")); err != nil {
		t.Fatalf("publish after unregister: %v", err)
	}
}
