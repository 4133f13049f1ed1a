package core

import (
	"testing"
	"time"
)

func TestScheduleImmediateDuringCapture(t *testing.T) {
	s := newUpdateScheduler(time.Hour)
	if !s.Schedule(true) {
		t.Fatalf("capture-active event must be immediate")
	}
	if s.C() != nil {
		t.Fatalf("immediate path must not arm the timer")
	}
}

func TestScheduleCoalescesBurst(t *testing.T) {
	s := newUpdateScheduler(20 * time.Millisecond)
	defer s.Stop()
	for i := 0; i < 3; i++ {
		if s.Schedule(false) {
			t.Fatalf("debounced event %d reported immediate", i)
		}
	}
	select {
	case <-s.C():
		if !s.Fired() {
			t.Fatalf("expected pending flush after burst")
		}
	case <-time.After(time.Second):
		t.Fatalf("timer never fired")
	}
	select {
	case <-s.C():
		t.Fatalf("burst produced a second flush")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestScheduleReschedulesPending(t *testing.T) {
	s := newUpdateScheduler(30 * time.Millisecond)
	defer s.Stop()
	s.Schedule(false)
	time.Sleep(15 * time.Millisecond)
	s.Schedule(false)
	select {
	case <-s.C():
		t.Fatalf("timer fired before the rescheduled window elapsed")
	case <-time.After(20 * time.Millisecond):
	}
	select {
	case <-s.C():
		if !s.Fired() {
			t.Fatalf("expected pending flush after quiescence")
		}
	case <-time.After(time.Second):
		t.Fatalf("timer never fired")
	}
}

func TestPendingSurvivesCaptureActivation(t *testing.T) {
	s := newUpdateScheduler(10 * time.Millisecond)
	defer s.Stop()
	s.Schedule(false)
	if !s.Schedule(true) {
		t.Fatalf("capture-active event must be immediate")
	}
	select {
	case <-s.C():
		if !s.Fired() {
			t.Fatalf("pending flush was dropped by capture activation")
		}
	case <-time.After(time.Second):
		t.Fatalf("pending flush never delivered")
	}
}

func TestFiredConsumesPending(t *testing.T) {
	s := newUpdateScheduler(5 * time.Millisecond)
	defer s.Stop()
	s.Schedule(false)
	select {
	case <-s.C():
	case <-time.After(time.Second):
		t.Fatalf("timer never fired")
	}
	if !s.Fired() {
		t.Fatalf("expected pending flush")
	}
	if s.Fired() {
		t.Fatalf("pending flag must be consumed")
	}
}
