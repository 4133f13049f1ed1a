package core

import "time"

// updateScheduler decides, per incoming stream event, whether the heavy
// processing pass runs immediately or is coalesced behind a quiescence
// window. While a capture is active every event is processed in full; the
// orchestrator blocks on the result. Otherwise each event cancels and
// reschedules a single pending flush, so only the last event of a burst
// is processed. The timer channel is drained on the same goroutine that
// calls Schedule, keeping the single-writer rule intact.
type updateScheduler struct {
	window  time.Duration
	timer   *time.Timer
	pending bool
}

func newUpdateScheduler(window time.Duration) *updateScheduler {
	if window <= 0 {
		window = defaultSchedulerWindow
	}
	return &updateScheduler{window: window}
}

const defaultSchedulerWindow = 150 * time.Millisecond

// Schedule reports whether the event must be processed immediately.
// When it returns false a flush has been scheduled; an already-pending
// flush is cancelled and rescheduled. A pending flush deliberately
// survives the switch to immediate mode so no coalesced work is dropped.
func (s *updateScheduler) Schedule(captureActive bool) bool {
	if captureActive {
		return true
	}
	if s.timer == nil {
		s.timer = time.NewTimer(s.window)
	} else {
		if !s.timer.Stop() {
			select {
			case <-s.timer.C:
			default:
			}
		}
		s.timer.Reset(s.window)
	}
	s.pending = true
	return false
}

// C returns the flush channel; nil until the first debounced event.
func (s *updateScheduler) C() <-chan time.Time {
	if s.timer == nil {
		return nil
	}
	return s.timer.C
}

// Fired consumes the pending flag after the timer delivered. It reports
// whether a flush is actually due; a stale delivery is ignored.
func (s *updateScheduler) Fired() bool {
	due := s.pending
	s.pending = false
	return due
}

// Stop releases the timer.
func (s *updateScheduler) Stop() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.pending = false
}
