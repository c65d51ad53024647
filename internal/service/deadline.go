package service

import (
	"sync"
	"time"

	"github.com/stemsi/examcore/internal/model"
)

// Deadline returns startedAt + duration, clipped to the availability end when that comes first.
func Deadline(startedAt time.Time, durationMinutes int, availableUntil *time.Time) time.Time {
	d := startedAt.Add(time.Duration(durationMinutes) * time.Minute)
	if availableUntil != nil && availableUntil.Before(d) {
		return *availableUntil
	}
	return d
}

// SessionDeadline is Deadline applied to a session of the given exam.
func SessionDeadline(sess *model.Session, exam *model.Exam) time.Time {
	return Deadline(sess.StartedAt, exam.DurationMinutes, exam.AvailableUntil)
}

// Expired reports whether a submission at serverNow lands past the deadline.
func Expired(deadline, serverNow time.Time) bool {
	return serverNow.After(deadline)
}

// Remaining returns the time left before the deadline, never negative.
func Remaining(deadline, serverNow time.Time) time.Duration {
	r := deadline.Sub(serverNow)
	if r < 0 {
		return 0
	}
	return r
}

// Countdown is a cancellable timer bound to a participant connection. Firing runs
// onExpire once; cancelling first guarantees it never runs and leaves the session alone.
type Countdown struct {
	mu        sync.Mutex
	timer     *time.Timer
	fired     bool
	cancelled bool
	done      chan struct{}
}

// StartCountdown schedules onExpire after d. A non-positive d fires immediately.
func StartCountdown(d time.Duration, onExpire func()) *Countdown {
	c := &Countdown{done: make(chan struct{})}
	if d < 0 {
		d = 0
	}
	c.timer = time.AfterFunc(d, func() {
		c.mu.Lock()
		if c.cancelled {
			c.mu.Unlock()
			return
		}
		c.fired = true
		c.mu.Unlock()

		defer close(c.done)
		onExpire()
	})
	return c
}

// Cancel stops the countdown. It returns false when the countdown already fired.
func (c *Countdown) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fired {
		return false
	}
	if !c.cancelled {
		c.cancelled = true
		c.timer.Stop()
	}
	return true
}

// Fired reports whether onExpire was started.
func (c *Countdown) Fired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fired
}

// Done is closed after onExpire returns. It never closes for a cancelled countdown.
func (c *Countdown) Done() <-chan struct{} {
	return c.done
}
