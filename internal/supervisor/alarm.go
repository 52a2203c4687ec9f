package supervisor

import (
	"sync"
	"time"
)

// alarm is the single pending-wake-up slot for one supervisor. Schedule is
// set-if-absent: while a wake-up is pending, further calls are no-ops, so
// overlapping triggers cannot create timer storms.
type alarm struct {
	mu        sync.Mutex
	fire      func()
	timer     *time.Timer
	at        time.Time
	cancelled bool
}

func newAlarm(fire func()) *alarm {
	return &alarm{fire: fire}
}

// Schedule arms the alarm d from now unless one is already pending.
func (a *alarm) Schedule(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancelled || a.timer != nil {
		return
	}
	a.at = time.Now().Add(d)
	a.timer = time.AfterFunc(d, func() {
		// The slot is freed before the handler runs so the handler's
		// own schedule-on-exit re-arms instead of being swallowed.
		a.mu.Lock()
		a.timer = nil
		cancelled := a.cancelled
		a.mu.Unlock()

		if !cancelled {
			a.fire()
		}
	})
}

// Pending reports the wake-up time of the pending alarm, if any.
func (a *alarm) Pending() (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.at, a.timer != nil
}

// Cancel stops the pending alarm and prevents any future scheduling. Used
// only by destroy.
func (a *alarm) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.cancelled = true
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}
