package overlay

import "time"

// Debouncer runs fire once a quiet period has passed since the last Trigger.
// Trigger and fire both run on the controller loop; the timer callback only
// posts back into it, and a generation counter drops fires from timers that
// were superseded after they had already expired.
type Debouncer struct {
	clock Clock
	delay time.Duration
	post  func(func()) bool
	fire  func()

	gen     uint64
	timer   Timer
	pending bool
}

func NewDebouncer(clock Clock, delay time.Duration, post func(func()) bool, fire func()) *Debouncer {
	if clock == nil {
		clock = RealClock
	}
	return &Debouncer{clock: clock, delay: delay, post: post, fire: fire}
}

// Trigger restarts the quiet period.
func (d *Debouncer) Trigger() {
	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = true
	d.timer = d.clock.AfterFunc(d.delay, func() {
		d.post(func() {
			if gen != d.gen {
				return
			}
			d.pending = false
			d.timer = nil
			d.fire()
		})
	})
}

func (d *Debouncer) Pending() bool { return d.pending }

// Stop cancels a pending fire.
func (d *Debouncer) Stop() {
	d.gen++
	d.pending = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
