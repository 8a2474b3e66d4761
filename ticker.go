package vendue

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
)

// IntervalAwareForceTicker is a ticker.Ticker that can be paused, force-fed
// with ticks at any time and knows approximately when its next timed tick is
// due. The keeper uses it to drive finalization and the admin API uses it to
// report the next tick and to trigger one manually.
type IntervalAwareForceTicker struct {
	active atomic.Bool

	// Force delivers forced ticks, independent of the paused state. Timed
	// ticks are proxied onto it while the ticker is active.
	Force chan time.Time

	clock    clock.Clock
	interval time.Duration
	ticker   *time.Ticker

	// skip drops a timed tick that raced with Pause.
	skip chan struct{}

	lastTick    time.Time
	lastTickMtx sync.Mutex

	wg   sync.WaitGroup
	quit chan struct{}
}

// A compile-time constraint to ensure IntervalAwareForceTicker satisfies the
// ticker.Ticker interface.
var _ ticker.Ticker = (*IntervalAwareForceTicker)(nil)

// NewIntervalAwareForceTicker creates a paused ticker firing every interval.
// Timestamps of the timed ticks are taken from the given clock.
func NewIntervalAwareForceTicker(interval time.Duration,
	clk clock.Clock) *IntervalAwareForceTicker {

	t := &IntervalAwareForceTicker{
		Force:    make(chan time.Time),
		clock:    clk,
		interval: interval,
		ticker:   time.NewTicker(interval),
		skip:     make(chan struct{}),
		quit:     make(chan struct{}),
		lastTick: clk.Now(),
	}

	t.wg.Add(1)
	go t.proxyTicks()

	return t
}

// proxyTicks forwards the timed ticks to the Force channel while the ticker is
// active.
func (t *IntervalAwareForceTicker) proxyTicks() {
	defer t.wg.Done()

	for {
		select {
		case <-t.ticker.C:
			now := t.clock.Now()

			// The timestamp is updated even while paused so the
			// next tick can be predicted once we're resumed.
			t.lastTickMtx.Lock()
			t.lastTick = now
			t.lastTickMtx.Unlock()

			if !t.IsActive() {
				continue
			}

			select {
			case t.Force <- now:
			case <-t.skip:
			case <-t.quit:
				return
			}

		case <-t.quit:
			return
		}
	}
}

// Ticks returns the channel all ticks are delivered on.
//
// NOTE: Part of the ticker.Ticker interface.
func (t *IntervalAwareForceTicker) Ticks() <-chan time.Time {
	return t.Force
}

// Resume starts delivering timed ticks.
//
// NOTE: Part of the ticker.Ticker interface.
func (t *IntervalAwareForceTicker) Resume() {
	t.active.Store(true)
}

// Pause stops delivering timed ticks. Forced ticks are still delivered.
//
// NOTE: Part of the ticker.Ticker interface.
func (t *IntervalAwareForceTicker) Pause() {
	t.active.Store(false)

	// A tick that read the active flag before we cleared it may still be
	// waiting to be delivered.
	select {
	case t.skip <- struct{}{}:
	default:
	}
}

// Stop pauses the ticker for good and releases its resources.
//
// NOTE: Part of the ticker.Ticker interface.
func (t *IntervalAwareForceTicker) Stop() {
	t.Pause()
	t.ticker.Stop()

	close(t.quit)
	t.wg.Wait()
}

// ForceTick delivers a tick right away, unless the ticker is stopped. It
// blocks until the tick is consumed.
func (t *IntervalAwareForceTicker) ForceTick() bool {
	select {
	case t.Force <- t.clock.Now():
		return true

	case <-t.quit:
		return false
	}
}

// LastTimedTick returns the time of the last timed tick, whether or not it
// was delivered.
func (t *IntervalAwareForceTicker) LastTimedTick() time.Time {
	t.lastTickMtx.Lock()
	defer t.lastTickMtx.Unlock()

	return t.lastTick
}

// NextTickIn returns the approximate duration until the next timed tick.
func (t *IntervalAwareForceTicker) NextTickIn() time.Duration {
	next := t.LastTimedTick().Add(t.interval)

	remaining := next.Sub(t.clock.Now())
	if remaining < 0 {
		return 0
	}

	return remaining
}

// Interval returns the interval of the timed ticks.
func (t *IntervalAwareForceTicker) Interval() time.Duration {
	return t.interval
}

// IsActive returns true if timed ticks are currently delivered.
func (t *IntervalAwareForceTicker) IsActive() bool {
	return t.active.Load()
}
