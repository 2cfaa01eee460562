package router

import (
	"fmt"
	"sync/atomic"

	"github.com/ayusman/duocam/internal/capture"
)

// DropReason says why a frame never reached its detector.
type DropReason int

const (
	// DropInactive means the session was not running.
	DropInactive DropReason = iota
	// DropBusy means a detection was already in flight on the lane.
	DropBusy
	// DropThrottled means the lane exceeded its detection rate.
	DropThrottled
)

func (d DropReason) String() string {
	switch d {
	case DropInactive:
		return "inactive"
	case DropBusy:
		return "busy"
	case DropThrottled:
		return "throttled"
	default:
		return fmt.Sprintf("drop(%d)", int(d))
	}
}

// Stats is a point-in-time copy of one lane's counters.
type Stats struct {
	Source           capture.Source `json:"source"`
	Received         uint64         `json:"received"`
	Detected         uint64         `json:"detected"`
	Published        uint64         `json:"published"`
	Cleared          uint64         `json:"cleared"`
	Stale            uint64         `json:"stale"`
	Discarded        uint64         `json:"discarded"`
	DroppedInactive  uint64         `json:"dropped_inactive"`
	DroppedBusy      uint64         `json:"dropped_busy"`
	DroppedThrottled uint64         `json:"dropped_throttled"`
	Errors           uint64         `json:"errors"`
}

// Dropped is the total number of frames that skipped detection.
func (s Stats) Dropped() uint64 {
	return s.DroppedInactive + s.DroppedBusy + s.DroppedThrottled
}

// Sub returns the counter deltas since prev.
func (s Stats) Sub(prev Stats) Stats {
	return Stats{
		Source:           s.Source,
		Received:         s.Received - prev.Received,
		Detected:         s.Detected - prev.Detected,
		Published:        s.Published - prev.Published,
		Cleared:          s.Cleared - prev.Cleared,
		Stale:            s.Stale - prev.Stale,
		Discarded:        s.Discarded - prev.Discarded,
		DroppedInactive:  s.DroppedInactive - prev.DroppedInactive,
		DroppedBusy:      s.DroppedBusy - prev.DroppedBusy,
		DroppedThrottled: s.DroppedThrottled - prev.DroppedThrottled,
		Errors:           s.Errors - prev.Errors,
	}
}

type counters struct {
	received  atomic.Uint64
	detected  atomic.Uint64
	published atomic.Uint64
	cleared   atomic.Uint64
	stale     atomic.Uint64
	discarded atomic.Uint64
	inactive  atomic.Uint64
	busy      atomic.Uint64
	throttled atomic.Uint64
	errors    atomic.Uint64
}

func (c *counters) drop(reason DropReason) {
	switch reason {
	case DropInactive:
		c.inactive.Add(1)
	case DropBusy:
		c.busy.Add(1)
	case DropThrottled:
		c.throttled.Add(1)
	}
}

func (c *counters) snapshot(src capture.Source) Stats {
	return Stats{
		Source:           src,
		Received:         c.received.Load(),
		Detected:         c.detected.Load(),
		Published:        c.published.Load(),
		Cleared:          c.cleared.Load(),
		Stale:            c.stale.Load(),
		Discarded:        c.discarded.Load(),
		DroppedInactive:  c.inactive.Load(),
		DroppedBusy:      c.busy.Load(),
		DroppedThrottled: c.throttled.Load(),
		Errors:           c.errors.Load(),
	}
}
