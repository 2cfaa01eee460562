// Package session brings both camera streams online as one unit and drives
// their lifecycle: authorization, configuration, running, interruptions and
// failure recovery.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/ayusman/duocam/internal/capture"
)

// State is the lifecycle state shared by both streams.
type State int

const (
	Uninitialized State = iota
	RequestingAuthorization
	Configuring
	Running
	Interrupted
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case RequestingAuthorization:
		return "requesting-authorization"
	case Configuring:
		return "configuring"
	case Running:
		return "running"
	case Interrupted:
		return "interrupted"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is a consistent view of the lifecycle.
type Status struct {
	State State
	// Reason is why the session is Failed or Interrupted.
	Reason error
	// Committed is true once a configuration transaction has committed and
	// until teardown.
	Committed bool
	// RunID identifies the committed configuration.
	RunID string
	Since time.Time
}

// AuthorizationOutcome is the result of RequestAuthorization.
type AuthorizationOutcome int

const (
	Granted AuthorizationOutcome = iota
	AccessDenied
	AccessRestricted
)

func (o AuthorizationOutcome) String() string {
	switch o {
	case Granted:
		return "granted"
	case AccessDenied:
		return "denied"
	case AccessRestricted:
		return "restricted"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Platform is the camera collaborator: permission, capability and devices.
type Platform interface {
	AuthorizationStatus() capture.Authorization
	RequestAccess(ctx context.Context) (bool, error)
	MultiCamSupported() bool
	EnumerateDevice(src capture.Source) (capture.Device, bool)
}

// Alert is a user-visible message raised for every lifecycle error.
type Alert struct {
	Title   string
	Message string
	// OpenSettings asks the presentation layer to offer a shortcut to the
	// system privacy settings.
	OpenSettings bool
}

// Alerter presents alerts to the user.
type Alerter interface {
	Alert(a Alert)
}

// AlerterFunc adapts a function to Alerter.
type AlerterFunc func(Alert)

func (f AlerterFunc) Alert(a Alert) { f(a) }

// Transition describes one state change.
type Transition struct {
	From   State
	To     State
	Reason error
	RunID  string
	At     time.Time
}

// Observer is called on the lifecycle goroutine after every transition. It
// must return quickly.
type Observer func(Transition)

// Event is a platform notification delivered through Notify.
type Event interface {
	source() capture.Source
}

// InterruptedEvent reports that a stream stopped delivering frames for a
// reason outside the session's control.
type InterruptedEvent struct {
	Source capture.Source
	Reason string
}

func (e InterruptedEvent) source() capture.Source { return e.Source }

// InterruptionEndedEvent reports that an interrupted stream recovered.
type InterruptionEndedEvent struct {
	Source capture.Source
}

func (e InterruptionEndedEvent) source() capture.Source { return e.Source }

// RuntimeErrorEvent reports a capture failure.
type RuntimeErrorEvent struct {
	Source    capture.Source
	Err       error
	Transient bool
}

func (e RuntimeErrorEvent) source() capture.Source { return e.Source }
