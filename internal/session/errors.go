package session

import (
	"errors"
	"fmt"

	"github.com/ayusman/duocam/internal/capture"
)

// Sentinel errors.
var (
	// ErrUnsupportedHardware is matched by UnsupportedHardwareError.
	ErrUnsupportedHardware = errors.New("platform cannot run two camera streams at once")
	// ErrRecoveryExhausted wraps the last transient error once automatic
	// recovery has given up.
	ErrRecoveryExhausted = errors.New("automatic recovery exhausted")
	// ErrClosed is returned by operations on a closed Lifecycle.
	ErrClosed = errors.New("session closed")
)

// PermissionError means camera access was refused. It is fatal for the run
// and needs the user to change a setting.
type PermissionError struct {
	Status capture.Authorization
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("camera access %s", e.Status)
}

// UnsupportedHardwareError means the platform cannot drive two streams.
type UnsupportedHardwareError struct{}

func (e *UnsupportedHardwareError) Error() string {
	return ErrUnsupportedHardware.Error()
}

func (e *UnsupportedHardwareError) Is(target error) bool {
	return target == ErrUnsupportedHardware
}

// Stage is a step of the configuration transaction.
type Stage string

const (
	StageDeviceNotFound        Stage = "device-not-found"
	StageInputAddRejected      Stage = "input-add-rejected"
	StageOutputAddRejected     Stage = "output-add-rejected"
	StageConnectionAddRejected Stage = "connection-add-rejected"
	StageBindingRejected       Stage = "binding-rejected"
)

// ConfigurationError names the source and stage that failed a configuration
// transaction. The transaction has been rolled back.
type ConfigurationError struct {
	Source capture.Source
	Stage  Stage
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("configure %v camera: %s", e.Source, e.Stage)
	}
	return fmt.Sprintf("configure %v camera: %s: %v", e.Source, e.Stage, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// RuntimeError is a failure of a running session.
type RuntimeError struct {
	Source    capture.Source
	Err       error
	Transient bool
}

func (e *RuntimeError) Error() string {
	kind := "runtime error"
	if e.Transient {
		kind = "transient runtime error"
	}
	return fmt.Sprintf("%v camera %s: %v", e.Source, kind, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// InterruptedError is the Status reason while a stream is interrupted.
type InterruptedError struct {
	Source capture.Source
	Reason string
}

func (e *InterruptedError) Error() string {
	return fmt.Sprintf("%v camera interrupted: %s", e.Source, e.Reason)
}

// InvalidStateError is returned when an operation is not allowed in the
// current state.
type InvalidStateError struct {
	Op    string
	State State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s not allowed in state %s", e.Op, e.State)
}

// alertFor builds the user-facing alert for a lifecycle error.
func alertFor(err error) Alert {
	var (
		permErr    *PermissionError
		configErr  *ConfigurationError
		runtimeErr *RuntimeError
	)

	switch {
	case errors.As(err, &permErr):
		return Alert{
			Title:        "Camera access denied",
			Message:      "duocam doesn't have permission to use the cameras. Change your privacy settings to continue.",
			OpenSettings: true,
		}
	case errors.Is(err, ErrUnsupportedHardware):
		return Alert{Title: "Unsupported hardware", Message: "This device cannot run the front and rear cameras at the same time."}
	case errors.As(err, &configErr):
		return Alert{
			Title:   "Camera setup failed",
			Message: fmt.Sprintf("Could not set up the %v camera (%s).", configErr.Source, configErr.Stage),
		}
	case errors.Is(err, ErrRecoveryExhausted):
		return Alert{Title: "Camera session stopped", Message: err.Error()}
	case errors.As(err, &runtimeErr):
		return Alert{Title: "Camera session failed", Message: runtimeErr.Error()}
	default:
		return Alert{Title: "Error", Message: err.Error()}
	}
}
