package session

import (
	"github.com/ayusman/duocam/internal/capture"
	"github.com/ayusman/duocam/internal/stream"
)

// Configuration is what a committed transaction hands back: one binding per
// source.
type Configuration struct {
	RunID    string
	Roles    [capture.NumSources]stream.Role
	Bindings [capture.NumSources]stream.Binding
}

// staged is everything one source added to a transaction so far.
type staged struct {
	role    stream.Role
	device  capture.Device
	output  capture.FrameSource
	binding stream.Binding
	bound   bool
}

// transaction stages both cameras. Nothing it holds is visible outside the
// lifecycle until commit; a failed stage rolls back every source.
type transaction struct {
	platform Platform
	binder   stream.Binder
	entries  []staged
}

func newTransaction(platform Platform, binder stream.Binder) *transaction {
	return &transaction{platform: platform, binder: binder}
}

// stage adds one role. On error the partially staged source is still
// recorded so rollback releases it.
func (t *transaction) stage(role stream.Role) error {
	device, ok := t.platform.EnumerateDevice(role.Source)
	if !ok || device == nil {
		return &ConfigurationError{Source: role.Source, Stage: StageDeviceNotFound}
	}

	t.entries = append(t.entries, staged{role: role, device: device})
	e := &t.entries[len(t.entries)-1]

	if err := device.AddInput(); err != nil {
		return &ConfigurationError{Source: role.Source, Stage: StageInputAddRejected, Err: err}
	}

	output, err := device.AddOutput()
	if err != nil {
		return &ConfigurationError{Source: role.Source, Stage: StageOutputAddRejected, Err: err}
	}
	e.output = output

	if err := device.AddConnection(role.Mirrored); err != nil {
		return &ConfigurationError{Source: role.Source, Stage: StageConnectionAddRejected, Err: err}
	}

	b, err := t.binder.Bind(role)
	if err != nil {
		return &ConfigurationError{Source: role.Source, Stage: StageBindingRejected, Err: err}
	}
	e.binding = b
	e.bound = true

	return nil
}

// rollback undoes every staged source in reverse order.
func (t *transaction) rollback() {
	for i := len(t.entries) - 1; i >= 0; i-- {
		e := &t.entries[i]
		if e.bound {
			t.binder.Unbind(e.binding)
			e.bound = false
		}
		if e.device != nil {
			e.device.Remove()
		}
	}
	t.entries = nil
}

func (t *transaction) commit(runID string) Configuration {
	cfg := Configuration{RunID: runID}
	for _, e := range t.entries {
		cfg.Roles[e.role.Source] = e.role
		cfg.Bindings[e.role.Source] = e.binding
	}
	return cfg
}

// start starts every output. On error the outputs already started are
// stopped again.
func (t *transaction) start(h capture.Handler) error {
	for i, e := range t.entries {
		if err := e.output.Start(h); err != nil {
			for j := i - 1; j >= 0; j-- {
				t.entries[j].output.Stop()
			}
			return &RuntimeError{Source: e.role.Source, Err: err}
		}
	}
	return nil
}

func (t *transaction) stop() {
	for _, e := range t.entries {
		if e.output != nil {
			e.output.Stop()
		}
	}
}
