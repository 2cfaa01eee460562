package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ayusman/duocam/internal/capture"
	"github.com/ayusman/duocam/internal/logger"
	"github.com/ayusman/duocam/internal/stream"
)

// Recovery defaults.
const (
	DefaultRecoveryAttempts = 3
	DefaultRecoveryBackoff  = 500 * time.Millisecond
)

// Options configures a Lifecycle.
type Options struct {
	Platform Platform
	Binder   stream.Binder
	// Roles defaults to stream.DefaultRoles.
	Roles []stream.Role
	// Handler receives every frame from both streams while they run.
	Handler capture.Handler
	Alerter Alerter
	Logger  logrus.FieldLogger

	// RecoveryAttempts bounds automatic restarts after transient runtime
	// errors. Negative disables recovery.
	RecoveryAttempts int
	RecoveryBackoff  time.Duration
}

// snapshot is published atomically after every transition so frame dispatch
// always sees a state and its bindings together.
type snapshot struct {
	status   Status
	live     bool
	bindings [capture.NumSources]stream.Binding
}

type command struct {
	fn    func() error
	reply chan error
}

// Lifecycle is the session state machine. Every transition happens on one
// goroutine; public methods send it commands and platform notifications are
// queued as events.
type Lifecycle struct {
	opts Options
	log  logrus.FieldLogger

	cmds   chan command
	done   chan struct{}
	exited chan struct{}
	once   sync.Once

	snap atomic.Pointer[snapshot]

	evMu    sync.Mutex
	pending []Event
	wake    chan struct{}

	obsMu     sync.Mutex
	observers map[int]Observer
	nextObs   int

	// Owned by the loop goroutine.
	state       State
	reason      error
	since       time.Time
	txn         *transaction
	config      Configuration
	interrupted [capture.NumSources]bool
	epoch       uint64
	recovery    recoveryState
	recovering  bool
}

type recoveryState struct {
	attempts int
	gen      uint64
	timer    *time.Timer
}

// New creates a Lifecycle in the Uninitialized state and starts its loop.
func New(opts Options) *Lifecycle {
	if len(opts.Roles) == 0 {
		roles := stream.DefaultRoles()
		opts.Roles = roles[:]
	}
	if opts.RecoveryAttempts == 0 {
		opts.RecoveryAttempts = DefaultRecoveryAttempts
	}
	if opts.RecoveryBackoff <= 0 {
		opts.RecoveryBackoff = DefaultRecoveryBackoff
	}
	if opts.Handler == nil {
		opts.Handler = func(f *capture.Frame) { f.Close() }
	}

	l := &Lifecycle{
		opts:      opts,
		log:       logger.OrNop(opts.Logger).WithField("component", "session"),
		cmds:      make(chan command),
		done:      make(chan struct{}),
		exited:    make(chan struct{}),
		wake:      make(chan struct{}, 1),
		observers: make(map[int]Observer),
		state:     Uninitialized,
		since:     time.Now(),
	}
	l.publish()

	go l.run()
	return l
}

func (l *Lifecycle) run() {
	defer close(l.exited)

	for {
		select {
		case cmd := <-l.cmds:
			cmd.reply <- cmd.fn()
		case <-l.wake:
			l.handleEvents()
		case <-l.done:
			l.cancelRecovery()
			l.teardown()
			if l.state != Uninitialized && l.state != Failed {
				l.transition(Uninitialized, nil)
			}
			return
		}
	}
}

// do runs fn on the loop goroutine and waits for its result.
func (l *Lifecycle) do(ctx context.Context, fn func() error) error {
	cmd := command{fn: fn, reply: make(chan error, 1)}

	select {
	case l.cmds <- cmd:
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tears the session down and stops the loop.
func (l *Lifecycle) Close() {
	l.once.Do(func() { close(l.done) })
	<-l.exited
}

// Status returns the current status without waiting for the loop.
func (l *Lifecycle) Status() Status {
	return l.snap.Load().status
}

// Acquire returns the binding for src while the session is Running.
func (l *Lifecycle) Acquire(src capture.Source) (stream.Binding, bool) {
	s := l.snap.Load()
	if s.status.State != Running || !s.live || !src.Valid() {
		return stream.Binding{}, false
	}
	return s.bindings[src], true
}

// Subscribe registers obs for transitions. The returned function removes it.
func (l *Lifecycle) Subscribe(obs Observer) func() {
	l.obsMu.Lock()
	defer l.obsMu.Unlock()
	id := l.nextObs
	l.nextObs++
	l.observers[id] = obs
	return func() {
		l.obsMu.Lock()
		defer l.obsMu.Unlock()
		delete(l.observers, id)
	}
}

// RequestAuthorization obtains camera permission. Denied or restricted
// access moves the session to Failed.
func (l *Lifecycle) RequestAuthorization(ctx context.Context) (AuthorizationOutcome, error) {
	var outcome AuthorizationOutcome
	err := l.do(ctx, func() error {
		var err error
		outcome, err = l.requestAuthorization(ctx)
		return err
	})
	return outcome, err
}

// Configure stages both cameras as a single transaction. On any failure
// nothing stays configured and the session is back in Uninitialized.
func (l *Lifecycle) Configure(ctx context.Context) (Configuration, error) {
	var cfg Configuration
	err := l.do(ctx, func() error {
		var err error
		cfg, err = l.configure()
		return err
	})
	return cfg, err
}

// Start starts both streams of a committed configuration.
func (l *Lifecycle) Start(ctx context.Context) error {
	return l.do(ctx, l.start)
}

// Stop halts both streams and releases the configuration.
func (l *Lifecycle) Stop(ctx context.Context) error {
	return l.do(ctx, func() error {
		l.cancelRecovery()
		if l.state == Failed || l.state == Uninitialized {
			return nil
		}
		l.teardown()
		l.transition(Uninitialized, nil)
		return nil
	})
}

// Reset moves a Failed session back to Uninitialized.
func (l *Lifecycle) Reset(ctx context.Context) error {
	return l.do(ctx, func() error {
		if l.state != Failed {
			return &InvalidStateError{Op: "reset", State: l.state}
		}
		l.cancelRecovery()
		l.transition(Uninitialized, nil)
		return nil
	})
}

// Restart tears down whatever is running, then authorizes, configures and
// starts again.
func (l *Lifecycle) Restart(ctx context.Context) error {
	return l.do(ctx, func() error {
		l.cancelRecovery()
		l.recovery.attempts = 0
		if l.state != Uninitialized {
			l.teardown()
			l.transition(Uninitialized, nil)
		}
		return l.bringUp(ctx)
	})
}

// Notify queues a platform notification. It never blocks.
func (l *Lifecycle) Notify(ev Event) {
	l.evMu.Lock()
	l.pending = append(l.pending, ev)
	l.evMu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Notifier adapts the lifecycle to capture.Notifier.
func (l *Lifecycle) Notifier() capture.Notifier {
	return notifier{l}
}

type notifier struct{ l *Lifecycle }

func (n notifier) Interrupted(src capture.Source, reason string) {
	n.l.Notify(InterruptedEvent{Source: src, Reason: reason})
}

func (n notifier) InterruptionEnded(src capture.Source) {
	n.l.Notify(InterruptionEndedEvent{Source: src})
}

func (n notifier) RuntimeError(src capture.Source, err error, transient bool) {
	n.l.Notify(RuntimeErrorEvent{Source: src, Err: err, Transient: transient})
}

// The methods below run on the loop goroutine only.

func (l *Lifecycle) requestAuthorization(ctx context.Context) (AuthorizationOutcome, error) {
	if l.state != Uninitialized {
		return 0, &InvalidStateError{Op: "request authorization", State: l.state}
	}

	switch status := l.opts.Platform.AuthorizationStatus(); status {
	case capture.Authorized:
		return Granted, nil

	case capture.AuthorizationNotDetermined:
		l.transition(RequestingAuthorization, nil)
		granted, err := l.opts.Platform.RequestAccess(ctx)
		if err != nil {
			l.transition(Uninitialized, nil)
			return 0, fmt.Errorf("request camera access: %w", err)
		}
		if !granted {
			return AccessDenied, l.fail(&PermissionError{Status: capture.Denied})
		}
		l.transition(Uninitialized, nil)
		return Granted, nil

	case capture.Restricted:
		return AccessRestricted, l.fail(&PermissionError{Status: status})

	default:
		return AccessDenied, l.fail(&PermissionError{Status: status})
	}
}

func (l *Lifecycle) configure() (Configuration, error) {
	if l.state != Uninitialized {
		return Configuration{}, &InvalidStateError{Op: "configure", State: l.state}
	}
	if status := l.opts.Platform.AuthorizationStatus(); status != capture.Authorized {
		return Configuration{}, &PermissionError{Status: status}
	}
	if !l.opts.Platform.MultiCamSupported() {
		return Configuration{}, l.fail(&UnsupportedHardwareError{})
	}

	l.transition(Configuring, nil)

	txn := newTransaction(l.opts.Platform, l.opts.Binder)
	for _, role := range l.opts.Roles {
		if err := txn.stage(role); err != nil {
			txn.rollback()
			l.transition(Uninitialized, nil)
			l.alert(err)
			l.log.WithError(err).WithField("source", role.Source.String()).Error("Configuration rolled back")
			return Configuration{}, err
		}
	}

	l.txn = txn
	l.config = txn.commit(uuid.NewString())
	l.transition(Configuring, nil)
	l.log.WithField("run_id", l.config.RunID).Info("Configuration committed")

	return l.config, nil
}

func (l *Lifecycle) start() error {
	if l.state == Failed && errors.Is(l.reason, ErrUnsupportedHardware) {
		return l.reason
	}
	if l.state != Configuring || l.txn == nil {
		return &InvalidStateError{Op: "start", State: l.state}
	}

	if err := l.txn.start(l.opts.Handler); err != nil {
		l.teardown()
		return l.fail(err)
	}

	l.interrupted = [capture.NumSources]bool{}
	l.transition(Running, nil)
	l.log.WithField("run_id", l.config.RunID).Info("Session running")
	return nil
}

// bringUp runs the full sequence from Uninitialized to Running.
func (l *Lifecycle) bringUp(ctx context.Context) error {
	outcome, err := l.requestAuthorization(ctx)
	if err != nil {
		return err
	}
	if outcome != Granted {
		return &PermissionError{Status: capture.Denied}
	}
	if _, err := l.configure(); err != nil {
		return err
	}
	return l.start()
}

// teardown stops the streams and releases the configuration. Dispatch is cut
// off before anything is released.
func (l *Lifecycle) teardown() {
	if l.txn == nil {
		return
	}

	txn := l.txn
	l.txn = nil
	l.config = Configuration{}
	l.publish()

	txn.stop()
	txn.rollback()

	l.interrupted = [capture.NumSources]bool{}
	l.epoch++
	l.evMu.Lock()
	l.pending = nil
	l.evMu.Unlock()
}

// fail moves to Failed, alerts and returns err.
func (l *Lifecycle) fail(err error) error {
	l.transition(Failed, err)
	l.alert(err)
	l.log.WithError(err).Error("Session failed")
	return err
}

func (l *Lifecycle) alert(err error) {
	if l.opts.Alerter == nil {
		return
	}
	if l.recovering && !fatal(err) {
		return
	}
	l.opts.Alerter.Alert(alertFor(err))
}

// fatal reports whether retrying cannot fix err.
func fatal(err error) bool {
	var permErr *PermissionError
	return errors.As(err, &permErr) || errors.Is(err, ErrUnsupportedHardware)
}

func (l *Lifecycle) handleEvents() {
	l.evMu.Lock()
	events := l.pending
	l.pending = nil
	l.evMu.Unlock()

	epoch := l.epoch
	for _, ev := range events {
		if l.epoch != epoch {
			// A teardown invalidated the rest of the batch.
			return
		}
		l.handleEvent(ev)
	}
}

func (l *Lifecycle) handleEvent(ev Event) {
	log := l.log.WithField("source", ev.source().String())

	switch e := ev.(type) {
	case InterruptedEvent:
		if l.state != Running && l.state != Interrupted {
			log.WithField("state", l.state.String()).Debug("Ignoring interruption")
			return
		}
		l.interrupted[e.Source] = true
		if l.state == Running {
			l.transition(Interrupted, &InterruptedError{Source: e.Source, Reason: e.Reason})
			log.WithField("reason", e.Reason).Warn("Session interrupted")
		}

	case InterruptionEndedEvent:
		if l.state != Interrupted {
			return
		}
		l.interrupted[e.Source] = false
		for _, v := range l.interrupted {
			if v {
				return
			}
		}
		l.transition(Running, nil)
		log.Info("Interruption ended")

	case RuntimeErrorEvent:
		if l.txn == nil {
			log.WithError(e.Err).Debug("Ignoring runtime error outside a run")
			return
		}
		rerr := &RuntimeError{Source: e.Source, Err: e.Err, Transient: e.Transient}
		l.transition(Failed, rerr)
		l.teardown()

		if e.Transient && l.opts.RecoveryAttempts > 0 {
			log.WithError(rerr).Warn("Transient runtime error, recovering")
			l.scheduleRecovery(rerr)
			return
		}
		l.alert(rerr)
		log.WithError(rerr).Error("Session halted")
	}
}

func (l *Lifecycle) scheduleRecovery(cause error) {
	if l.recovery.attempts >= l.opts.RecoveryAttempts {
		err := fmt.Errorf("%w after %d attempts: %v", ErrRecoveryExhausted, l.recovery.attempts, cause)
		l.recovery.attempts = 0
		l.fail(err)
		return
	}

	l.recovery.attempts++
	gen := l.recovery.gen
	attempt := l.recovery.attempts

	l.recovery.timer = time.AfterFunc(l.opts.RecoveryBackoff, func() {
		cmd := command{fn: func() error { return l.recover(gen, attempt) }, reply: make(chan error, 1)}
		select {
		case l.cmds <- cmd:
		case <-l.done:
		}
	})
}

func (l *Lifecycle) recover(gen uint64, attempt int) error {
	if gen != l.recovery.gen || l.state != Failed {
		return nil
	}

	log := l.log.WithField("attempt", attempt)
	log.Info("Recovering session")

	l.transition(Uninitialized, nil)
	err := l.recoverOnce()
	if err == nil {
		l.recovery.attempts = 0
		log.Info("Session recovered")
		return nil
	}

	log.WithError(err).Warn("Recovery attempt failed")

	if fatal(err) {
		// Already Failed and alerted.
		l.recovery.attempts = 0
		return err
	}
	if l.state != Failed {
		l.transition(Failed, err)
	}
	l.scheduleRecovery(err)
	return err
}

// recoverOnce reconfigures and restarts. Only fatal errors are alerted while
// recovery is still retrying.
func (l *Lifecycle) recoverOnce() error {
	l.recovering = true
	defer func() { l.recovering = false }()

	if status := l.opts.Platform.AuthorizationStatus(); status != capture.Authorized {
		return l.fail(&PermissionError{Status: status})
	}
	if _, err := l.configure(); err != nil {
		return err
	}
	return l.start()
}

func (l *Lifecycle) cancelRecovery() {
	l.recovery.gen++
	if l.recovery.timer != nil {
		l.recovery.timer.Stop()
		l.recovery.timer = nil
	}
}

func (l *Lifecycle) transition(to State, reason error) {
	from := l.state
	l.state = to
	l.reason = reason
	l.since = time.Now()
	l.publish()

	t := Transition{From: from, To: to, Reason: reason, RunID: l.config.RunID, At: l.since}
	l.log.WithFields(logrus.Fields{"from": from.String(), "state": to.String()}).Debug("Transition")

	l.obsMu.Lock()
	observers := make([]Observer, 0, len(l.observers))
	for _, obs := range l.observers {
		observers = append(observers, obs)
	}
	l.obsMu.Unlock()

	for _, obs := range observers {
		obs(t)
	}
}

func (l *Lifecycle) publish() {
	s := &snapshot{
		status: Status{
			State:     l.state,
			Reason:    l.reason,
			Committed: l.txn != nil,
			RunID:     l.config.RunID,
			Since:     l.since,
		},
		live:     l.txn != nil,
		bindings: l.config.Bindings,
	}
	l.snap.Store(s)
}
