package inject

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// ErrSessionNotIdle is returned when a multiplexer send is attempted
// against a session that isn't idle.
var ErrSessionNotIdle = errors.New("inject: session is not idle")

// ErrNoTerminal is returned when neither a multiplexer target nor a
// device node is known for a session.
var ErrNoTerminal = errors.New("inject: no terminal connected for session")

const deviceInjectTimeout = 10 * time.Second

// DeviceInjector delivers scripted keystrokes to a TTY device node,
// the fallback path for sessions not running inside the multiplexer
// (e.g. a bare terminal window recorded only by its /dev/ttysNNN path).
type DeviceInjector interface {
	Inject(ctx context.Context, devicePath, text string) error
}

// ScriptedDeviceInjector shells out to a host automation script (the
// reference platform uses osascript) that types text into the terminal
// window backed by devicePath.
type ScriptedDeviceInjector struct {
	// ScriptPath is the path to the keystroke-injection script. It is
	// invoked as: <ScriptPath> <devicePath> <text>.
	ScriptPath string
}

// Inject runs the configured script, bounded by deviceInjectTimeout.
func (d *ScriptedDeviceInjector) Inject(ctx context.Context, devicePath, text string) error {
	ctx, cancel := context.WithTimeout(ctx, deviceInjectTimeout)
	defer cancel()
	if err := exec.CommandContext(ctx, d.ScriptPath, devicePath, text).Run(); err != nil {
		return fmt.Errorf("inject: device script failed: %w", err)
	}
	return nil
}

// SessionTarget describes the known delivery routes for a session: a
// multiplexer name and/or a TTY device path. At least one should be
// set; both may be empty, in which case Deliver returns ErrNoTerminal.
type SessionTarget struct {
	MultiplexerSession string
	DevicePath         string
}

// Injector composes the multiplexer and device-node delivery paths
// behind one Deliver call, preferring the multiplexer whenever the
// target names a multiplexer session.
type Injector struct {
	Multiplexer Multiplexer
	Device      DeviceInjector
}

// New returns an Injector wired to mux and dev. Either may be nil if
// that delivery path isn't available in the current environment.
func New(mux Multiplexer, dev DeviceInjector) *Injector {
	return &Injector{Multiplexer: mux, Device: dev}
}

// Deliver types text into target's terminal. When
// target.MultiplexerSession is set it uses the multiplexer path (SendKeys
// itself enforces the session must be idle) and returns its result; a
// failed send is not retried on the device path. Otherwise it uses the
// device path when target.DevicePath is set, else reports ErrNoTerminal.
func (inj *Injector) Deliver(ctx context.Context, target SessionTarget, text string) error {
	if inj.Multiplexer != nil && target.MultiplexerSession != "" {
		return inj.Multiplexer.SendKeys(ctx, target.MultiplexerSession, text)
	}
	if inj.Device != nil && target.DevicePath != "" {
		return inj.Device.Inject(ctx, target.DevicePath, text)
	}
	return ErrNoTerminal
}

// ReplyRoutable reports whether the multiplexer knows session as a live
// assistant session — used by the AFK manager to decide whether a reply
// to session goes through the multiplexer rather than the device node.
// Idle/working/waiting sessions are routable; dead or unknown sessions
// are not. SendKeys still refuses a session that is not idle when the
// reply is delivered.
func ReplyRoutable(ctx context.Context, mux Multiplexer, session string) bool {
	if mux == nil || session == "" {
		return false
	}
	switch mux.StatusOf(ctx, session) {
	case StatusIdle, StatusWorking, StatusWaiting:
		return true
	default:
		return false
	}
}
