package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hitchin999/unifi-connect-display/internal/capability"
	"github.com/hitchin999/unifi-connect-display/internal/controller"
	"github.com/hitchin999/unifi-connect-display/internal/device"
)

const (
	// DefaultCommandTimeout bounds the controller call of one command.
	DefaultCommandTimeout = 10 * time.Second

	// DefaultConfirmDelay is how long after a successful command a
	// confirming poll is requested.
	DefaultConfirmDelay = 2 * time.Second
)

// Logger defines the logging interface used by the Dispatcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry resolves capability gating and action identifiers.
type Registry interface {
	ActionIdentifierFor(model capability.Model, action capability.Action) (string, error)
}

// StateStore is the subset of the device store the dispatcher needs.
type StateStore interface {
	Get(id string) (device.Device, error)
	ApplyOptimistic(id string, p device.Patch) (device.Device, error)
}

// Controller sends actions to devices.
type Controller interface {
	Invoke(ctx context.Context, deviceID string, req controller.ActionRequest) (map[string]any, error)
}

// Refresher requests an out-of-cycle poll.
type Refresher interface {
	TriggerRefresh()
}

// Recorder observes every completed dispatch (audit, metrics, telemetry).
type Recorder interface {
	RecordCommand(ctx context.Context, rec Record)
}

// Command is a request to perform a logical action on one device.
type Command struct {
	ID         string            `json:"id"`
	DeviceID   string            `json:"device_id"`
	Action     capability.Action `json:"action"`
	Parameters map[string]any    `json:"parameters,omitempty"`
	Source     string            `json:"source,omitempty"`
	UserID     string            `json:"user_id,omitempty"`
}

// Outcome describes an accepted command.
type Outcome struct {
	CommandID string            `json:"command_id"`
	DeviceID  string            `json:"device_id"`
	Action    capability.Action `json:"action"`
	Args      map[string]any    `json:"args,omitempty"`
	Device    device.Device     `json:"device"`
	Result    map[string]any    `json:"result,omitempty"`
	Duration  time.Duration     `json:"duration"`
}

// Record is passed to recorders after each dispatch.
type Record struct {
	Command  Command
	Outcome  Outcome
	Err      error
	Started  time.Time
	Duration time.Duration
}

// Result returns the outcome label: accepted, invalid, rejected,
// unreachable or failed.
func (r Record) Result() string {
	return resultLabel(r.Err)
}

// ErrorCode returns the error code of a failed dispatch, empty on success.
func (r Record) ErrorCode() string {
	return ErrorCode(r.Err)
}

// Options configures a Dispatcher.
type Options struct {
	Registry   Registry
	Store      StateStore
	Controller Controller

	// Refresher is asked for a poll after rejections and, after
	// ConfirmDelay, after successes. Optional.
	Refresher Refresher

	Recorders []Recorder

	// CommandTimeout bounds each controller call. Zero means
	// DefaultCommandTimeout.
	CommandTimeout time.Duration

	// ConfirmDelay delays the confirming poll after a success. Zero means
	// DefaultConfirmDelay; negative disables it.
	ConfirmDelay time.Duration

	Logger Logger
}

// Dispatcher is the single entry point for device commands.
//
// Every command is checked against the capability registry and the device's
// current state before anything is sent, so invalid commands never reach
// the network. Commands for the same device run one at a time; commands for
// different devices run in parallel.
type Dispatcher struct {
	registry     Registry
	store        StateStore
	ctrl         Controller
	refresher    Refresher
	recorders    []Recorder
	timeout      time.Duration
	confirmDelay time.Duration
	locks        *deviceLocks
	logger       Logger
	tracer       trace.Tracer
}

// New creates a Dispatcher.
func New(opts Options) (*Dispatcher, error) {
	if opts.Registry == nil || opts.Store == nil || opts.Controller == nil {
		return nil, errors.New("dispatch: registry, store and controller are required")
	}
	timeout := opts.CommandTimeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	confirm := opts.ConfirmDelay
	if confirm == 0 {
		confirm = DefaultConfirmDelay
	}
	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}

	return &Dispatcher{
		registry:     opts.Registry,
		store:        opts.Store,
		ctrl:         opts.Controller,
		refresher:    opts.Refresher,
		recorders:    opts.Recorders,
		timeout:      timeout,
		confirmDelay: confirm,
		locks:        newDeviceLocks(),
		logger:       logger,
		tracer:       otel.Tracer("connectd/dispatch"),
	}, nil
}

// Dispatch validates and executes a command.
//
// Errors (checked with errors.Is):
//   - device.ErrUnknownDevice: the device is not in the store
//   - capability.ErrUnsupportedAction / ErrUnknownModel: outside the model's
//     capability set
//   - ErrDeviceNotReady: the device is powered off and the action is not
//     power_on
//   - ErrInvalidPayload: malformed parameters
//   - controller.ErrCommandRejected: refused by the controller; a refresh is
//     requested to reconcile state
//   - controller.ErrUnreachable: the controller could not be reached
//
// On failure the store is left untouched.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) (Outcome, error) {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	started := time.Now()

	ctx, span := d.tracer.Start(ctx, "dispatch.Dispatch", trace.WithAttributes(
		attribute.String("connect.command_id", cmd.ID),
		attribute.String("connect.device_id", cmd.DeviceID),
		attribute.String("connect.action", string(cmd.Action)),
		attribute.String("connect.source", cmd.Source),
	))
	defer span.End()

	out, err := d.dispatch(ctx, cmd)
	out.CommandID = cmd.ID
	out.DeviceID = cmd.DeviceID
	out.Action = cmd.Action
	out.Duration = time.Since(started)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, ErrorCode(err))
		d.logger.Warn("command failed",
			"command_id", cmd.ID, "device_id", cmd.DeviceID, "action", cmd.Action,
			"code", ErrorCode(err), "error", err)
	} else {
		d.logger.Info("command accepted",
			"command_id", cmd.ID, "device_id", cmd.DeviceID, "action", cmd.Action,
			"duration", out.Duration)
	}

	rec := Record{Command: cmd, Outcome: out, Err: err, Started: started, Duration: out.Duration}
	for _, r := range d.recorders {
		r.RecordCommand(ctx, rec)
	}
	return out, err
}

func (d *Dispatcher) dispatch(ctx context.Context, cmd Command) (Outcome, error) {
	if strings.TrimSpace(cmd.DeviceID) == "" {
		return Outcome{}, fmt.Errorf("%w: empty device id", device.ErrUnknownDevice)
	}

	snap, err := d.store.Get(cmd.DeviceID)
	if err != nil {
		return Outcome{}, err
	}

	def, ok := capability.LookupAction(cmd.Action)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: unknown action %q", capability.ErrUnsupportedAction, cmd.Action)
	}
	actionID, err := d.registry.ActionIdentifierFor(snap.Model, cmd.Action)
	if err != nil {
		return Outcome{}, err
	}
	if err := checkReady(snap, cmd.Action); err != nil {
		return Outcome{}, err
	}

	prep, err := prepare(def, cmd.Parameters)
	if err != nil {
		return Outcome{}, err
	}

	release, err := d.locks.acquire(ctx, cmd.DeviceID)
	if err != nil {
		return Outcome{}, fmt.Errorf("waiting for device %s: %w", cmd.DeviceID, err)
	}
	defer release()

	// A command that ran while this one waited may have changed the state.
	snap, err = d.store.Get(cmd.DeviceID)
	if err != nil {
		return Outcome{}, err
	}
	if err := checkReady(snap, cmd.Action); err != nil {
		return Outcome{}, err
	}

	invokeCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	result, err := d.ctrl.Invoke(invokeCtx, cmd.DeviceID, controller.ActionRequest{
		ID:   actionID,
		Name: def.WireName,
		Args: prep.args,
	})
	if err != nil {
		if errors.Is(err, controller.ErrCommandRejected) && d.refresher != nil {
			d.refresher.TriggerRefresh()
		}
		return Outcome{Args: prep.args, Device: snap}, err
	}

	out := Outcome{Args: prep.args, Device: snap, Result: result}
	if !prep.patch.IsEmpty() {
		updated, err := d.store.ApplyOptimistic(cmd.DeviceID, prep.patch)
		if err != nil {
			d.logger.Warn("optimistic update failed", "device_id", cmd.DeviceID, "error", err)
		} else {
			out.Device = updated
		}
	}
	d.scheduleConfirm()
	return out, nil
}

// checkReady enforces the power rule: a powered-off device accepts only
// power_on.
func checkReady(snap device.Device, action capability.Action) error {
	if snap.Power == device.PowerOff && action != capability.ActionPowerOn {
		return fmt.Errorf("%w: %s is powered off; %s requires power_on first", ErrDeviceNotReady, snap.ID, action)
	}
	return nil
}

func (d *Dispatcher) scheduleConfirm() {
	if d.refresher == nil || d.confirmDelay < 0 {
		return
	}
	time.AfterFunc(d.confirmDelay, d.refresher.TriggerRefresh)
}
