package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hitchin999/unifi-connect-display/internal/device"
	"github.com/hitchin999/unifi-connect-display/internal/dispatch"
	"github.com/hitchin999/unifi-connect-display/internal/infrastructure/mqtt"
	"github.com/hitchin999/unifi-connect-display/internal/poller"
)

const (
	defaultQoS            = 1
	defaultCommandTimeout = 30 * time.Second

	// eventQueueSize bounds events waiting to be published. Events that do
	// not fit are dropped and a full resync is scheduled.
	eventQueueSize = 512

	defaultSource = "mqtt"
)

// MQTTClient is the subset of *mqtt.Client the bridge uses.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// Dispatcher executes commands.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd dispatch.Command) (dispatch.Outcome, error)
}

// StateSource is the device store as seen by the bridge.
type StateSource interface {
	Subscribe(handler func(device.Event)) (unsubscribe func())
	List() []device.Device
	Stats() device.Stats
}

// Logger is the logging interface used by the bridge.
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

// Options configures a Bridge.
type Options struct {
	Client     MQTTClient
	Dispatcher Dispatcher
	Store      StateSource

	// PollStatus feeds the health message. Optional.
	PollStatus func() poller.Status

	QoS            byte
	Version        string
	HealthInterval time.Duration

	// CommandTimeout bounds a single MQTT command, including the wait for
	// the device's command lock.
	CommandTimeout time.Duration

	Logger Logger
}

// Bridge connects the device store and dispatcher to MQTT.
//
// Inbound: connect/command/+ is decoded and dispatched; every command is
// answered on connect/ack/{device_id}.
// Outbound: each store event is published on connect/event/{device_id} and
// the device's retained snapshot on connect/state/{device_id} is replaced,
// or cleared when the device is removed.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	client     MQTTClient
	dispatcher Dispatcher
	store      StateSource
	health     *HealthReporter
	qos        byte
	cmdTimeout time.Duration
	logger     Logger

	events chan device.Event
	resync chan struct{}

	// overflowed is set when the event queue overflows and reset when the
	// resync it scheduled begins. It limits the warning to once per episode.
	overflowed atomic.Bool

	// retained holds the device IDs with a retained state on the broker.
	// Only the publish loop touches it once Start has returned.
	retained map[string]struct{}

	stats struct {
		received atomic.Uint64
		accepted atomic.Uint64
		failed   atomic.Uint64
		events   atomic.Uint64
	}

	// mu guards stopping so no command goroutine is added once Stop waits.
	mu       sync.Mutex
	stopping bool

	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	startOnce   sync.Once
	stopOnce    sync.Once
}

// New creates a bridge. Call Start to subscribe and begin publishing.
func New(opts Options) (*Bridge, error) {
	if opts.Client == nil {
		return nil, errors.New("bridge: MQTT client is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("bridge: dispatcher is required")
	}
	if opts.Store == nil {
		return nil, errors.New("bridge: store is required")
	}

	qos := opts.QoS
	if qos > 2 {
		qos = defaultQoS
	}
	timeout := opts.CommandTimeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		client:     opts.Client,
		dispatcher: opts.Dispatcher,
		store:      opts.Store,
		qos:        qos,
		cmdTimeout: timeout,
		logger:     logger,
		events:     make(chan device.Event, eventQueueSize),
		resync:     make(chan struct{}, 1),
		retained:   make(map[string]struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		Version:    opts.Version,
		Interval:   opts.HealthInterval,
		Publisher:  opts.Client,
		Devices:    opts.Store.Stats,
		PollStatus: opts.PollStatus,
		Statistics: b.Statistics,
		Logger:     logger,
	})

	return b, nil
}

// Start publishes the current state of every device, subscribes to
// commands and starts the health reporter. The bridge runs until Stop is
// called or ctx is cancelled.
func (b *Bridge) Start(ctx context.Context) error {
	var err error
	b.startOnce.Do(func() {
		if perr := b.health.PublishStarting(); perr != nil {
			b.logger.Warn("failed to publish starting health", "error", perr)
		}

		b.unsubscribe = b.store.Subscribe(b.enqueue)
		b.publishAllStates()

		if serr := b.client.Subscribe(mqtt.Topics{}.AllCommands(), b.qos, b.handleCommand); serr != nil {
			b.unsubscribe()
			err = fmt.Errorf("subscribe to commands: %w", serr)
			return
		}

		b.wg.Add(1)
		go b.publishLoop()

		b.health.Start(ctx)

		go func() {
			select {
			case <-ctx.Done():
				b.Stop()
			case <-b.ctx.Done():
			}
		}()

		b.logger.Info("MQTT bridge started", "topic", mqtt.Topics{}.AllCommands())
	})
	return err
}

// Stop unsubscribes, waits for in-flight commands and publishes a final
// stopping health status. Safe to call more than once.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if b.unsubscribe != nil {
			b.unsubscribe()
		}
		if err := b.client.Unsubscribe(mqtt.Topics{}.AllCommands()); err != nil && !errors.Is(err, mqtt.ErrNotConnected) {
			b.logger.Warn("failed to unsubscribe from commands", "error", err)
		}

		b.mu.Lock()
		b.stopping = true
		b.mu.Unlock()

		b.cancel()
		b.wg.Wait()
		b.health.Stop()
		b.logger.Info("MQTT bridge stopped")
	})
}

// Resync republishes every retained device state and clears the retained
// state of devices the store no longer holds. Wire it to the MQTT client's
// connect callback so a broker restart does not lose state.
func (b *Bridge) Resync() {
	select {
	case b.resync <- struct{}{}:
	default:
	}
}

// Statistics returns counters since start.
func (b *Bridge) Statistics() BridgeStatistics {
	return BridgeStatistics{
		CommandsReceived: b.stats.received.Load(),
		CommandsAccepted: b.stats.accepted.Load(),
		CommandsFailed:   b.stats.failed.Load(),
		EventsPublished:  b.stats.events.Load(),
	}
}

// handleCommand runs on the MQTT client's goroutine. Dispatch can wait on a
// busy device and acks are published with QoS acknowledgement, so the work
// moves to its own goroutine and the client is released immediately.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	b.stats.received.Add(1)

	topicID, ok := mqtt.CommandDeviceID(topic)
	if !ok {
		b.stats.failed.Add(1)
		return fmt.Errorf("invalid command topic %q", topic)
	}

	b.mu.Lock()
	if b.stopping {
		b.mu.Unlock()
		b.stats.failed.Add(1)
		return fmt.Errorf("bridge stopping, dropped command for %s", topicID)
	}
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		b.process(topicID, payload)
	}()
	return nil
}

func (b *Bridge) process(topicID string, payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.stats.failed.Add(1)
		b.logger.Warn("malformed MQTT command", "device_id", topicID, "error", err)
		b.publishAck(topicID, newBridgeErrorAck(CommandMessage{DeviceID: topicID}, "malformed command: "+err.Error()))
		return
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.DeviceID == "" {
		cmd.DeviceID = topicID
	}
	if cmd.DeviceID != topicID {
		b.stats.failed.Add(1)
		mismatch := cmd
		mismatch.DeviceID = topicID
		b.publishAck(topicID, newBridgeErrorAck(mismatch,
			fmt.Sprintf("device_id %q does not match topic device %q", cmd.DeviceID, topicID)))
		return
	}
	if cmd.Source == "" {
		cmd.Source = defaultSource
	}

	b.execute(cmd)
}

func (b *Bridge) execute(cmd CommandMessage) {
	ctx, cancel := context.WithTimeout(b.ctx, b.cmdTimeout)
	defer cancel()

	b.logger.Debug("MQTT command received",
		"command_id", cmd.ID, "device_id", cmd.DeviceID, "action", cmd.Action, "source", cmd.Source)

	out, err := b.dispatcher.Dispatch(ctx, dispatch.Command{
		ID:         cmd.ID,
		DeviceID:   cmd.DeviceID,
		Action:     cmd.Action,
		Parameters: cmd.Parameters,
		Source:     cmd.Source,
	})
	if err != nil {
		b.stats.failed.Add(1)
	} else {
		b.stats.accepted.Add(1)
	}

	b.publishAck(cmd.DeviceID, newAck(cmd, out, err))
}

func (b *Bridge) publishAck(deviceID string, ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logger.Error("failed to encode ack", "command_id", ack.CommandID, "error", err)
		return
	}
	if err := b.client.Publish(mqtt.Topics{}.Ack(deviceID), payload, b.qos, false); err != nil {
		b.logger.Warn("failed to publish ack", "command_id", ack.CommandID, "device_id", deviceID, "error", err)
	}
}

// enqueue is the store subscription. It never blocks the store.
func (b *Bridge) enqueue(ev device.Event) {
	select {
	case b.events <- ev:
	default:
		// One resync per episode; it has not begun while the flag is set.
		if !b.overflowed.Swap(true) {
			b.logger.Warn("event queue full, scheduling full state resync", "queue", eventQueueSize)
			b.Resync()
		}
	}
}

func (b *Bridge) publishLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case ev := <-b.events:
			b.publishEvent(ev)
		case <-b.resync:
			b.resyncAll()
		}
	}
}

// resyncAll flushes queued events to their event topics, then replaces
// every retained state from the store. Retained states of devices that
// left the store are cleared, which covers removals dropped on overflow.
func (b *Bridge) resyncAll() {
	b.overflowed.Store(false)
	b.drainEvents()
	b.publishAllStates()
}

// drainEvents publishes queued events without their per-event state; the
// full state pass that follows supersedes it.
func (b *Bridge) drainEvents() {
	for {
		select {
		case ev := <-b.events:
			b.publishEventMessage(ev)
		default:
			return
		}
	}
}

func (b *Bridge) publishEvent(ev device.Event) {
	if !b.publishEventMessage(ev) {
		return
	}
	if ev.Type == device.EventRemoved {
		b.clearState(ev.DeviceID)
		return
	}
	b.publishState(ev.Device)
}

// publishEventMessage publishes ev on its event topic. It reports false
// when the device ID cannot be used as a topic level.
func (b *Bridge) publishEventMessage(ev device.Event) bool {
	if !mqtt.ValidSegment(ev.DeviceID) {
		b.logger.Warn("device ID cannot be used as a topic level", "device_id", ev.DeviceID)
		return false
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("failed to encode event", "device_id", ev.DeviceID, "error", err)
		return true
	}
	if err := b.client.Publish(mqtt.Topics{}.Event(ev.DeviceID), payload, b.qos, false); err != nil {
		b.logger.Warn("failed to publish event", "device_id", ev.DeviceID, "event", ev.Type, "error", err)
	} else {
		b.stats.events.Add(1)
	}
	return true
}

func (b *Bridge) publishState(d device.Device) {
	if !mqtt.ValidSegment(d.ID) {
		return
	}
	payload, err := json.Marshal(d)
	if err != nil {
		b.logger.Error("failed to encode device state", "device_id", d.ID, "error", err)
		return
	}
	b.retained[d.ID] = struct{}{}
	if err := b.client.Publish(mqtt.Topics{}.State(d.ID), payload, b.qos, true); err != nil {
		b.logger.Warn("failed to publish device state", "device_id", d.ID, "error", err)
	}
}

// clearState removes a device's retained state. The ID stays tracked when
// the publish fails so the next resync retries it.
func (b *Bridge) clearState(id string) {
	if err := b.client.Publish(mqtt.Topics{}.State(id), nil, b.qos, true); err != nil {
		b.logger.Warn("failed to clear retained state", "device_id", id, "error", err)
		return
	}
	delete(b.retained, id)
}

func (b *Bridge) publishAllStates() {
	devices := b.store.List()
	present := make(map[string]struct{}, len(devices))
	for _, d := range devices {
		present[d.ID] = struct{}{}
		b.publishState(d)
	}

	var cleared int
	for id := range b.retained {
		if _, ok := present[id]; ok {
			continue
		}
		b.clearState(id)
		cleared++
	}
	b.logger.Debug("published retained device states", "count", len(devices), "cleared", cleared)
}
