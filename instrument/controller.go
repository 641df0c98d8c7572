package instrument

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qseries/q2150ctl/q2150log"
	"github.com/qseries/q2150ctl/ringbuffer"
	"github.com/qseries/q2150ctl/serialport"
	"github.com/qseries/q2150ctl/wire"
)

// Opener opens a transport for the given port/baud. The default opener
// treats the literal port name "SIM" as a request for an in-process
// SimPort with default scripted behavior, matching the test scenarios
// in the protocol driver's design notes; any other name is dialed as a
// real serial device.
type Opener func(port string, baud int) (serialport.Transport, error)

func defaultOpener(port string, baud int) (serialport.Transport, error) {
	if port == "SIM" {
		return serialport.NewSimPort(serialport.SimOptions{}), nil
	}
	p, err := serialport.Open(port, baud)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Option configures a Controller at construction.
type Option func(*Controller)

// WithTiming overrides the protocol's fixed timing constants. Intended
// for tests; production callers should accept DefaultTiming().
func WithTiming(t Timing) Option {
	return func(c *Controller) { c.timing = t }
}

// WithCapacity overrides the ring buffer's fixed capacity.
func WithCapacity(n int) Option {
	return func(c *Controller) { c.capacity = n }
}

// WithOpener overrides how Connect turns a (port, baud) pair into a
// Transport. Intended for tests that need a pre-configured SimPort.
func WithOpener(o Opener) Option {
	return func(c *Controller) { c.opener = o }
}

// Controller is the instrument's state machine: it owns the transport
// and ring buffer, drives menu navigation and mode selection, and
// spawns/joins the background reader goroutine for the active
// acquisition mode.
type Controller struct {
	// verbMu serializes all public verbs; it is held across the I/O
	// each verb performs.
	verbMu sync.Mutex

	// stateMu guards state/cfg only, so the reader goroutine can flag
	// ErrorState without ever contending with a verb blocked joining it.
	stateMu sync.Mutex
	state   State
	cfg     wire.SensorConfig

	transport serialport.Transport
	buf       *ringbuffer.Buffer
	timing    Timing
	capacity  int
	opener    Opener

	lastPort string
	lastBaud int

	stopCh   chan struct{}
	readerWG sync.WaitGroup

	pausedMode   State
	pollHz       float64
	pausedPollHz float64

	log *logrus.Entry
}

// New constructs a disconnected Controller.
func New(opts ...Option) *Controller {
	c := &Controller{
		timing:   DefaultTiming(),
		capacity: ringbuffer.DefaultCapacity,
		opener:   defaultOpener,
		log:      q2150log.For("instrument"),
	}
	for _, o := range opts {
		o(c)
	}
	c.buf = ringbuffer.New(c.capacity)
	return c
}

func (c *Controller) getState() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

func (c *Controller) getCfg() wire.SensorConfig {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.cfg
}

func (c *Controller) setCfg(cfg wire.SensorConfig) {
	c.stateMu.Lock()
	c.cfg = cfg
	c.stateMu.Unlock()
}

// State returns the controller's current state.
func (c *Controller) State() State { return c.getState() }

// IsConnected reports whether the controller holds an open transport.
func (c *Controller) IsConnected() bool { return c.getState() != Disconnected }

// Buffer exposes the underlying ring buffer for callers (e.g. the
// recorder) that need a read-only handle.
func (c *Controller) Buffer() *ringbuffer.Buffer { return c.buf }

// Snapshot returns a copy of the ring buffer's current contents.
func (c *Controller) Snapshot() []wire.Reading { return c.buf.Snapshot() }

// Latest returns the most recent reading, if any.
func (c *Controller) Latest() (wire.Reading, bool) {
	s := c.buf.Snapshot()
	if len(s) == 0 {
		return wire.Reading{}, false
	}
	return s[len(s)-1], true
}

// ClearBuffer empties the ring buffer.
func (c *Controller) ClearBuffer() { c.buf.Clear() }

// Connect opens the transport, absorbs the device's power-on banner,
// enters the menu, and reads an initial config snapshot. On any failure
// the transport is closed and the controller remains/returns to
// DISCONNECTED.
func (c *Controller) Connect(ctx context.Context, port string, baud int) error {
	c.verbMu.Lock()
	defer c.verbMu.Unlock()

	if c.getState() != Disconnected {
		return InvalidStateError{c.getState(), "connect"}
	}

	transport, err := c.opener(port, baud)
	if err != nil {
		return PortUnavailableError{Port: port, Err: err}
	}

	if err := sleepCtx(ctx, c.timing.PowerOnSettle); err != nil {
		transport.Close()
		return err
	}
	if err := transport.FlushInput(); err != nil {
		transport.Close()
		return SerialIoError{err}
	}
	if _, err := transport.Write(wire.MenuEnter()); err != nil {
		transport.Close()
		return SerialIoError{err}
	}
	if err := c.awaitMenuPrompt(transport, c.timing.MenuTimeout); err != nil {
		transport.Close()
		return err
	}

	cfg, err := c.refreshConfigOn(transport)
	if err != nil {
		transport.Close()
		return err
	}

	c.transport = transport
	c.setCfg(cfg)
	c.setState(ConfigMenu)
	c.lastPort, c.lastBaud = port, baud
	c.log.WithField("port", port).WithField("baud", baud).Info("connected")
	return nil
}

// Disconnect is best-effort and infallible: it stops any live reader,
// closes the transport, clears the ring buffer, and returns to
// DISCONNECTED from any state.
func (c *Controller) Disconnect() {
	c.verbMu.Lock()
	defer c.verbMu.Unlock()

	if c.getState() == Disconnected {
		return
	}
	prev := c.getState()
	if prev != ConfigMenu && prev != ErrorState {
		c.stopReaderLocked()
	}
	if c.transport != nil {
		if c.getState() != ErrorState {
			c.transport.Write(wire.MenuEnter())
		}
		c.transport.Close()
		c.transport = nil
	}
	c.buf.Clear()
	c.setState(Disconnected)
	c.log.Info("disconnected")
}

// GetConfig returns the controller's current config snapshot.
// CONFIG_MENU only.
func (c *Controller) GetConfig() (wire.SensorConfig, error) {
	c.verbMu.Lock()
	defer c.verbMu.Unlock()
	if c.getState() != ConfigMenu {
		return wire.SensorConfig{}, InvalidStateError{c.getState(), "get_config"}
	}
	return c.getCfg(), nil
}

// SetAveraging issues the averaging menu command. n must be in
// [1, 65535]; out-of-range values are rejected before any bytes leave.
func (c *Controller) SetAveraging(n int) (wire.SensorConfig, error) {
	if n < 1 || n > 65535 {
		return wire.SensorConfig{}, InvalidConfigValueError{Field: "averaging", Value: n}
	}
	return c.configWrite(func(t serialport.Transport) error {
		if _, err := t.Write(wire.MenuCommand('A')); err != nil {
			return err
		}
		_, err := t.Write(wire.NumericReply(n))
		return err
	})
}

// SetADCRate issues the ADC-rate menu command. hz must be one of the
// instrument's fixed rates.
func (c *Controller) SetADCRate(hz int) (wire.SensorConfig, error) {
	if !wire.ValidADCRate(hz) {
		return wire.SensorConfig{}, InvalidConfigValueError{Field: "adc_rate_hz", Value: hz}
	}
	return c.configWrite(func(t serialport.Transport) error {
		if _, err := t.Write(wire.MenuCommand('R')); err != nil {
			return err
		}
		_, err := t.Write(wire.NumericReply(hz))
		return err
	})
}

// SetMode issues the mode-selection menu command. tag is required iff
// mode is ModePolled and must be A-Z.
func (c *Controller) SetMode(mode wire.AcqMode, tag byte) (wire.SensorConfig, error) {
	if mode == wire.ModePolled {
		if tag < 'A' || tag > 'Z' {
			return wire.SensorConfig{}, InvalidConfigValueError{Field: "tag", Value: string(tag)}
		}
	}
	return c.configWrite(func(t serialport.Transport) error {
		if _, err := t.Write(wire.MenuCommand('M')); err != nil {
			return err
		}
		if mode == wire.ModeFreerun {
			_, err := t.Write(wire.NumericReply(0))
			return err
		}
		if _, err := t.Write(wire.NumericReply(1)); err != nil {
			return err
		}
		_, err := t.Write(wire.MenuCommand(tag))
		return err
	})
}

// configWrite centralizes the shared config-write protocol: require
// CONFIG_MENU, send the command, wait for the menu prompt to reappear
// (the sole success signal), then refresh the config snapshot.
func (c *Controller) configWrite(send func(serialport.Transport) error) (wire.SensorConfig, error) {
	c.verbMu.Lock()
	defer c.verbMu.Unlock()

	if c.getState() != ConfigMenu {
		return wire.SensorConfig{}, InvalidStateError{c.getState(), "set_config"}
	}
	if err := send(c.transport); err != nil {
		return wire.SensorConfig{}, SerialIoError{err}
	}
	if err := c.awaitMenuPrompt(c.transport, c.timing.MenuTimeout); err != nil {
		return wire.SensorConfig{}, err
	}
	cfg, err := c.refreshConfigOn(c.transport)
	if err != nil {
		return wire.SensorConfig{}, err
	}
	c.setCfg(cfg)
	return cfg, nil
}

// Start exits the menu (triggering the device's hardware reset),
// absorbs the reset banner, and spawns the reader goroutine for the
// config's current mode.
func (c *Controller) Start(pollHz float64) error {
	c.verbMu.Lock()
	defer c.verbMu.Unlock()

	if c.getState() != ConfigMenu {
		return InvalidStateError{c.getState(), "start"}
	}
	cfg := c.getCfg()
	if err := c.exitMenuAndSettle(); err != nil {
		return err
	}
	c.spawnReader(cfg, pollHz)
	if cfg.Mode == wire.ModeFreerun {
		c.setState(AcqFreerun)
	} else {
		c.setState(AcqPolled)
	}
	c.log.WithField("mode", cfg.Mode).Info("acquisition started")
	return nil
}

// Pause stops the reader goroutine (remembering the acquisition mode to
// restore) and puts the device back in its menu via a plain menu-enter
// (no reset). The controller state becomes PAUSED.
func (c *Controller) Pause() error {
	c.verbMu.Lock()
	defer c.verbMu.Unlock()

	cur := c.getState()
	if cur != AcqFreerun && cur != AcqPolled {
		return InvalidStateError{cur, "pause"}
	}
	c.pausedMode = cur
	c.pausedPollHz = c.pollHz
	c.stopReaderLocked()

	if _, err := c.transport.Write(wire.MenuEnter()); err != nil {
		return SerialIoError{err}
	}
	if err := c.awaitMenuPrompt(c.transport, c.timing.MenuTimeout); err != nil {
		return err
	}
	c.setState(Paused)
	return nil
}

// Resume refreshes the config snapshot, re-exits the menu (triggering
// another reset), and respawns the reader that was running before
// Pause, restoring the prior poll rate for polled mode.
func (c *Controller) Resume() error {
	c.verbMu.Lock()
	defer c.verbMu.Unlock()

	if c.getState() != Paused {
		return InvalidStateError{c.getState(), "resume"}
	}
	cfg, err := c.refreshConfigOn(c.transport)
	if err != nil {
		return err
	}
	c.setCfg(cfg)
	if err := c.exitMenuAndSettle(); err != nil {
		return err
	}
	c.spawnReader(cfg, c.pausedPollHz)
	c.setState(c.pausedMode)
	return nil
}

// Stop joins any live reader, then unconditionally sends menu-enter so
// CONFIG_MENU is guaranteed on success — this is what makes Stop safe to
// call from PAUSED as well as from an acquisition state.
func (c *Controller) Stop() error {
	c.verbMu.Lock()
	defer c.verbMu.Unlock()

	cur := c.getState()
	if cur != AcqFreerun && cur != AcqPolled && cur != Paused {
		return InvalidStateError{cur, "stop"}
	}
	if cur == AcqFreerun || cur == AcqPolled {
		c.stopReaderLocked()
	}
	if _, err := c.transport.Write(wire.MenuEnter()); err != nil {
		return SerialIoError{err}
	}
	if err := c.awaitMenuPrompt(c.transport, c.timing.MenuTimeout); err != nil {
		return err
	}
	c.setState(ConfigMenu)
	return nil
}

// Reconnect disconnects (best-effort) and reconnects using the last
// known good (port, baud).
func (c *Controller) Reconnect(ctx context.Context) error {
	c.Disconnect()
	return c.Connect(ctx, c.lastPort, c.lastBaud)
}

func (c *Controller) exitMenuAndSettle() error {
	if _, err := c.transport.Write(wire.MenuExit()); err != nil {
		return SerialIoError{err}
	}
	time.Sleep(c.timing.ResetSettle)
	if err := c.transport.FlushInput(); err != nil {
		return SerialIoError{err}
	}
	return nil
}

func (c *Controller) spawnReader(cfg wire.SensorConfig, pollHz float64) {
	stopCh := make(chan struct{})
	c.stopCh = stopCh
	c.readerWG.Add(1)
	if cfg.Mode == wire.ModeFreerun {
		go c.runFreerunReader(stopCh, cfg.SensorID)
	} else {
		c.pollHz = pollHz
		go c.runPolledReader(stopCh, cfg.SensorID, cfg.Tag, pollHz, cfg.SamplePeriod())
	}
}

func (c *Controller) stopReaderLocked() {
	if c.stopCh == nil {
		return
	}
	close(c.stopCh)
	c.readerWG.Wait()
	c.stopCh = nil
}

// awaitMenuPrompt issues no command itself; it waits for the menu
// prompt to (re)appear after the caller has already sent one.
func (c *Controller) awaitMenuPrompt(t serialport.Transport, timeout time.Duration) error {
	_, err := c.awaitLineKind(t, wire.MenuPrompt, timeout)
	return err
}

// awaitLineKind reads lines until one classifies as want, the timeout
// elapses, or the link fails. Lines of any other kind are ignored and
// waiting continues rather than being matched against a specific
// per-command confirmation string.
func (c *Controller) awaitLineKind(t serialport.Transport, want wire.LineKind, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", MenuTimeoutError{Timeout: timeout}
		}
		wait := c.timing.ReadTimeout
		if remaining < wait {
			wait = remaining
		}
		line, ok, err := t.ReadLine(wait)
		if err != nil {
			return "", SerialIoError{err}
		}
		if !ok {
			continue
		}
		if wire.Classify(line) == want {
			return line, nil
		}
	}
}

func (c *Controller) refreshConfigOn(t serialport.Transport) (wire.SensorConfig, error) {
	if _, err := t.Write(wire.MenuCommand('^')); err != nil {
		return wire.SensorConfig{}, SerialIoError{err}
	}
	line, err := c.awaitLineKind(t, wire.ConfigDump, c.timing.MenuTimeout)
	if err != nil {
		return wire.SensorConfig{}, err
	}
	cfg, perr := wire.ParseConfigDump(line)
	if perr != nil {
		return wire.SensorConfig{}, InvalidResponseError{perr}
	}
	if err := c.awaitMenuPrompt(t, c.timing.MenuTimeout); err != nil {
		return wire.SensorConfig{}, err
	}
	return cfg, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if ctx == nil {
		time.Sleep(d)
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
