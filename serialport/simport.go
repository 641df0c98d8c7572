package serialport

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// SimOptions configures the scripted device model a SimPort presents.
type SimOptions struct {
	SensorID        string
	FirmwareVersion string
	Preamble        string
	Averaging       int
	ADCRateHz       int
	IncludeTemp     bool
	IncludeVin      bool
	// BannerDelay is how long after construction the power-on banner
	// line is queued. Real hardware settles in ~1.2s; tests normally
	// pass something much shorter.
	BannerDelay time.Duration
	// ResetSettle is how long after an "X" (menu-exit) command the
	// post-reset banner line is queued, before acquisition resumes.
	ResetSettle time.Duration
}

func (o SimOptions) withDefaults() SimOptions {
	if o.SensorID == "" {
		o.SensorID = "Q2150-SIM"
	}
	if o.FirmwareVersion == "" {
		o.FirmwareVersion = "2150 REV 4.003"
	}
	if o.Averaging == 0 {
		o.Averaging = 125
	}
	if o.ADCRateHz == 0 {
		o.ADCRateHz = 125
	}
	if o.ResetSettle == 0 {
		o.ResetSettle = 5 * time.Millisecond
	}
	return o
}

// SimPort is an in-process simulator transport: it presents the same
// Transport interface as RealPort but is driven entirely by a scripted
// model of the instrument's menu/freerun/polled behavior, so tests need
// no hardware. It pairs a controllable peer over channels instead of a
// real pty.
type SimPort struct {
	out    chan string
	inbuf  []byte
	mu     sync.Mutex
	closed atomic.Bool

	resetSettle time.Duration

	model *simModel
}

type simModel struct {
	mu          sync.Mutex
	inMenu      bool
	averaging   int
	adcRateHz   int
	mode        byte // 'F' or 'P'
	tag         byte
	includeTemp bool
	includeVin  bool
	pendingOp   byte // 'A', 'R', 'M', 0

	acqStopCh chan struct{}
	acqWG     sync.WaitGroup
	value     float64
}

// NewSimPort starts a simulator transport with the given scripted
// device configuration.
func NewSimPort(opts SimOptions) *SimPort {
	opts = opts.withDefaults()
	p := &SimPort{
		out:         make(chan string, 256),
		resetSettle: opts.ResetSettle,
		model: &simModel{
			inMenu:      false,
			averaging:   opts.Averaging,
			adcRateHz:   opts.ADCRateHz,
			mode:        'F',
			includeTemp: opts.IncludeTemp,
			includeVin:  opts.IncludeVin,
		},
	}
	delay := opts.BannerDelay
	if delay == 0 {
		delay = 10 * time.Millisecond
	}
	go func() {
		time.Sleep(delay)
		p.emit(fmt.Sprintf("%s %s SN=%s", "QSensor", opts.FirmwareVersion, opts.SensorID))
	}()
	return p
}

func (p *SimPort) emit(line string) {
	if p.closed.Load() {
		return
	}
	select {
	case p.out <- line:
	default:
	}
}

// Write accepts raw protocol bytes and feeds them to the scripted model.
// ESC is a one-byte command; everything else is CR-terminated.
func (p *SimPort) Write(data []byte) (int, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}
	p.mu.Lock()
	p.inbuf = append(p.inbuf, data...)
	for len(p.inbuf) > 0 {
		if p.inbuf[0] == 0x1B {
			p.inbuf = p.inbuf[1:]
			p.handleEsc()
			continue
		}
		idx := -1
		for i, b := range p.inbuf {
			if b == 0x0D {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}
		line := string(p.inbuf[:idx])
		p.inbuf = p.inbuf[idx+1:]
		p.handleLine(line)
	}
	p.mu.Unlock()
	return len(data), nil
}

func (p *SimPort) handleEsc() {
	p.model.mu.Lock()
	p.model.stopAcquisitionLocked()
	p.model.inMenu = true
	p.model.mu.Unlock()
	p.emit(menuPromptPhraseCanonical)
}

const menuPromptPhraseCanonical = "Select the letter of the menu entry:"

func (p *SimPort) handleLine(line string) {
	m := p.model
	m.mu.Lock()
	switch {
	case line == "^":
		dump := m.configDumpLineLocked()
		m.mu.Unlock()
		p.emit(dump)
		p.emit(menuPromptPhraseCanonical)
		return
	case line == "X":
		m.inMenu = false
		mode, tag := m.mode, m.tag
		m.mu.Unlock()
		go p.afterReset(mode, tag)
		return
	case len(line) >= 1 && line[0] == '*':
		// polled_init(tag): "*" + tag + "Q000!"
		if len(line) >= 2 {
			m.tag = line[1]
		}
		m.mu.Unlock()
		return
	case len(line) >= 1 && line[0] == '>':
		// polled_query(tag)
		tag := byte(0)
		if len(line) >= 2 {
			tag = line[1]
		}
		reading := m.freerunLikeLineLocked(tag)
		m.mu.Unlock()
		p.emit(reading)
		return
	case m.pendingOp != 0:
		op := m.pendingOp
		m.pendingOp = 0
		switch op {
		case 'A':
			if n, err := parseIntStrict(line); err == nil {
				m.averaging = n
			}
		case 'R':
			if n, err := parseIntStrict(line); err == nil {
				if !validADCRate(n) {
					m.mu.Unlock()
					p.emit("Invalid rate!!! Command is ignored.")
					p.emit(menuPromptPhraseCanonical)
					return
				}
				m.adcRateHz = n
			}
		case 'M':
			if line == "0" {
				m.mode = 'F'
			} else if line == "1" {
				m.pendingOp = 'T' // awaiting tag letter next
				m.mu.Unlock()
				return
			}
		case 'T':
			if len(line) == 1 {
				m.mode = 'P'
				m.tag = line[0]
			}
		}
		m.mu.Unlock()
		p.emit(menuPromptPhraseCanonical)
		return
	case len(line) == 1 && (line[0] == 'A' || line[0] == 'R' || line[0] == 'M'):
		m.pendingOp = line[0]
		m.mu.Unlock()
		return
	default:
		m.mu.Unlock()
		return
	}
}

func parseIntStrict(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

func validADCRate(hz int) bool {
	for _, r := range [...]int{4, 8, 16, 33, 62, 125, 250, 500} {
		if r == hz {
			return true
		}
	}
	return false
}

func (m *simModel) configDumpLineLocked() string {
	mode := "F"
	tag := ""
	if m.mode == 'P' {
		mode = "P"
		tag = string(m.tag)
	}
	temp, vin := "0", "0"
	if m.includeTemp {
		temp = "1"
	}
	if m.includeVin {
		vin = "1"
	}
	return fmt.Sprintf("Q2150-SIM,2150 REV 4.003,Q,%d,%d,%s,%s,%s,%s,1.000",
		m.averaging, m.adcRateHz, mode, tag, temp, vin)
}

func (m *simModel) freerunLikeLineLocked(expectTag byte) string {
	m.value++
	fields := []string{fmt.Sprintf("%.3f", m.value)}
	if m.includeTemp {
		fields = append(fields, "23.500")
	}
	if m.includeVin {
		fields = append(fields, "5.000")
	}
	prefix := ""
	if expectTag != 0 {
		prefix = string(expectTag) + ","
	}
	line := prefix
	for i, f := range fields {
		if i > 0 {
			line += ","
		}
		line += f
	}
	return line
}

func (m *simModel) stopAcquisitionLocked() {
	if m.acqStopCh != nil {
		close(m.acqStopCh)
		m.acqStopCh = nil
	}
}

// afterReset emits the post-reset banner and, for freerun mode, starts a
// ticker that streams readings until the next ESC/menu-enter.
func (p *SimPort) afterReset(mode, tag byte) {
	time.Sleep(p.resetSettle)
	p.emit("RESET OK")
	if mode != 'F' {
		return
	}
	m := p.model
	m.mu.Lock()
	stop := make(chan struct{})
	m.acqStopCh = stop
	period := time.Second
	if m.adcRateHz > 0 && m.averaging > 0 {
		period = time.Duration(float64(m.averaging) / float64(m.adcRateHz) * float64(time.Second))
	}
	m.mu.Unlock()

	go func() {
		t := time.NewTicker(period)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				m.mu.Lock()
				line := m.freerunLikeLineLocked(0)
				m.mu.Unlock()
				p.emit(line)
			}
		}
	}()
}

// ReadLine waits up to timeout for the next line the model has queued.
func (p *SimPort) ReadLine(timeout time.Duration) (string, bool, error) {
	if p.closed.Load() {
		return "", false, ErrClosed
	}
	select {
	case line, ok := <-p.out:
		if !ok {
			return "", false, ErrClosed
		}
		return line, true, nil
	case <-time.After(timeout):
		return "", false, nil
	}
}

// FlushInput discards any lines the model has queued but the caller has
// not yet read.
func (p *SimPort) FlushInput() error {
	for {
		select {
		case <-p.out:
		default:
			return nil
		}
	}
}

func (p *SimPort) Close() error {
	if !p.closed.Swap(true) {
		p.model.mu.Lock()
		p.model.stopAcquisitionLocked()
		p.model.mu.Unlock()
	}
	return nil
}

func (p *SimPort) IsOpen() bool {
	return !p.closed.Load()
}
