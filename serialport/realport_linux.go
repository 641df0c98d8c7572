//go:build linux

package serialport

import (
	"fmt"
	"strings"
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"

	"github.com/daedaluz/fdev/poll"
	ioctl "github.com/daedaluz/goioctl"

	"github.com/qseries/q2150ctl/q2150log"
)

var realLog = q2150log.For("serialport")

// RealPort is a hardware serial link: syscall-level open/read/write
// plus termios/ioctl for raw mode and baud selection, with line framing
// (CR/LF/CRLF stripping) and a read-timeout contract layered on top of
// the byte-oriented primitives.
type RealPort struct {
	fd     int
	closed atomic.Bool
	pend   []byte // bytes read past the last line terminator, held for next ReadLine
	skipLF bool   // last line ended in a CR not yet followed by input; drop a leading LF
}

// Open opens name (e.g. "/dev/ttyUSB0") and configures it for raw 8N1 at
// baud. It fails with ErrPortUnavailable wrapping the underlying error.
func Open(name string, baud int) (*RealPort, error) {
	fd, err := syscall.Open(name, syscall.O_RDWR|syscall.O_NOCTTY, 0)
	if err != nil {
		return nil, wrapErr("open "+name, fmt.Errorf("%w: %w", ErrPortUnavailable, err))
	}
	p := &RealPort{fd: fd}
	if err := p.configure(baud); err != nil {
		syscall.Close(fd)
		return nil, wrapErr("configure "+name, err)
	}
	realLog.WithField("port", name).WithField("baud", baud).Info("serial port opened")
	return p, nil
}

func (p *RealPort) configure(baud int) error {
	attrs := &Termios{}
	if err := ioctl.Ioctl(uintptr(p.fd), tcgets, uintptr(unsafe.Pointer(attrs))); err != nil {
		return err
	}
	attrs.MakeRaw()
	attrs.SetSpeed(baud)
	return ioctl.Ioctl(uintptr(p.fd), tcsets, uintptr(unsafe.Pointer(attrs)))
}

func (p *RealPort) Write(data []byte) (int, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}
	n, err := syscall.Write(p.fd, data)
	if err != nil {
		return n, wrapErr("write", err)
	}
	return n, nil
}

// ReadLine waits up to timeout for a full line terminated by CR, LF, or
// CRLF, stripping the terminator. It polls byte-at-a-time via
// poll.WaitInput so the overall wait never exceeds timeout even when
// data trickles in slowly.
func (p *RealPort) ReadLine(timeout time.Duration) (string, bool, error) {
	if p.closed.Load() {
		return "", false, ErrClosed
	}
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 1)
	for {
		if idx := indexAny(p.pend, "\r\n"); idx >= 0 {
			line := string(p.pend[:idx])
			p.skipLF = p.pend[idx] == '\r' && idx == len(p.pend)-1
			rest := p.pend[idx+1:]
			if idx < len(p.pend) && p.pend[idx] == '\r' && len(rest) > 0 && rest[0] == '\n' {
				rest = rest[1:]
			}
			p.pend = append([]byte(nil), rest...)
			return line, true, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", false, nil
		}
		if err := poll.WaitInput(p.fd, remaining); err != nil {
			if err == syscall.EAGAIN || strings.Contains(err.Error(), "timeout") {
				return "", false, nil
			}
			return "", false, wrapErr("read", err)
		}
		n, err := syscall.Read(p.fd, buf)
		if err != nil {
			return "", false, wrapErr("read", err)
		}
		if n == 0 {
			return "", false, wrapErr("read", ConnectionClosedError{})
		}
		if p.skipLF {
			p.skipLF = false
			if buf[0] == '\n' {
				continue
			}
		}
		p.pend = append(p.pend, buf[0])
	}
}

func indexAny(b []byte, chars string) int {
	for i, c := range b {
		for j := 0; j < len(chars); j++ {
			if c == chars[j] {
				return i
			}
		}
	}
	return -1
}

// FlushInput discards buffered inbound bytes at the OS level and drops
// any partially-accumulated line.
func (p *RealPort) FlushInput() error {
	if p.closed.Load() {
		return ErrClosed
	}
	p.pend = p.pend[:0]
	return ioctl.Ioctl(uintptr(p.fd), tcflsh, uintptr(QueueInput))
}

func (p *RealPort) Close() error {
	if !p.closed.Swap(true) {
		fd := p.fd
		p.fd = -1
		return syscall.Close(fd)
	}
	return nil
}

func (p *RealPort) IsOpen() bool {
	return !p.closed.Load()
}

// ConnectionClosedError is returned when a read observes EOF on a link
// that is still nominally open (the peer hung up).
type ConnectionClosedError struct{}

func (ConnectionClosedError) Error() string { return "connection closed by peer" }
