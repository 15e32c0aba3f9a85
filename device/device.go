// Package device wraps a Linux serial device file descriptor in raw,
// non-blocking mode. Every read and write is a single non-blocking
// syscall whose "not ready" outcome is reported as ErrWouldBlock, so the
// caller decides how to wait for readiness instead of parking a thread
// inside the kernel.
package device

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// ErrWouldBlock is returned by TryRead and TryWrite when the device has
// no data (or no buffer space) available right now. It is not a failure;
// the caller should retry once the descriptor becomes ready.
var ErrWouldBlock = errors.New("device: operation would block")

// ErrUnsupported is returned when the underlying descriptor does not
// support a requested terminal primitive (e.g. exclusivity on a non-tty).
var ErrUnsupported = errors.New("device: operation not supported")

// Device is a serial device held in raw non-blocking mode.
// It is exclusively owned: exactly one consumer drives its I/O at a time.
// Configuration calls and data-transfer calls are independent at the
// kernel level, but callers should not reconfigure the port while a
// transfer on the same descriptor is in flight.
type Device struct {
	fd        int
	file      *os.File // non-nil when the fd is owned by an os.File (pty pairs)
	name      string
	closeOnce sync.Once
	exclusive bool
}

// Open opens the serial device named by cfg.Device in raw non-blocking
// mode and applies cfg. The descriptor stays non-blocking for its whole
// life: reads and writes never park the calling thread.
func Open(cfg Config) (*Device, error) {
	fd, err := unix.Open(cfg.Device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0666)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Device, err)
	}
	d := &Device{fd: fd, name: cfg.Device}
	if err := d.configure(cfg); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return d, nil
}

// Pair allocates two connected pseudo-terminal devices: bytes written to
// one become readable on the other. Both ends are placed in raw
// non-blocking mode. The two devices are independently owned; closing
// one makes subsequent I/O on the other fail or reach end-of-stream.
func Pair() (*Device, *Device, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("pty pair: %w", err)
	}
	m := &Device{fd: int(master.Fd()), file: master, name: master.Name()}
	s := &Device{fd: int(slave.Fd()), file: slave, name: slave.Name()}
	// Master and slave share one termios; configuring the slave end is
	// enough to put the whole terminal in raw mode (no echo, no line
	// discipline mangling the byte stream).
	if err := s.configure(Config{BaudRate: 115200}); err != nil {
		master.Close()
		slave.Close()
		return nil, nil, fmt.Errorf("pty pair: %w", err)
	}
	for _, fd := range []int{m.fd, s.fd} {
		if err := unix.SetNonblock(fd, true); err != nil {
			master.Close()
			slave.Close()
			return nil, nil, fmt.Errorf("pty pair: set nonblock: %w", err)
		}
	}
	return m, s, nil
}

func (d *Device) configure(cfg Config) error {
	termios, err := unix.IoctlGetTermios(d.fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("get termios: %w", err)
	}

	// Raw mode
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag |= unix.CLOCAL | unix.CREAD

	applyBaud(termios, cfg.BaudRate)
	applyDataBits(termios, cfg.DataBits)
	applyParity(termios, cfg.Parity)
	applyStopBits(termios, cfg.StopBits)
	applyFlowControl(termios, cfg.FlowControl)

	// VMIN/VTIME are irrelevant on a non-blocking descriptor but are set
	// to the immediate-read configuration for consistency.
	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(d.fd, unix.TCSETS, termios); err != nil {
		return fmt.Errorf("set termios: %w", err)
	}
	return nil
}

func applyBaud(t *unix.Termios, baud int) {
	b := baudToUnix(baud)
	t.Cflag &^= unix.CBAUD
	t.Cflag |= b
	t.Ispeed = b
	t.Ospeed = b
}

func applyDataBits(t *unix.Termios, bits int) {
	t.Cflag &^= unix.CSIZE
	switch bits {
	case 5:
		t.Cflag |= unix.CS5
	case 6:
		t.Cflag |= unix.CS6
	case 7:
		t.Cflag |= unix.CS7
	default:
		t.Cflag |= unix.CS8
	}
}

func applyParity(t *unix.Termios, p Parity) {
	switch p {
	case ParityOdd:
		t.Cflag |= unix.PARENB | unix.PARODD
	case ParityEven:
		t.Cflag |= unix.PARENB
		t.Cflag &^= unix.PARODD
	default:
		t.Cflag &^= unix.PARENB | unix.PARODD
	}
}

func applyStopBits(t *unix.Termios, s StopBits) {
	if s == TwoStopBits {
		t.Cflag |= unix.CSTOPB
	} else {
		t.Cflag &^= unix.CSTOPB
	}
}

func applyFlowControl(t *unix.Termios, f FlowControl) {
	t.Cflag &^= unix.CRTSCTS
	t.Iflag &^= unix.IXON | unix.IXOFF
	switch f {
	case FlowSoftware:
		t.Iflag |= unix.IXON | unix.IXOFF
	case FlowHardware:
		t.Cflag |= unix.CRTSCTS
	}
}

// Name returns the path the device was opened at.
func (d *Device) Name() string { return d.name }

// Fd returns the underlying file descriptor. The descriptor remains
// owned by the Device; callers must not close it.
func (d *Device) Fd() int { return d.fd }

// TryRead performs a single non-blocking read into p. It returns
// ErrWouldBlock when no data is currently available, io.EOF when the
// terminal reports hangup as a zero-length read, and the OS error
// otherwise. A short read is normal and not an error.
func (d *Device) TryRead(p []byte) (int, error) {
	for {
		n, err := unix.Read(d.fd, p)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			return 0, ErrWouldBlock
		case err != nil:
			return 0, fmt.Errorf("read %s: %w", d.name, err)
		case n == 0 && len(p) > 0:
			return 0, io.EOF
		default:
			return n, nil
		}
	}
}

// TryWrite performs a single non-blocking write of p. It returns
// ErrWouldBlock when the kernel buffer has no room, and the number of
// bytes accepted otherwise. A short write is reported as success with
// that count; the caller resubmits the remainder.
func (d *Device) TryWrite(p []byte) (int, error) {
	for {
		n, err := unix.Write(d.fd, p)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			return 0, ErrWouldBlock
		case err != nil:
			return 0, fmt.Errorf("write %s: %w", d.name, err)
		default:
			return n, nil
		}
	}
}

// BaudRate reports the configured baud rate, or 0 for a rate outside the
// standard table.
func (d *Device) BaudRate() (int, error) {
	t, err := unix.IoctlGetTermios(d.fd, unix.TCGETS)
	if err != nil {
		return 0, fmt.Errorf("get termios: %w", err)
	}
	return baudFromUnix(t.Cflag & unix.CBAUD), nil
}

// SetBaudRate reconfigures the baud rate, leaving every other setting
// untouched.
func (d *Device) SetBaudRate(baud int) error {
	return d.updateTermios(func(t *unix.Termios) { applyBaud(t, baud) })
}

// DataBits reports the configured character size.
func (d *Device) DataBits() (int, error) {
	t, err := unix.IoctlGetTermios(d.fd, unix.TCGETS)
	if err != nil {
		return 0, fmt.Errorf("get termios: %w", err)
	}
	return dataBitsFrom(t), nil
}

func dataBitsFrom(t *unix.Termios) int {
	switch t.Cflag & unix.CSIZE {
	case unix.CS5:
		return 5
	case unix.CS6:
		return 6
	case unix.CS7:
		return 7
	default:
		return 8
	}
}

// SetDataBits reconfigures the character size.
func (d *Device) SetDataBits(bits int) error {
	return d.updateTermios(func(t *unix.Termios) { applyDataBits(t, bits) })
}

// Parity reports the configured parity mode.
func (d *Device) Parity() (Parity, error) {
	t, err := unix.IoctlGetTermios(d.fd, unix.TCGETS)
	if err != nil {
		return ParityNone, fmt.Errorf("get termios: %w", err)
	}
	return parityFrom(t), nil
}

func parityFrom(t *unix.Termios) Parity {
	switch {
	case t.Cflag&unix.PARENB == 0:
		return ParityNone
	case t.Cflag&unix.PARODD != 0:
		return ParityOdd
	default:
		return ParityEven
	}
}

// SetParity reconfigures the parity mode.
func (d *Device) SetParity(p Parity) error {
	return d.updateTermios(func(t *unix.Termios) { applyParity(t, p) })
}

// StopBits reports the configured stop bit count.
func (d *Device) StopBits() (StopBits, error) {
	t, err := unix.IoctlGetTermios(d.fd, unix.TCGETS)
	if err != nil {
		return OneStopBit, fmt.Errorf("get termios: %w", err)
	}
	return stopBitsFrom(t), nil
}

func stopBitsFrom(t *unix.Termios) StopBits {
	if t.Cflag&unix.CSTOPB != 0 {
		return TwoStopBits
	}
	return OneStopBit
}

// SetStopBits reconfigures the stop bit count.
func (d *Device) SetStopBits(s StopBits) error {
	return d.updateTermios(func(t *unix.Termios) { applyStopBits(t, s) })
}

// FlowControl reports the configured flow control mode.
func (d *Device) FlowControl() (FlowControl, error) {
	t, err := unix.IoctlGetTermios(d.fd, unix.TCGETS)
	if err != nil {
		return FlowNone, fmt.Errorf("get termios: %w", err)
	}
	return flowControlFrom(t), nil
}

func flowControlFrom(t *unix.Termios) FlowControl {
	switch {
	case t.Cflag&unix.CRTSCTS != 0:
		return FlowHardware
	case t.Iflag&(unix.IXON|unix.IXOFF) != 0:
		return FlowSoftware
	default:
		return FlowNone
	}
}

// Settings reports the full current configuration in one read, the
// aggregate counterpart of the per-field accessors.
func (d *Device) Settings() (Config, error) {
	t, err := unix.IoctlGetTermios(d.fd, unix.TCGETS)
	if err != nil {
		return Config{}, fmt.Errorf("get termios: %w", err)
	}
	return Config{
		Device:      d.name,
		BaudRate:    baudFromUnix(t.Cflag & unix.CBAUD),
		DataBits:    dataBitsFrom(t),
		Parity:      parityFrom(t),
		StopBits:    stopBitsFrom(t),
		FlowControl: flowControlFrom(t),
	}, nil
}

// SetAll applies every field of cfg in a single termios transaction.
// cfg.Device is ignored; the descriptor stays the one already open.
func (d *Device) SetAll(cfg Config) error {
	return d.updateTermios(func(t *unix.Termios) {
		applyBaud(t, cfg.BaudRate)
		applyDataBits(t, cfg.DataBits)
		applyParity(t, cfg.Parity)
		applyStopBits(t, cfg.StopBits)
		applyFlowControl(t, cfg.FlowControl)
	})
}

// SetFlowControl reconfigures the flow control mode.
func (d *Device) SetFlowControl(f FlowControl) error {
	return d.updateTermios(func(t *unix.Termios) { applyFlowControl(t, f) })
}

func (d *Device) updateTermios(apply func(*unix.Termios)) error {
	t, err := unix.IoctlGetTermios(d.fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("get termios: %w", err)
	}
	apply(t)
	if err := unix.IoctlSetTermios(d.fd, unix.TCSETS, t); err != nil {
		return fmt.Errorf("set termios: %w", err)
	}
	return nil
}

// SetRTS drives the Request To Send line.
func (d *Device) SetRTS(level bool) error {
	return d.setModemBit(unix.TIOCM_RTS, level)
}

// SetDTR drives the Data Terminal Ready line.
func (d *Device) SetDTR(level bool) error {
	return d.setModemBit(unix.TIOCM_DTR, level)
}

func (d *Device) setModemBit(bit int, level bool) error {
	req := uint(unix.TIOCMBIC)
	if level {
		req = unix.TIOCMBIS
	}
	if err := unix.IoctlSetPointerInt(d.fd, req, bit); err != nil {
		return fmt.Errorf("modem set %s: %w", d.name, err)
	}
	return nil
}

// ReadCTS reports the Clear To Send line.
func (d *Device) ReadCTS() (bool, error) { return d.readModemBit(unix.TIOCM_CTS) }

// ReadDSR reports the Data Set Ready line.
func (d *Device) ReadDSR() (bool, error) { return d.readModemBit(unix.TIOCM_DSR) }

// ReadRI reports the Ring Indicator line.
func (d *Device) ReadRI() (bool, error) { return d.readModemBit(unix.TIOCM_RI) }

// ReadCD reports the Carrier Detect line.
func (d *Device) ReadCD() (bool, error) { return d.readModemBit(unix.TIOCM_CD) }

func (d *Device) readModemBit(bit int) (bool, error) {
	bits, err := unix.IoctlGetInt(d.fd, unix.TIOCMGET)
	if err != nil {
		return false, fmt.Errorf("modem get %s: %w", d.name, err)
	}
	return bits&bit != 0, nil
}

// BytesToRead reports how many received bytes are waiting in the kernel
// input buffer.
func (d *Device) BytesToRead() (int, error) {
	n, err := unix.IoctlGetInt(d.fd, unix.TIOCINQ)
	if err != nil {
		return 0, fmt.Errorf("bytes to read %s: %w", d.name, err)
	}
	return n, nil
}

// BytesToWrite reports how many written bytes are still queued in the
// kernel output buffer.
func (d *Device) BytesToWrite() (int, error) {
	n, err := unix.IoctlGetInt(d.fd, unix.TIOCOUTQ)
	if err != nil {
		return 0, fmt.Errorf("bytes to write %s: %w", d.name, err)
	}
	return n, nil
}

// Clear discards the selected kernel buffer contents.
func (d *Device) Clear(which Buffer) error {
	if err := unix.IoctlSetInt(d.fd, unix.TCFLSH, which.flushSelector()); err != nil {
		return fmt.Errorf("clear %s: %w", d.name, err)
	}
	return nil
}

// Drain blocks until the kernel output buffer has been transmitted.
// This is the one intentionally synchronous call on the device; it is
// used by shutdown paths, never by the per-attempt I/O surface.
func (d *Device) Drain() error {
	if err := unix.IoctlSetInt(d.fd, unix.TCSBRK, 1); err != nil {
		return fmt.Errorf("drain %s: %w", d.name, err)
	}
	return nil
}

// SetExclusive toggles advisory open-time exclusivity (TIOCEXCL): while
// set, another process opening the same device path is rejected. It has
// no effect on descriptors that are already open. Returns ErrUnsupported
// if the descriptor is not a terminal.
func (d *Device) SetExclusive(exclusive bool) error {
	req := uint(unix.TIOCNXCL)
	if exclusive {
		req = unix.TIOCEXCL
	}
	if err := unix.IoctlSetInt(d.fd, req, 0); err != nil {
		if err == unix.ENOTTY {
			return ErrUnsupported
		}
		return fmt.Errorf("set exclusive %s: %w", d.name, err)
	}
	d.exclusive = exclusive
	return nil
}

// Exclusive reports whether exclusivity was last set on this device.
func (d *Device) Exclusive() bool { return d.exclusive }

// Dup duplicates the underlying descriptor into a new, independently
// closable Device sharing the same terminal. Duplication is an explicit
// request; a Device is never implicitly shared.
func (d *Device) Dup() (*Device, error) {
	fd, err := unix.Dup(d.fd)
	if err != nil {
		return nil, fmt.Errorf("dup %s: %w", d.name, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("dup %s: set nonblock: %w", d.name, err)
	}
	return &Device{fd: fd, name: d.name}, nil
}

// Close releases the descriptor. Safe to call multiple times; subsequent
// calls are no-ops.
func (d *Device) Close() error {
	var err error
	d.closeOnce.Do(func() {
		if d.file != nil {
			err = d.file.Close()
		} else {
			err = unix.Close(d.fd)
		}
	})
	return err
}
