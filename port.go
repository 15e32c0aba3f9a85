package serial

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/luhtfiimanal/go-async-serial/device"
	"github.com/luhtfiimanal/go-async-serial/reactor"
)

const (
	stateOpen = iota
	stateShutdown
	stateClosed
)

// Port bridges one serial device into asynchronous by-readiness I/O.
// A read or write attempt never blocks the calling thread: each call
// performs a single non-blocking attempt, and on a would-block outcome
// suspends the goroutine until the reactor reports the descriptor ready
// again, then retries once per wakeup.
//
// The natural contract for a byte stream is one outstanding read and one
// outstanding write per Port; concurrent calls in the same direction
// interleave at the OS level in unspecified order.
type Port struct {
	dev   *device.Device
	reg   *reactor.Registration
	state atomic.Int32
}

// Open opens the device named by cfg.Device, applies cfg, and registers
// it with r. On registration failure the device is closed before
// returning; a failed Open never leaves a half-initialized Port behind.
func Open(cfg Config, r *reactor.Reactor) (*Port, error) {
	dev, err := device.Open(cfg)
	if err != nil {
		return nil, err
	}
	return New(dev, r)
}

// New wraps an already-open device, registering it with r. The Port
// takes exclusive ownership of dev; on failure dev is closed.
func New(dev *device.Device, r *reactor.Reactor) (*Port, error) {
	reg, err := r.Register(dev.Fd())
	if err != nil {
		dev.Close()
		return nil, err
	}
	return &Port{dev: dev, reg: reg}, nil
}

// Pair allocates two connected pseudo-terminal ports, each with its own
// registration against r. Bytes written on one side become readable on
// the other. The two ports are independently owned: closing one makes
// subsequent reads on the other fail or reach end-of-stream, never hang.
// On any failure the whole operation rolls back; nothing stays allocated.
func Pair(r *reactor.Reactor) (*Port, *Port, error) {
	mdev, sdev, err := device.Pair()
	if err != nil {
		return nil, nil, err
	}
	mreg, err := r.Register(mdev.Fd())
	if err != nil {
		mdev.Close()
		sdev.Close()
		return nil, nil, fmt.Errorf("pair: %w", err)
	}
	sreg, err := r.Register(sdev.Fd())
	if err != nil {
		mreg.Deregister()
		mdev.Close()
		sdev.Close()
		return nil, nil, fmt.Errorf("pair: %w", err)
	}
	return &Port{dev: mdev, reg: mreg}, &Port{dev: sdev, reg: sreg}, nil
}

func (p *Port) ioState() error {
	switch p.state.Load() {
	case stateClosed:
		return ErrPortClosed
	case stateShutdown:
		return ErrPortShutdown
	default:
		return nil
	}
}

// ReadContext reads into b, suspending until data, ctx cancellation, or
// an error. A short read is normal; n may be less than len(b). Returns
// io.EOF where the terminal reports end-of-stream. OS errors are
// returned as-is and never retried.
func (p *Port) ReadContext(ctx context.Context, b []byte) (int, error) {
	for {
		if err := p.ioState(); err != nil {
			return 0, err
		}
		n, err := p.dev.TryRead(b)
		if !errors.Is(err, device.ErrWouldBlock) {
			return n, err
		}
		if err := p.reg.WaitRead(ctx); err != nil {
			if errors.Is(err, reactor.ErrDeregistered) {
				// Close deregistered us mid-wait; the state check at
				// the top of the loop reports it.
				continue
			}
			return 0, err
		}
	}
}

// WriteContext writes from b, suspending while the kernel buffer is
// full. A short write is reported as success with the accepted count;
// the caller resubmits the remainder. OS errors are never retried.
func (p *Port) WriteContext(ctx context.Context, b []byte) (int, error) {
	for {
		if err := p.ioState(); err != nil {
			return 0, err
		}
		n, err := p.dev.TryWrite(b)
		if !errors.Is(err, device.ErrWouldBlock) {
			return n, err
		}
		if err := p.reg.WaitWrite(ctx); err != nil {
			if errors.Is(err, reactor.ErrDeregistered) {
				continue
			}
			return 0, err
		}
	}
}

// Read implements io.Reader over ReadContext with a background context.
func (p *Port) Read(b []byte) (int, error) {
	return p.ReadContext(context.Background(), b)
}

// Write implements io.Writer over WriteContext with a background context.
func (p *Port) Write(b []byte) (int, error) {
	return p.WriteContext(context.Background(), b)
}

// Shutdown drains the kernel output buffer, then stops the async I/O
// surface: further ReadContext/WriteContext calls return ErrPortShutdown.
// The device stays open and configurable; releasing it is Close's job,
// so a half-closed, still-configurable port is representable.
func (p *Port) Shutdown() error {
	switch p.state.Load() {
	case stateClosed:
		return ErrPortClosed
	case stateShutdown:
		return nil
	}
	if err := p.dev.Drain(); err != nil {
		return err
	}
	p.state.CompareAndSwap(stateOpen, stateShutdown)
	// A read or write already suspended when the state flipped must be
	// forced through one more attempt to observe it.
	p.reg.Wake()
	return nil
}

// Close deregisters the port from its reactor, then releases the
// device — in that order, so the reactor never holds an interest entry
// for a closed descriptor. Calling Close twice returns ErrPortClosed.
func (p *Port) Close() error {
	prev := p.state.Swap(stateClosed)
	if prev == stateClosed {
		return ErrPortClosed
	}
	err := p.reg.Deregister()
	if cerr := p.dev.Close(); err == nil {
		err = cerr
	}
	return err
}

// Fd exposes the underlying descriptor read-only, for interoperability
// with other polling consumers. Registering it with a second readiness
// mechanism while this Port is in use is caller-prohibited; the bridge
// does not guard against dual registration.
func (p *Port) Fd() int { return p.dev.Fd() }

// SetExclusive toggles advisory open-time exclusivity: while set,
// another process opening the same device path is rejected. Returns
// ErrUnsupported where the OS lacks the primitive.
func (p *Port) SetExclusive(exclusive bool) error {
	if p.state.Load() == stateClosed {
		return ErrPortClosed
	}
	return p.dev.SetExclusive(exclusive)
}

// Exclusive reports whether exclusivity was last set on this port.
func (p *Port) Exclusive() bool { return p.dev.Exclusive() }

// Dup duplicates the underlying descriptor into a new independently
// closable device sharing the same terminal. Wrapping the duplicate in
// a second Port (via New) is the explicit way to share a device between
// bridges; a Port never shares its device implicitly.
func (p *Port) Dup() (*device.Device, error) {
	if p.state.Load() == stateClosed {
		return nil, ErrPortClosed
	}
	return p.dev.Dup()
}
