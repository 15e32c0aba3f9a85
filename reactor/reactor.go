// Package reactor multiplexes readiness notifications for many file
// descriptors over a single epoll(7) instance. Callers register a
// descriptor once, then either poll its last observed readiness or
// suspend a goroutine until the kernel reports the descriptor ready
// again. Registration is edge-triggered: a notification fires on each
// not-ready to ready transition, so consumers drive their descriptors to
// EAGAIN before waiting.
package reactor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// ErrAlreadyRegistered is returned by Register when the descriptor is
// already tracked by this reactor. A descriptor has at most one
// registration per reactor; re-registering is an error, never a silent
// replace.
var ErrAlreadyRegistered = errors.New("reactor: descriptor already registered")

// ErrClosed is returned by operations on a reactor that has been closed.
var ErrClosed = errors.New("reactor: closed")

// ErrDeregistered is returned by WaitRead and WaitWrite when the
// registration is removed while the waiter is suspended, so no waiter
// outlives its own interest entry.
var ErrDeregistered = errors.New("reactor: registration removed")

// Reactor owns one epoll instance and a dispatch goroutine that turns
// kernel readiness events into per-registration wakeups.
type Reactor struct {
	epfd      int
	regs      map[int]*Registration
	mu        sync.Mutex
	closed    bool
	done      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once
	pipeR     int // self-pipe read fd, wakes the dispatch loop on Close
	pipeW     int // self-pipe write fd
}

// New creates a reactor and starts its dispatch loop.
func New() (*Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	pipeFds := make([]int, 2)
	if err := unix.Pipe(pipeFds); err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("pipe: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(pipeFds[0])}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, pipeFds[0], &ev); err != nil {
		unix.Close(epfd)
		unix.Close(pipeFds[0])
		unix.Close(pipeFds[1])
		return nil, fmt.Errorf("epoll ctl add: %w", err)
	}
	r := &Reactor{
		epfd:     epfd,
		regs:     make(map[int]*Registration),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
		pipeR:    pipeFds[0],
		pipeW:    pipeFds[1],
	}
	go r.loop()
	return r, nil
}

// Registration associates one descriptor with one reactor. It carries a
// single-slot readiness signal per interest: a notification delivered
// while nobody waits is held until the next WaitRead/WaitWrite consumes
// it, so a transition is never lost between an EAGAIN and the wait that
// follows it.
type Registration struct {
	r        *Reactor
	fd       int
	readSig  chan struct{}
	writeSig chan struct{}
	done     chan struct{} // closed by Deregister, wakes suspended waiters
	readable atomic.Bool
	writable atomic.Bool
}

// Register adds fd to the reactor's interest set for both read and
// write readiness. The descriptor's current readiness is reported as an
// initial notification.
func (r *Reactor) Register(fd int) (*Registration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if _, ok := r.regs[fd]; ok {
		return nil, fmt.Errorf("fd %d: %w", fd, ErrAlreadyRegistered)
	}
	reg := &Registration{
		r:        r,
		fd:       fd,
		readSig:  make(chan struct{}, 1),
		writeSig: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	ev := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLRDHUP | unix.EPOLLET,
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return nil, fmt.Errorf("epoll ctl add fd %d: %w", fd, err)
	}
	r.regs[fd] = reg
	return reg, nil
}

// Deregister removes the descriptor from the reactor's interest set and
// wakes any waiter still suspended on this registration with
// ErrDeregistered. It must be called before the descriptor is closed,
// so the reactor never holds an interest entry for a dead descriptor.
func (reg *Registration) Deregister() error {
	r := reg.r
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.regs[reg.fd]; !ok {
		return nil
	}
	delete(r.regs, reg.fd)
	close(reg.done)
	if r.closed {
		return nil
	}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, reg.fd, nil); err != nil {
		return fmt.Errorf("epoll ctl del fd %d: %w", reg.fd, err)
	}
	return nil
}

// ReadReady reports whether a read-readiness notification has been
// observed and not yet consumed by WaitRead. It never suspends.
func (reg *Registration) ReadReady() bool { return reg.readable.Load() }

// WriteReady reports whether a write-readiness notification has been
// observed and not yet consumed by WaitWrite. It never suspends.
func (reg *Registration) WriteReady() bool { return reg.writable.Load() }

// WaitRead suspends the calling goroutine until the descriptor is
// reported read-ready, ctx is done, the registration is deregistered,
// or the reactor closes. Abandoning the wait via ctx leaves any pending
// notification in the registration's slot for the next waiter; no
// wakeup fires into abandoned state.
func (reg *Registration) WaitRead(ctx context.Context) error {
	select {
	case <-reg.readSig:
		reg.readable.Store(false)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-reg.done:
		return ErrDeregistered
	case <-reg.r.done:
		return ErrClosed
	}
}

// WaitWrite is the write-readiness counterpart of WaitRead.
func (reg *Registration) WaitWrite(ctx context.Context) error {
	select {
	case <-reg.writeSig:
		reg.writable.Store(false)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-reg.done:
		return ErrDeregistered
	case <-reg.r.done:
		return ErrClosed
	}
}

// Wake delivers a spurious readiness notification on both interests,
// forcing any suspended waiter through one more attempt. Consumers use
// it to make waiters re-observe state they changed out of band.
func (reg *Registration) Wake() {
	notify(reg.readSig)
	notify(reg.writeSig)
}

func (r *Reactor) loop() {
	defer close(r.loopDone)
	events := make([]unix.EpollEvent, 64)
	for {
		n, err := unix.EpollWait(r.epfd, events, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return
		}
		for i := 0; i < n; i++ {
			ev := events[i]
			fd := int(ev.Fd)
			if fd == r.pipeR {
				// Close wrote the self-pipe to end the loop.
				return
			}
			r.mu.Lock()
			reg := r.regs[fd]
			r.mu.Unlock()
			if reg == nil {
				continue
			}
			// Error and hangup wake both interests so a waiter
			// observes the condition on its next attempt instead of
			// suspending forever.
			fault := ev.Events&(unix.EPOLLERR|unix.EPOLLHUP|unix.EPOLLRDHUP) != 0
			if fault || ev.Events&unix.EPOLLIN != 0 {
				reg.readable.Store(true)
				notify(reg.readSig)
			}
			if fault || ev.Events&unix.EPOLLOUT != 0 {
				reg.writable.Store(true)
				notify(reg.writeSig)
			}
		}
	}
}

// notify delivers at most one pending signal; a slot already holding a
// notification absorbs the new one.
func notify(sig chan struct{}) {
	select {
	case sig <- struct{}{}:
	default:
	}
}

// Close stops the dispatch loop, wakes every suspended waiter with
// ErrClosed, and releases the epoll instance. Registrations become
// inert; their Deregister calls remain safe no-ops.
func (r *Reactor) Close() error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		close(r.done)
		unix.Write(r.pipeW, []byte{1})
		<-r.loopDone
		unix.Close(r.epfd)
		unix.Close(r.pipeR)
		unix.Close(r.pipeW)
	})
	return nil
}
