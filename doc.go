// Package serial exposes a Linux serial port as an asynchronously
// pollable byte stream. Reads and writes never block an OS thread:
// every attempt is a single non-blocking syscall, and a "would block"
// outcome suspends only the calling goroutine until an epoll-based
// reactor reports the descriptor ready again.
//
// The package is split along its three roles:
//   - device: the raw non-blocking serial descriptor (termios
//     configuration, modem lines, exclusivity, pty pairs)
//   - reactor: readiness registration and suspension over one epoll
//     instance shared by many ports
//   - serial (this package): the Port type bridging the two, plus
//     pass-through access to every device configuration operation
//
// Features:
//   - Readiness-driven I/O, one non-blocking attempt per wakeup
//   - Connected pseudo-terminal pairs for loopback and testing
//   - Full termios configuration surface and modem line control
//   - Advisory open-time exclusivity (TIOCEXCL)
//   - PTY-based tests for reliability
//
// This package does **not** support Windows.
//
// Example usage:
//
//	r, err := reactor.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Close()
//
//	port, err := serial.Open(serial.Config{
//	    Device:   "/dev/ttyUSB0",
//	    BaudRate: 115200,
//	}, r)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer port.Close()
//
//	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
//	defer cancel()
//
//	buf := make([]byte, 256)
//	n, err := port.ReadContext(ctx, buf)
//	if err != nil {
//	    log.Println("Read error:", err)
//	}
//	fmt.Printf("Received: %s\n", buf[:n])
//
// Port implements io.ReadWriteCloser; Read and Write are the context-free
// forms of ReadContext and WriteContext. One outstanding read and one
// outstanding write per Port is the intended contract.
package serial
