package device

import "golang.org/x/sys/unix"

// Parity selects the parity bit mode of the port.
type Parity int

const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
)

// StopBits selects the number of stop bits per character.
type StopBits int

const (
	OneStopBit StopBits = iota
	TwoStopBits
)

// FlowControl selects the flow control mode of the port.
type FlowControl int

const (
	FlowNone FlowControl = iota
	FlowSoftware // XON/XOFF
	FlowHardware // RTS/CTS
)

// Config holds configuration parameters for opening a serial device.
// The zero value of every field except Device and BaudRate is a sensible
// default (8 data bits, no parity, one stop bit, no flow control).
type Config struct {
	Device      string
	BaudRate    int
	DataBits    int // 5-8; 0 means 8
	Parity      Parity
	StopBits    StopBits
	FlowControl FlowControl
}

// Buffer selects which kernel buffer a Clear call discards.
type Buffer int

const (
	BufferInput Buffer = iota
	BufferOutput
	BufferBoth
)

func (b Buffer) flushSelector() int {
	switch b {
	case BufferInput:
		return unix.TCIFLUSH
	case BufferOutput:
		return unix.TCOFLUSH
	default:
		return unix.TCIOFLUSH
	}
}

func baudToUnix(baud int) uint32 {
	switch baud {
	case 1200:
		return unix.B1200
	case 2400:
		return unix.B2400
	case 4800:
		return unix.B4800
	case 9600:
		return unix.B9600
	case 19200:
		return unix.B19200
	case 38400:
		return unix.B38400
	case 57600:
		return unix.B57600
	case 115200:
		return unix.B115200
	case 230400:
		return unix.B230400
	case 460800:
		return unix.B460800
	case 921600:
		return unix.B921600
	default:
		return unix.B115200 // fallback
	}
}

func baudFromUnix(b uint32) int {
	switch b {
	case unix.B1200:
		return 1200
	case unix.B2400:
		return 2400
	case unix.B4800:
		return 4800
	case unix.B9600:
		return 9600
	case unix.B19200:
		return 19200
	case unix.B38400:
		return 38400
	case unix.B57600:
		return 57600
	case unix.B115200:
		return 115200
	case unix.B230400:
		return 230400
	case unix.B460800:
		return 460800
	case unix.B921600:
		return 921600
	default:
		return 0
	}
}
