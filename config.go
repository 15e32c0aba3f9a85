package serial

import "github.com/luhtfiimanal/go-async-serial/device"

// The configuration vocabulary is defined by the device package and
// re-exported here so most programs only import this package.

// Config holds configuration parameters for opening a serial port.
type Config = device.Config

// Parity selects the parity bit mode of the port.
type Parity = device.Parity

// StopBits selects the number of stop bits per character.
type StopBits = device.StopBits

// FlowControl selects the flow control mode of the port.
type FlowControl = device.FlowControl

// Buffer selects which kernel buffer a Clear call discards.
type Buffer = device.Buffer

const (
	ParityNone = device.ParityNone
	ParityOdd  = device.ParityOdd
	ParityEven = device.ParityEven

	OneStopBit  = device.OneStopBit
	TwoStopBits = device.TwoStopBits

	FlowNone     = device.FlowNone
	FlowSoftware = device.FlowSoftware
	FlowHardware = device.FlowHardware

	BufferInput  = device.BufferInput
	BufferOutput = device.BufferOutput
	BufferBoth   = device.BufferBoth
)

// ErrUnsupported is returned when the underlying device lacks a
// requested primitive, such as exclusivity on a non-terminal descriptor.
var ErrUnsupported = device.ErrUnsupported
