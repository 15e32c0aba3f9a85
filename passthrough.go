package serial

import "time"

// Configuration pass-through. Every accessor and mutator below delegates
// verbatim to the owned device with no added state or synchronization.
// Configuration calls are independent of data-transfer calls at the
// kernel level, but reconfiguring a port while a read or write is in
// flight on the same descriptor is the caller's to avoid.

// Name returns the path the port was opened at.
func (p *Port) Name() string { return p.dev.Name() }

// Settings reports the full current configuration in one read.
func (p *Port) Settings() (Config, error) { return p.dev.Settings() }

// SetAll applies every field of cfg in a single transaction.
func (p *Port) SetAll(cfg Config) error { return p.dev.SetAll(cfg) }

// BaudRate reports the configured baud rate.
func (p *Port) BaudRate() (int, error) { return p.dev.BaudRate() }

// SetBaudRate reconfigures the baud rate.
func (p *Port) SetBaudRate(baud int) error { return p.dev.SetBaudRate(baud) }

// DataBits reports the configured character size.
func (p *Port) DataBits() (int, error) { return p.dev.DataBits() }

// SetDataBits reconfigures the character size.
func (p *Port) SetDataBits(bits int) error { return p.dev.SetDataBits(bits) }

// Parity reports the configured parity mode.
func (p *Port) Parity() (Parity, error) { return p.dev.Parity() }

// SetParity reconfigures the parity mode.
func (p *Port) SetParity(parity Parity) error { return p.dev.SetParity(parity) }

// StopBits reports the configured stop bit count.
func (p *Port) StopBits() (StopBits, error) { return p.dev.StopBits() }

// SetStopBits reconfigures the stop bit count.
func (p *Port) SetStopBits(stopBits StopBits) error { return p.dev.SetStopBits(stopBits) }

// FlowControl reports the configured flow control mode.
func (p *Port) FlowControl() (FlowControl, error) { return p.dev.FlowControl() }

// SetFlowControl reconfigures the flow control mode.
func (p *Port) SetFlowControl(flow FlowControl) error { return p.dev.SetFlowControl(flow) }

// SetRTS drives the Request To Send line.
func (p *Port) SetRTS(level bool) error { return p.dev.SetRTS(level) }

// SetDTR drives the Data Terminal Ready line.
func (p *Port) SetDTR(level bool) error { return p.dev.SetDTR(level) }

// ReadCTS reports the Clear To Send line.
func (p *Port) ReadCTS() (bool, error) { return p.dev.ReadCTS() }

// ReadDSR reports the Data Set Ready line.
func (p *Port) ReadDSR() (bool, error) { return p.dev.ReadDSR() }

// ReadRI reports the Ring Indicator line.
func (p *Port) ReadRI() (bool, error) { return p.dev.ReadRI() }

// ReadCD reports the Carrier Detect line.
func (p *Port) ReadCD() (bool, error) { return p.dev.ReadCD() }

// BytesToRead reports how many received bytes wait in the kernel input
// buffer.
func (p *Port) BytesToRead() (int, error) { return p.dev.BytesToRead() }

// BytesToWrite reports how many written bytes are still queued in the
// kernel output buffer.
func (p *Port) BytesToWrite() (int, error) { return p.dev.BytesToWrite() }

// Clear discards the selected kernel buffer contents.
func (p *Port) Clear(which Buffer) error { return p.dev.Clear(which) }

// Drain blocks until the kernel output buffer has been transmitted, the
// flush half of the write surface. Shutdown performs the same drain
// before stopping the async surface.
func (p *Port) Drain() error {
	if p.state.Load() == stateClosed {
		return ErrPortClosed
	}
	return p.dev.Drain()
}

// Timeout always reports zero. Under readiness-driven I/O a fixed
// OS-level read/write timeout has no meaning: an operation waits exactly
// until the descriptor is ready or its context is cancelled. This is a
// deliberate divergence from synchronous serial APIs, where Timeout
// reflects a configured deadline.
func (p *Port) Timeout() time.Duration { return 0 }

// SetTimeout accepts any value and has no effect; see Timeout. Callers
// wanting deadlines pass a context with one to ReadContext/WriteContext.
func (p *Port) SetTimeout(time.Duration) error { return nil }
