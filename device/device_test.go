package device

import (
	"errors"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/require"
)

func openSlave(t *testing.T, cfg Config) *Device {
	t.Helper()
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	cfg.Device = slave.Name()
	dev, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })
	return dev
}

func TestDevice_ConfigRoundTrip(t *testing.T) {
	dev := openSlave(t, Config{
		BaudRate:    19200,
		DataBits:    7,
		Parity:      ParityEven,
		StopBits:    TwoStopBits,
		FlowControl: FlowSoftware,
	})

	baud, err := dev.BaudRate()
	require.NoError(t, err)
	require.Equal(t, 19200, baud)

	bits, err := dev.DataBits()
	require.NoError(t, err)
	require.Equal(t, 7, bits)

	parity, err := dev.Parity()
	require.NoError(t, err)
	require.Equal(t, ParityEven, parity)

	stop, err := dev.StopBits()
	require.NoError(t, err)
	require.Equal(t, TwoStopBits, stop)

	flow, err := dev.FlowControl()
	require.NoError(t, err)
	require.Equal(t, FlowSoftware, flow)
}

func TestDevice_Reconfigure(t *testing.T) {
	dev := openSlave(t, Config{BaudRate: 9600})

	require.NoError(t, dev.SetBaudRate(115200))
	require.NoError(t, dev.SetParity(ParityOdd))
	require.NoError(t, dev.SetDataBits(8))
	require.NoError(t, dev.SetStopBits(OneStopBit))
	require.NoError(t, dev.SetFlowControl(FlowNone))

	baud, err := dev.BaudRate()
	require.NoError(t, err)
	require.Equal(t, 115200, baud)

	parity, err := dev.Parity()
	require.NoError(t, err)
	require.Equal(t, ParityOdd, parity)

	flow, err := dev.FlowControl()
	require.NoError(t, err)
	require.Equal(t, FlowNone, flow)
}

func TestDevice_SettingsAggregate(t *testing.T) {
	dev := openSlave(t, Config{BaudRate: 9600})

	want := Config{
		Device:      dev.Name(),
		BaudRate:    38400,
		DataBits:    7,
		Parity:      ParityOdd,
		StopBits:    TwoStopBits,
		FlowControl: FlowHardware,
	}
	require.NoError(t, dev.SetAll(want))

	got, err := dev.Settings()
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestDevice_TryReadWouldBlock(t *testing.T) {
	dev := openSlave(t, Config{BaudRate: 115200})

	buf := make([]byte, 16)
	n, err := dev.TryRead(buf)
	require.ErrorIs(t, err, ErrWouldBlock)
	require.Zero(t, n)
}

func TestDevice_PairTransit(t *testing.T) {
	master, slave, err := Pair()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	n, err := master.TryWrite([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	// The bytes transit through the terminal asynchronously; retry until
	// they land.
	buf := make([]byte, 16)
	deadline := time.Now().Add(time.Second)
	for {
		n, err = slave.TryRead(buf)
		if errors.Is(err, ErrWouldBlock) {
			require.True(t, time.Now().Before(deadline), "timeout waiting for pair transit")
			time.Sleep(time.Millisecond)
			continue
		}
		require.NoError(t, err)
		break
	}
	require.Equal(t, "hello", string(buf[:n]))
}

func TestDevice_BytesPendingAndClear(t *testing.T) {
	master, slave, err := Pair()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	_, err = master.TryWrite([]byte("pending"))
	require.NoError(t, err)

	deadline := time.Now().Add(time.Second)
	for {
		n, err := slave.BytesToRead()
		require.NoError(t, err)
		if n == len("pending") {
			break
		}
		require.True(t, time.Now().Before(deadline), "timeout waiting for pending bytes")
		time.Sleep(time.Millisecond)
	}

	require.NoError(t, slave.Clear(BufferInput))
	n, err := slave.BytesToRead()
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestDevice_Exclusive(t *testing.T) {
	dev := openSlave(t, Config{BaudRate: 115200})

	require.False(t, dev.Exclusive())
	require.NoError(t, dev.SetExclusive(true))
	require.True(t, dev.Exclusive())
	require.NoError(t, dev.SetExclusive(false))
	require.False(t, dev.Exclusive())
}

func TestDevice_Dup(t *testing.T) {
	master, slave, err := Pair()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	dup, err := master.Dup()
	require.NoError(t, err)
	require.NotEqual(t, master.Fd(), dup.Fd())
	t.Cleanup(func() { dup.Close() })

	// The duplicate reaches the same terminal.
	_, err = dup.TryWrite([]byte("x"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	deadline := time.Now().Add(time.Second)
	for {
		n, err := slave.TryRead(buf)
		if errors.Is(err, ErrWouldBlock) {
			require.True(t, time.Now().Before(deadline), "timeout waiting for dup transit")
			time.Sleep(time.Millisecond)
			continue
		}
		require.NoError(t, err)
		require.Equal(t, "x", string(buf[:n]))
		break
	}
}

func TestDevice_CloseIsIdempotent(t *testing.T) {
	dev := openSlave(t, Config{BaudRate: 115200})
	require.NoError(t, dev.Close())
	require.NoError(t, dev.Close())
}
