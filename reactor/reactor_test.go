package reactor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func testPipe(t *testing.T) (int, int) {
	t.Helper()
	fds := make([]int, 2)
	require.NoError(t, unix.Pipe(fds))
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))
	t.Cleanup(func() { unix.Close(fds[0]); unix.Close(fds[1]) })
	return fds[0], fds[1]
}

func TestReactor_WaitReadWakesOnData(t *testing.T) {
	r, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	rd, wr := testPipe(t)
	reg, err := r.Register(rd)
	require.NoError(t, err)
	t.Cleanup(func() { reg.Deregister() })

	woke := make(chan error, 1)
	go func() { woke <- reg.WaitRead(context.Background()) }()

	// No data yet: the waiter must stay suspended.
	select {
	case err := <-woke:
		t.Fatalf("premature wake: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	_, err = unix.Write(wr, []byte{1})
	require.NoError(t, err)

	select {
	case err := <-woke:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for read readiness")
	}
	// WaitRead consumed the notification.
	require.False(t, reg.ReadReady())
}

func TestReactor_InitialReadinessIsReported(t *testing.T) {
	r, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	rd, wr := testPipe(t)
	// Data present before registration still produces a notification.
	_, err = unix.Write(wr, []byte{1})
	require.NoError(t, err)

	reg, err := r.Register(rd)
	require.NoError(t, err)
	t.Cleanup(func() { reg.Deregister() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, reg.WaitRead(ctx))
}

func TestReactor_DuplicateRegistration(t *testing.T) {
	r, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	rd, _ := testPipe(t)
	reg, err := r.Register(rd)
	require.NoError(t, err)

	_, err = r.Register(rd)
	require.ErrorIs(t, err, ErrAlreadyRegistered)

	// After deregistration the descriptor may be registered again.
	require.NoError(t, reg.Deregister())
	reg2, err := r.Register(rd)
	require.NoError(t, err)
	require.NoError(t, reg2.Deregister())
}

func TestReactor_WaitCancellation(t *testing.T) {
	r, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	rd, wr := testPipe(t)
	reg, err := r.Register(rd)
	require.NoError(t, err)
	t.Cleanup(func() { reg.Deregister() })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, reg.WaitRead(ctx), context.DeadlineExceeded)

	// A notification arriving after abandonment stays queued for the
	// next waiter instead of firing into dead state.
	_, err = unix.Write(wr, []byte{1})
	require.NoError(t, err)

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	require.NoError(t, reg.WaitRead(ctx2))
}

func TestReactor_DeregisterWakesWaiter(t *testing.T) {
	r, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	rd, _ := testPipe(t)
	reg, err := r.Register(rd)
	require.NoError(t, err)

	woke := make(chan error, 1)
	go func() { woke <- reg.WaitRead(context.Background()) }()

	// Let the waiter suspend, then pull its registration out from
	// under it.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, reg.Deregister())

	select {
	case err := <-woke:
		require.ErrorIs(t, err, ErrDeregistered)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for deregistration to wake the waiter")
	}
}

func TestReactor_WakeForcesAttempt(t *testing.T) {
	r, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	rd, _ := testPipe(t)
	reg, err := r.Register(rd)
	require.NoError(t, err)
	t.Cleanup(func() { reg.Deregister() })

	woke := make(chan error, 1)
	go func() { woke <- reg.WaitRead(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	reg.Wake()

	select {
	case err := <-woke:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for Wake to release the waiter")
	}
}

func TestReactor_CloseWakesWaiters(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	rd, _ := testPipe(t)
	reg, err := r.Register(rd)
	require.NoError(t, err)

	woke := make(chan error, 1)
	go func() { woke <- reg.WaitRead(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, r.Close())

	select {
	case err := <-woke:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for close to wake the waiter")
	}

	// Registrations on a closed reactor are rejected.
	_, err = r.Register(rd)
	require.ErrorIs(t, err, ErrClosed)
	require.NoError(t, reg.Deregister())
}

func TestReactor_WaitWriteReadiness(t *testing.T) {
	r, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	_, wr := testPipe(t)
	reg, err := r.Register(wr)
	require.NoError(t, err)
	t.Cleanup(func() { reg.Deregister() })

	// An empty pipe is immediately writable; the initial notification
	// satisfies the first wait.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, reg.WaitWrite(ctx))
}
