package acquisition

import (
	"context"
	"errors"
	"io"
	"reflect"
	"testing"
	"time"
)

const testPort = "/dev/ttyUSB0"

func newTestSession(t *testing.T, opener *fakeOpener, options ...Option) *Session {
	t.Helper()
	session := NewSession(context.Background(), testLogger(), opener.Open, options...)
	t.Cleanup(session.Close)
	return session
}

// pollUntil polls like a UI loop would until the history holds n samples.
func pollUntil(t *testing.T, session *Session, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for len(session.History()) < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out with %d of %d samples", len(session.History()), n)
		}
		session.Poll()
		time.Sleep(time.Millisecond)
	}
}

func TestSession_Measurement(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// origin, then one instant per frame
	clock := newSteppingClock(base, 0, 0, time.Second, 2*time.Second)

	opener := newFakeOpener()
	opener.add(testPort, newFakePort(
		chunk(frame(testFrameSize, 114)),
		chunk(frame(testFrameSize, 114)),
		chunk(frame(testFrameSize, 114)),
	))
	session := newTestSession(t, opener, WithClock(clock))

	if err := session.Start(testPort, testFrameSize, tenthsDecoder); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	if session.State() != Measuring {
		t.Fatalf("expected Measuring, got %v", session.State())
	}

	pollUntil(t, session, 3)
	session.Stop()

	expected := []Sample{{0, 11.4}, {1, 11.4}, {2, 11.4}}
	if history := session.History(); !reflect.DeepEqual(history, expected) {
		t.Errorf("expected history %v, got %v", expected, history)
	}
	if session.State() != Stopped {
		t.Errorf("expected Stopped, got %v", session.State())
	}
	if elapsed := session.Elapsed(); elapsed != 2*time.Second {
		t.Errorf("expected elapsed 2s, got %v", elapsed)
	}

	snapshot := session.Snapshot()
	if snapshot.Latest == nil || *snapshot.Latest != expected[2] {
		t.Errorf("expected latest sample %v, got %v", expected[2], snapshot.Latest)
	}
	if snapshot.Port != testPort {
		t.Errorf("expected port %s, got %s", testPort, snapshot.Port)
	}
}

func TestSession_Start(t *testing.T) {
	t.Run("fails while measuring without opening a second port", func(t *testing.T) {
		opener := newFakeOpener()
		opener.add(testPort, newFakePort())
		opener.add(testPort, newFakePort())
		session := newTestSession(t, opener)

		if err := session.Start(testPort, testFrameSize, tenthsDecoder); err != nil {
			t.Fatalf("unexpected start error: %v", err)
		}
		err := session.Start(testPort, testFrameSize, tenthsDecoder)
		if !errors.Is(err, ErrAlreadyMeasuring) {
			t.Errorf("expected ErrAlreadyMeasuring, got %v", err)
		}

		opened, open, _ := opener.counts()
		if opened != 1 || open != 1 {
			t.Errorf("expected exactly one open port, got opened=%d open=%d", opened, open)
		}
		if session.State() != Measuring {
			t.Errorf("expected Measuring, got %v", session.State())
		}
	})

	t.Run("open failure leaves the session idle", func(t *testing.T) {
		opener := newFakeOpener()
		busy := errors.New("device or resource busy")
		opener.fail(testPort, busy)
		session := newTestSession(t, opener)

		err := session.Start(testPort, testFrameSize, tenthsDecoder)
		var openErr *OpenError
		if !errors.As(err, &openErr) {
			t.Fatalf("expected *OpenError, got %v", err)
		}
		if openErr.Port != testPort || !errors.Is(err, busy) {
			t.Errorf("unexpected open error %v", err)
		}
		if session.State() != Idle {
			t.Errorf("expected Idle, got %v", session.State())
		}
		if len(session.History()) != 0 {
			t.Errorf("expected empty history, got %v", session.History())
		}
		if samples := session.Poll(); len(samples) != 0 {
			t.Errorf("expected no samples, got %v", samples)
		}
	})

	t.Run("open failure after a run keeps the previous history", func(t *testing.T) {
		opener := newFakeOpener()
		opener.add(testPort, newFakePort(chunk(frame(testFrameSize, 10))))
		session := newTestSession(t, opener)

		if err := session.Start(testPort, testFrameSize, tenthsDecoder); err != nil {
			t.Fatalf("unexpected start error: %v", err)
		}
		pollUntil(t, session, 1)
		session.Stop()

		if err := session.Start("/dev/missing", testFrameSize, tenthsDecoder); err == nil {
			t.Fatal("expected start on missing port to fail")
		}
		if session.State() != Stopped {
			t.Errorf("expected Stopped, got %v", session.State())
		}
		if len(session.History()) != 1 {
			t.Errorf("expected previous history to be kept, got %v", session.History())
		}
	})

	t.Run("rejects invalid arguments", func(t *testing.T) {
		session := newTestSession(t, newFakeOpener())
		if err := session.Start(testPort, 0, tenthsDecoder); err == nil {
			t.Error("expected error for zero frame size")
		}
		if err := session.Start(testPort, testFrameSize, nil); err == nil {
			t.Error("expected error for missing decoder")
		}
		if session.State() != Idle {
			t.Errorf("expected Idle, got %v", session.State())
		}
	})

	t.Run("restart releases the previous port first and resets history", func(t *testing.T) {
		opener := newFakeOpener()
		first := opener.add(testPort, newFakePort(chunk(frame(testFrameSize, 1)), chunk(frame(testFrameSize, 2))))
		opener.add(testPort, newFakePort(chunk(frame(testFrameSize, 9))))
		session := newTestSession(t, opener)

		if err := session.Start(testPort, testFrameSize, tenthsDecoder); err != nil {
			t.Fatalf("unexpected start error: %v", err)
		}
		pollUntil(t, session, 2)
		session.Stop()

		if err := session.Start(testPort, testFrameSize, tenthsDecoder); err != nil {
			t.Fatalf("unexpected restart error: %v", err)
		}
		if !first.isClosed() {
			t.Error("first port still open after restart")
		}
		if _, _, maxOpen := opener.counts(); maxOpen != 1 {
			t.Errorf("expected at most one open port, got %d", maxOpen)
		}

		pollUntil(t, session, 1)
		history := session.History()
		if len(history) != 1 || history[0].Value != 0.9 {
			t.Errorf("expected fresh history [0.9], got %v", history)
		}
	})
}

func TestSession_Stop(t *testing.T) {
	t.Run("is idempotent", func(t *testing.T) {
		opener := newFakeOpener()
		port := opener.add(testPort, newFakePort())
		session := newTestSession(t, opener)

		if err := session.Start(testPort, testFrameSize, tenthsDecoder); err != nil {
			t.Fatalf("unexpected start error: %v", err)
		}
		session.Stop()
		session.Stop()
		if session.State() != Stopped {
			t.Errorf("expected Stopped, got %v", session.State())
		}
		port.waitClosed(t)

		// after the worker is gone
		session.Stop()
		session.Poll()
		if session.State() != Stopped {
			t.Errorf("expected Stopped, got %v", session.State())
		}
	})

	t.Run("is a no-op when idle", func(t *testing.T) {
		session := newTestSession(t, newFakeOpener())
		session.Stop()
		if session.State() != Idle {
			t.Errorf("expected Idle, got %v", session.State())
		}
	})

	t.Run("samples in flight are still delivered", func(t *testing.T) {
		opener := newFakeOpener()
		port := opener.add(testPort, newFakePort(chunk(frame(testFrameSize, 1)), chunk(frame(testFrameSize, 2))))
		session := newTestSession(t, opener)

		if err := session.Start(testPort, testFrameSize, tenthsDecoder); err != nil {
			t.Fatalf("unexpected start error: %v", err)
		}
		// give the worker time to queue both frames without polling
		deadline := time.Now().Add(time.Second)
		for port.readCount() < 3 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		session.Stop()

		samples := session.Poll()
		if len(samples) != 2 {
			t.Errorf("expected 2 samples drained after stop, got %v", samples)
		}
		if session.State() != Stopped {
			t.Errorf("expected Stopped, got %v", session.State())
		}
	})
}

func TestSession_Poll(t *testing.T) {
	t.Run("never blocks", func(t *testing.T) {
		opener := newFakeOpener()
		opener.add(testPort, newFakePort())
		session := newTestSession(t, opener)

		check := func(label string) {
			done := make(chan []Sample, 1)
			go func() { done <- session.Poll() }()
			select {
			case samples := <-done:
				if len(samples) != 0 {
					t.Errorf("%s: expected no samples, got %v", label, samples)
				}
				if samples == nil {
					t.Errorf("%s: expected an empty, non-nil slice", label)
				}
			case <-time.After(100 * time.Millisecond):
				t.Fatalf("%s: poll blocked", label)
			}
		}

		check("idle")
		if err := session.Start(testPort, testFrameSize, tenthsDecoder); err != nil {
			t.Fatalf("unexpected start error: %v", err)
		}
		check("measuring on a silent port")
		session.Close()
		check("after the worker exited")
	})
}

func TestSession_ReadFailure(t *testing.T) {
	opener := newFakeOpener()
	opener.add(testPort, newFakePort(chunk(frame(testFrameSize, 3)), failure(io.ErrUnexpectedEOF)))
	opener.add(testPort, newFakePort(chunk(frame(testFrameSize, 4))))
	session := newTestSession(t, opener)

	if err := session.Start(testPort, testFrameSize, tenthsDecoder); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for session.State() == Measuring {
		if time.Now().After(deadline) {
			t.Fatal("session never left Measuring after the port failed")
		}
		session.Poll()
		time.Sleep(time.Millisecond)
	}

	if session.State() != Faulted {
		t.Fatalf("expected Faulted, got %v", session.State())
	}
	var readFailure *ReadFailure
	if !errors.As(session.Fault(), &readFailure) {
		t.Errorf("expected *ReadFailure fault, got %v", session.Fault())
	}
	if history := session.History(); len(history) != 1 || history[0].Value != 0.3 {
		t.Errorf("expected the sample read before the failure, got %v", history)
	}

	// stop only applies to a running measurement
	session.Stop()
	if session.State() != Faulted {
		t.Errorf("expected Faulted after stop, got %v", session.State())
	}

	if err := session.Start(testPort, testFrameSize, tenthsDecoder); err != nil {
		t.Fatalf("unexpected restart error: %v", err)
	}
	if session.Fault() != nil {
		t.Errorf("expected fault to be cleared, got %v", session.Fault())
	}
	pollUntil(t, session, 1)
}

func TestSession_FaultTime(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// origin, the failure in the worker, then every later poll
	clock := newSteppingClock(base, 0, 3*time.Second, 10*time.Second)

	opener := newFakeOpener()
	opener.add(testPort, newFakePort(failure(io.ErrUnexpectedEOF)))
	session := newTestSession(t, opener, WithClock(clock))

	if err := session.Start(testPort, testFrameSize, tenthsDecoder); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for session.State() == Measuring {
		if time.Now().After(deadline) {
			t.Fatal("session never left Measuring after the port failed")
		}
		session.Poll()
		time.Sleep(time.Millisecond)
	}

	if session.State() != Faulted {
		t.Fatalf("expected Faulted, got %v", session.State())
	}
	if elapsed := session.Elapsed(); elapsed != 3*time.Second {
		t.Errorf("expected elapsed up to the failure (3s), got %v", elapsed)
	}
}

func TestSession_ParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opener := newFakeOpener()
	port := opener.add(testPort, newFakePort())
	session := NewSession(ctx, testLogger(), opener.Open)
	t.Cleanup(session.Close)

	if err := session.Start(testPort, testFrameSize, tenthsDecoder); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	cancel()

	deadline := time.Now().Add(time.Second)
	for session.State() == Measuring {
		if time.Now().After(deadline) {
			t.Fatal("session stayed Measuring after its context was cancelled")
		}
		session.Poll()
		time.Sleep(time.Millisecond)
	}

	if session.State() != Stopped {
		t.Errorf("expected Stopped, got %v", session.State())
	}
	if session.Fault() != nil {
		t.Errorf("expected no fault, got %v", session.Fault())
	}
	port.waitClosed(t)
}
