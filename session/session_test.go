package session

import (
	"testing"
	"time"

	"rdcast/bitrate"
	"rdcast/playback"
	"rdcast/reassembly"
)

type fakeAudioSink struct{}

func (fakeAudioSink) Push([]byte) error                      { return nil }
func (fakeAudioSink) Reconfigure(playback.AudioFormat) error { return nil }

type fakeVideoSink struct{}

func (fakeVideoSink) Render(reassembly.Frame, bool) error { return nil }

type fakeKeyframer struct{ requests int }

func (f *fakeKeyframer) RequestKeyframe(bool) error { f.requests++; return nil }

func testKey() []byte { return make([]byte, 16) }

func newTestPeer(t *testing.T, o *Orchestrator) *Peer {
	t.Helper()
	p, err := o.Create(NewPeerConfig{
		Key:           testKey(),
		Sinks:         RenderSinks{Audio: fakeAudioSink{}, Video: fakeVideoSink{}, Keyframer: &fakeKeyframer{}},
		InitialBPS:    5_000_000,
		BitrateConfig: bitrate.DefaultConfig(),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return p
}

func TestCreateRegistersPeerAndRollsConnectionID(t *testing.T) {
	o := New()
	if o.ConnectionID() != 0 {
		t.Fatalf("ConnectionID = %d before any peer, want 0", o.ConnectionID())
	}

	p := newTestPeer(t, o)
	if o.Get(p.ID) != p {
		t.Fatal("Get did not return the created peer")
	}
	if o.ActiveCount() != 1 {
		t.Fatalf("ActiveCount = %d, want 1", o.ActiveCount())
	}
	if o.ConnectionID() == 0 {
		t.Fatal("expected a connection id to be rolled once a peer exists")
	}
	if p.VideoBuf.LastRenderedID() != -1 {
		t.Fatal("expected a fresh video ring buffer")
	}
}

func TestAcquireReleaseGatesDeactivation(t *testing.T) {
	o := New()
	p := newTestPeer(t, o)

	if err := p.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	p.beginDeactivating()
	if p.readyToClose() {
		t.Fatal("should not be ready to close while a reference is held")
	}
	p.Release()
	if !p.readyToClose() {
		t.Fatal("should be ready to close once the last reference is released")
	}
}

func TestAcquireFailsOnceDeactivating(t *testing.T) {
	o := New()
	p := newTestPeer(t, o)
	p.beginDeactivating()

	if err := p.Acquire(); err != ErrClosed {
		t.Fatalf("Acquire = %v, want ErrClosed", err)
	}
}

func TestTickDeactivatesAfterLivenessWindow(t *testing.T) {
	o := New()
	p := newTestPeer(t, o)

	now := time.Now()
	p.Touch(now)

	o.Tick(now.Add(LivenessWindow/2), LivenessWindow)
	if p.State() != StateActive {
		t.Fatalf("State = %v, want still active within the window", p.State())
	}

	o.Tick(now.Add(LivenessWindow+time.Second), LivenessWindow)
	if p.State() == StateActive {
		t.Fatal("expected the peer to leave active state once its liveness window elapsed")
	}
}

func TestTickClosesDeactivatingPeerWithNoHolders(t *testing.T) {
	o := New()
	p := newTestPeer(t, o)

	now := time.Now()
	p.Touch(now.Add(-2 * LivenessWindow))
	o.Tick(now, LivenessWindow)

	deadline := time.Now().Add(time.Second)
	for o.Get(p.ID) != nil && time.Now().Before(deadline) {
		o.Tick(time.Now(), LivenessWindow)
	}
	if o.Get(p.ID) != nil {
		t.Fatal("expected the peer to be closed and removed")
	}
	if o.ActiveCount() != 0 {
		t.Fatalf("ActiveCount = %d, want 0 after close", o.ActiveCount())
	}
}

func TestConnectionIDRerollsWhenCountReturnsToZero(t *testing.T) {
	o := New()
	p := newTestPeer(t, o)
	first := o.ConnectionID()

	if err := o.Close(p.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if o.ActiveCount() != 0 {
		t.Fatalf("ActiveCount = %d, want 0", o.ActiveCount())
	}

	newTestPeer(t, o)
	// The new id is a fresh random 32-bit value, so it matches the old one
	// with probability 2^-32.
	if o.ConnectionID() == first {
		t.Fatalf("ConnectionID = %d, want it rerolled after the count returned to zero", o.ConnectionID())
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	o := New()
	p := newTestPeer(t, o)

	if err := o.Close(p.ID); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := o.Close(p.ID); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := o.Close(9999); err != nil {
		t.Fatalf("Close of unknown id: %v", err)
	}
}
