package session

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/edgemsg/internal/auth"
	"github.com/danmuck/edgemsg/internal/edgedata"
	"github.com/danmuck/edgemsg/internal/event"
	"github.com/danmuck/edgemsg/internal/memory"
	"github.com/danmuck/edgemsg/internal/protocol/frame"
	"github.com/danmuck/edgemsg/internal/testutil/testlog"
)

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
	}
	want := map[int]time.Duration{
		1: 250 * time.Millisecond,
		2: 500 * time.Millisecond,
		3: time.Second,
		6: 5 * time.Second,
	}
	for attempt, d := range want {
		if got := NextBackoffDelay(cfg, attempt, nil); got != d {
			t.Fatalf("attempt%d got=%v want=%v", attempt, got, d)
		}
	}
}

func TestNextBackoffDelayJitterBounds(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{InitialDelay: time.Second, Multiplier: 1.0, Jitter: true}
	if got := NextBackoffDelay(cfg, 2, nil); got != 500*time.Millisecond {
		t.Fatalf("nil rng jitter got=%v", got)
	}
	if got := NextBackoffDelay(BackoffConfig{}, 3, nil); got != 0 {
		t.Fatalf("zero config got=%v", got)
	}
}

// recorder collects events delivered to a connection callback.
type recorder struct {
	mu    sync.Mutex
	kinds []event.Kind
	data  []*edgedata.Data
	caps  []string
	got   chan event.Kind
}

func newRecorder() *recorder {
	return &recorder{got: make(chan event.Kind, 16)}
}

func (r *recorder) callback(ev *event.Event) error {
	kind, err := ev.Kind()
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
	switch kind {
	case event.NewDataReceived:
		d, err := ev.ParseNewData()
		if err != nil {
			return err
		}
		r.data = append(r.data, d)
	case event.Capability:
		caps, err := ev.ParseCapability()
		if err != nil {
			return err
		}
		r.caps = append(r.caps, caps)
	}
	r.got <- kind
	return nil
}

func (r *recorder) wait(t *testing.T, want event.Kind) {
	t.Helper()
	select {
	case k := <-r.got:
		if k != want {
			t.Fatalf("event kind got=%s want=%s", k, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", want)
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.WriteTimeout = time.Second
	return cfg
}

func TestConnDeliversDataAndLifecycle(t *testing.T) {
	testlog.Start(t)
	a, b := net.Pipe()
	server := newRecorder()
	client := newRecorder()

	sc := New(a, testConfig(), frame.DefaultLimits(), server.callback)
	server.wait(t, event.ConnectionCompleted)
	cc := New(b, testConfig(), frame.DefaultLimits(), client.callback)
	client.wait(t, event.ConnectionCompleted)

	done := make(chan error, 1)
	go func() { done <- sc.Serve(context.Background()) }()

	d := edgedata.New()
	defer d.Destroy()
	if err := d.Add(memory.Borrowed([]byte("tensor"))); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := d.SetInfo("caps", "other/tensors"); err != nil {
		t.Fatalf("set info: %v", err)
	}
	id, err := cc.SendData(d)
	if err != nil {
		t.Fatalf("send data: %v", err)
	}
	if id != 1 {
		t.Fatalf("first message id=%d", id)
	}
	server.wait(t, event.NewDataReceived)

	if err := cc.SendCapability("@edge_version@1"); err != nil {
		t.Fatalf("send capability: %v", err)
	}
	server.wait(t, event.Capability)

	if err := cc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	server.wait(t, event.ConnectionClosed)
	if err := <-done; err != nil {
		t.Fatalf("serve returned %v", err)
	}

	server.mu.Lock()
	defer server.mu.Unlock()
	if len(server.data) != 1 {
		t.Fatalf("received %d data objects", len(server.data))
	}
	got := server.data[0]
	defer got.Destroy()
	buf, err := got.Get(0)
	if err != nil || string(buf) != "tensor" {
		t.Fatalf("buffer got=%q err=%v", buf, err)
	}
	if v, err := got.GetInfo("CAPS"); err != nil || v != "other/tensors" {
		t.Fatalf("metadata got=%q err=%v", v, err)
	}
	if len(server.caps) != 1 || server.caps[0] != "@edge_version@1" {
		t.Fatalf("capabilities got=%v", server.caps)
	}
}

func TestServeDropsUnauthorizedFrames(t *testing.T) {
	testlog.Start(t)
	a, b := net.Pipe()
	rec := newRecorder()
	serverCfg := testConfig()
	serverCfg.Validator = auth.StaticToken{Token: "secret"}
	sc := New(a, serverCfg, frame.DefaultLimits(), rec.callback)
	rec.wait(t, event.ConnectionCompleted)
	done := make(chan error, 1)
	go func() { done <- sc.Serve(context.Background()) }()

	intruderCfg := testConfig()
	intruderCfg.AuthToken = "guess"
	intruder := New(b, intruderCfg, frame.DefaultLimits(), nil)
	if err := intruder.SendCapability("dropped"); err != nil {
		t.Fatalf("send capability: %v", err)
	}

	// Swap in the right token on the same stream.
	intruder.cfg.AuthToken = "secret"
	if err := intruder.SendCapability("accepted"); err != nil {
		t.Fatalf("send capability: %v", err)
	}
	rec.wait(t, event.Capability)
	_ = intruder.Close()
	rec.wait(t, event.ConnectionClosed)
	if err := <-done; err != nil {
		t.Fatalf("serve returned %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.caps) != 1 || rec.caps[0] != "accepted" {
		t.Fatalf("capabilities got=%v", rec.caps)
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	testlog.Start(t)
	a, b := net.Pipe()
	defer b.Close()
	c := New(a, testConfig(), frame.DefaultLimits(), nil)
	_ = c.Close()
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	d := edgedata.New()
	defer d.Destroy()
	if _, err := c.SendData(d); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestServeStopsOnContextCancel(t *testing.T) {
	testlog.Start(t)
	a, b := net.Pipe()
	defer b.Close()
	rec := newRecorder()
	c := New(a, testConfig(), frame.DefaultLimits(), rec.callback)
	rec.wait(t, event.ConnectionCompleted)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx) }()
	cancel()

	rec.wait(t, event.ConnectionClosed)
	if err := <-done; err != nil {
		t.Fatalf("serve returned %v", err)
	}
}

func TestServeRejectsGarbage(t *testing.T) {
	testlog.Start(t)
	a, b := net.Pipe()
	rec := newRecorder()
	c := New(a, testConfig(), frame.DefaultLimits(), rec.callback)
	rec.wait(t, event.ConnectionCompleted)

	done := make(chan error, 1)
	go func() { done <- c.Serve(context.Background()) }()
	garbage := make([]byte, frame.FixedHeaderLen)
	go func() {
		_, _ = b.Write(garbage)
		_ = b.Close()
	}()

	rec.wait(t, event.ConnectionClosed)
	if err := <-done; !errors.Is(err, frame.ErrInvalidMagic) {
		t.Fatalf("expected ErrInvalidMagic, got %v", err)
	}
}

func TestDialConnectsAndRetries(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	rec := newRecorder()
	c, err := Dial(context.Background(), ln.Addr().String(), testConfig(), frame.DefaultLimits(), rec.callback)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	rec.wait(t, event.ConnectionCompleted)
	peer := <-accepted
	_ = peer.Close()
}

func TestDialGivesUp(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	cfg := testConfig()
	cfg.DialAttempts = 2
	cfg.Backoff = BackoffConfig{InitialDelay: time.Millisecond}
	if _, err := Dial(context.Background(), addr, cfg, frame.DefaultLimits(), nil); err == nil {
		t.Fatalf("expected dial failure")
	}
}
