package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/edgemsg/internal/config"
	"github.com/danmuck/edgemsg/internal/hostaddr"
	"github.com/danmuck/edgemsg/internal/memory"
	"github.com/danmuck/edgemsg/internal/testutil/testlog"
)

func restoreAllocator(t *testing.T) {
	prev := memory.Default()
	t.Cleanup(func() { memory.SetDefault(prev) })
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	testlog.Start(t)
	restoreAllocator(t)
	dir := t.TempDir()
	in1 := filepath.Join(dir, "a.bin")
	in2 := filepath.Join(dir, "b.bin")
	_ = os.WriteFile(in1, []byte("AB"), 0o600)
	_ = os.WriteFile(in2, []byte("tensor-bytes"), 0o600)
	out := filepath.Join(dir, "frame.bin")

	err := run([]string{"encode", "-out", out, "-meta", "k=v", "-meta", "caps=other/tensors", in1, in2}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var stdout bytes.Buffer
	if err := run([]string{"decode", "-in", out}, &stdout); err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := stdout.String()
	for _, want := range []string{"meta k=v", "meta caps=other/tensors", "buffer[0] 2 bytes", "buffer[1] 12 bytes"} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in output:\n%s", want, got)
		}
	}
}

func TestEncodeValidation(t *testing.T) {
	testlog.Start(t)
	restoreAllocator(t)
	if err := run([]string{"encode", "file"}, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected missing -out error")
	}
	if err := run([]string{"encode", "-out", "x", "-meta", "novalue", "file"}, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected bad -meta error")
	}
}

func TestUnknownCommand(t *testing.T) {
	testlog.Start(t)
	restoreAllocator(t)
	var stdout bytes.Buffer
	if err := run([]string{"bogus"}, &stdout); err == nil {
		t.Fatalf("expected unknown command error")
	}
	if !strings.Contains(stdout.String(), "usage: edgemsg") {
		t.Fatalf("usage not printed")
	}
}

func TestConfigFlagLoadsFile(t *testing.T) {
	testlog.Start(t)
	restoreAllocator(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := config.WriteTemplate(path, false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	var stdout bytes.Buffer
	if err := run([]string{"-config", path}, &stdout); err == nil {
		t.Fatalf("expected missing command error")
	}
	if err := run([]string{"-config", filepath.Join(t.TempDir(), "absent.toml"), "port"}, &stdout); err == nil {
		t.Fatalf("expected load error for missing config")
	}
}

func TestPortPrintsHostString(t *testing.T) {
	testlog.Start(t)
	restoreAllocator(t)
	var stdout bytes.Buffer
	if err := run([]string{"port", "-host", "example.local"}, &stdout); err != nil {
		t.Fatalf("port: %v", err)
	}
	host, port, err := hostaddr.ParseHostString(strings.TrimSpace(stdout.String()))
	if err != nil || host != "example.local" || port <= 0 {
		t.Fatalf("unexpected output %q: host=%q port=%d err=%v", stdout.String(), host, port, err)
	}
}

func TestSendToListener(t *testing.T) {
	testlog.Start(t)
	restoreAllocator(t)
	port := hostaddr.AvailablePort()
	if port == 0 {
		t.Fatalf("no free port")
	}
	in := filepath.Join(t.TempDir(), "payload.bin")
	_ = os.WriteFile(in, []byte("hello"), 0o600)

	var listened bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- run([]string{"listen", "-port", strconv.Itoa(port)}, &listened)
	}()

	addr, _ := hostaddr.HostString("127.0.0.1", port)
	err := run([]string{"send", "-addr", addr, "-caps", "@edge_version@1", "-meta", "k=v", in}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("listen: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("listener did not finish")
	}
	got := listened.String()
	for _, want := range []string{"capability: @edge_version@1", "meta k=v", "buffer[0] 5 bytes", "event: connection_closed"} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in output:\n%s", want, got)
		}
	}
}

func TestSendRejectsBadAddress(t *testing.T) {
	testlog.Start(t)
	restoreAllocator(t)
	if err := run([]string{"send", "-addr", "nohost", "file"}, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected address error")
	}
}
