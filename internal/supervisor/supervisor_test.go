package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/voxkit/voxd/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig(t *testing.T) config.ServerConfig {
	t.Helper()
	dir := t.TempDir()
	model := filepath.Join(dir, "ggml-base.bin")
	if err := os.WriteFile(model, []byte("model"), 0o644); err != nil {
		t.Fatalf("write model file: %v", err)
	}
	return config.ServerConfig{
		BinaryPath:       "/bin/sleep",
		ModelPath:        model,
		Host:             "127.0.0.1",
		PortRangeStart:   18178,
		PortRangeEnd:     18180,
		LeasePath:        filepath.Join(dir, "server.lease"),
		HealthTimeoutMS:  300,
		HealthIntervalMS: 50,
		StopGraceMS:      200,
	}
}

func writeTestLease(t *testing.T, path string, lease Lease) {
	t.Helper()
	data, err := json.Marshal(lease)
	if err != nil {
		t.Fatalf("marshal lease: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write lease: %v", err)
	}
}

func TestRecoverStaleDeadPID(t *testing.T) {
	cfg := testConfig(t)
	s := New(cfg, newLogger())
	s.isAlive = func(pid int) bool { return false }

	writeTestLease(t, cfg.LeasePath, Lease{PID: 4242, Port: 18178, StartedAt: time.Now()})

	ownedPort, err := s.recoverStale()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ownedPort != 0 {
		t.Fatalf("dead lease must not reserve a port, got %d", ownedPort)
	}
	if _, err := os.Stat(cfg.LeasePath); !os.IsNotExist(err) {
		t.Fatal("expected orphaned lease file to be deleted")
	}
}

func TestRecoverStaleLivePID(t *testing.T) {
	cfg := testConfig(t)
	s := New(cfg, newLogger())
	s.isAlive = func(pid int) bool { return true }

	writeTestLease(t, cfg.LeasePath, Lease{PID: os.Getpid(), Port: 18179, StartedAt: time.Now()})

	ownedPort, err := s.recoverStale()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ownedPort != 18179 {
		t.Fatalf("live lease port must be excluded from the scan, got %d", ownedPort)
	}
	if _, err := os.Stat(cfg.LeasePath); err != nil {
		t.Fatal("live lease file must stay untouched")
	}
}

func TestRecoverStaleNoLease(t *testing.T) {
	cfg := testConfig(t)
	s := New(cfg, newLogger())

	ownedPort, err := s.recoverStale()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ownedPort != 0 {
		t.Fatalf("expected no owned port, got %d", ownedPort)
	}
}

func TestPickPortSkipsOwned(t *testing.T) {
	// Occupy the first port of a two-port range; record the second as owned
	// by a live process. The scan must fail without touching either.
	l, err := net.Listen("tcp", "127.0.0.1:18178")
	if err != nil {
		t.Skipf("cannot bind test port: %v", err)
	}
	defer l.Close()

	_, err = pickPort("127.0.0.1", 18178, 18179, 18179)
	var startErr *StartError
	if !errors.As(err, &startErr) || startErr.Reason != ReasonPortExhausted {
		t.Fatalf("expected port exhaustion, got %v", err)
	}
}

func TestPickPortFindsFree(t *testing.T) {
	port, err := pickPort("127.0.0.1", 18185, 18190, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if port < 18185 || port > 18190 {
		t.Fatalf("port %d outside range", port)
	}
}

func TestStartPortExhaustion(t *testing.T) {
	cfg := testConfig(t)
	cfg.PortRangeStart = 18181
	cfg.PortRangeEnd = 18181

	l, err := net.Listen("tcp", "127.0.0.1:18181")
	if err != nil {
		t.Skipf("cannot bind test port: %v", err)
	}
	defer l.Close()

	s := New(cfg, newLogger())
	err = s.Start(context.Background())
	var startErr *StartError
	if !errors.As(err, &startErr) || startErr.Reason != ReasonPortExhausted {
		t.Fatalf("expected port exhaustion, got %v", err)
	}
	if s.State() != StateStopped {
		t.Fatalf("failed start must return to Stopped, got %s", s.State())
	}
}

func TestStartBinaryMissing(t *testing.T) {
	cfg := testConfig(t)
	cfg.BinaryPath = filepath.Join(t.TempDir(), "no-such-binary")

	s := New(cfg, newLogger())
	err := s.Start(context.Background())
	var startErr *StartError
	if !errors.As(err, &startErr) || startErr.Reason != ReasonBinaryMissing {
		t.Fatalf("expected binary missing, got %v", err)
	}
}

func TestStartModelMissing(t *testing.T) {
	cfg := testConfig(t)
	cfg.ModelPath = filepath.Join(t.TempDir(), "no-such-model.bin")

	s := New(cfg, newLogger())
	err := s.Start(context.Background())
	var startErr *StartError
	if !errors.As(err, &startErr) || startErr.Reason != ReasonModelMissing {
		t.Fatalf("expected model missing, got %v", err)
	}
}

func TestStartHealthTimeout(t *testing.T) {
	// /bin/sleep ignores the server flags and never opens the port, so the
	// bounded health window has to expire and the spawn must be reaped.
	cfg := testConfig(t)
	cfg.BinaryPath = "/bin/sleep"
	cfg.ExtraArgs = "30"

	s := New(cfg, newLogger())
	err := s.Start(context.Background())
	var startErr *StartError
	if !errors.As(err, &startErr) {
		t.Fatalf("expected StartError, got %v", err)
	}
	if startErr.Reason != ReasonHealthTimeout && startErr.Reason != ReasonSpawnFailed {
		t.Fatalf("expected health timeout or early exit, got %s", startErr.Reason)
	}
	if s.State() != StateStopped {
		t.Fatalf("failed start must return to Stopped, got %s", s.State())
	}
	if _, err := os.Stat(cfg.LeasePath); !os.IsNotExist(err) {
		t.Fatal("no lease must be written for a failed start")
	}
}

func TestStartWaitsForInflightAttempt(t *testing.T) {
	// The spawned process can never become healthy, so every attempt fails.
	// A second caller overlapping the first must block until that attempt
	// resolves and must not report success with no server running.
	cfg := testConfig(t)
	cfg.ExtraArgs = "30"

	s := New(cfg, newLogger())

	first := make(chan error, 1)
	go func() { first <- s.Start(context.Background()) }()

	time.Sleep(50 * time.Millisecond)

	if err := s.Start(context.Background()); err == nil {
		t.Fatal("concurrent start reported success with no running server")
	}
	if err := <-first; err == nil {
		t.Fatal("expected first start attempt to fail")
	}
	if s.State() != StateStopped {
		t.Fatalf("expected Stopped after failed attempts, got %s", s.State())
	}
}

func TestStopIdempotent(t *testing.T) {
	cfg := testConfig(t)
	s := New(cfg, newLogger())

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if s.State() != StateStopped {
		t.Fatalf("expected Stopped, got %s", s.State())
	}
}

func TestBaseURLOnlyWhenRunning(t *testing.T) {
	cfg := testConfig(t)
	s := New(cfg, newLogger())
	if url := s.BaseURL(); url != "" {
		t.Fatalf("stopped supervisor must report no endpoint, got %q", url)
	}
}

func TestLeaseRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.lease")
	in := Lease{PID: 123, Port: 8178, StartedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	if err := writeLease(path, in); err != nil {
		t.Fatalf("write lease: %v", err)
	}
	out, err := readLease(path)
	if err != nil {
		t.Fatalf("read lease: %v", err)
	}
	if out == nil || out.PID != in.PID || out.Port != in.Port || !out.StartedAt.Equal(in.StartedAt) {
		t.Fatalf("lease round trip mismatch: %+v", out)
	}
	if err := removeLease(path); err != nil {
		t.Fatalf("remove lease: %v", err)
	}
	// Removing an absent lease is fine.
	if err := removeLease(path); err != nil {
		t.Fatalf("second remove: %v", err)
	}
}

func TestIsProcessAlive(t *testing.T) {
	if !isProcessAlive(os.Getpid()) {
		t.Fatal("own pid must be alive")
	}
	if isProcessAlive(0) || isProcessAlive(-1) {
		t.Fatal("non-positive pids must read as dead")
	}
}

func TestCorruptLeaseIsRecovered(t *testing.T) {
	cfg := testConfig(t)
	if err := os.WriteFile(cfg.LeasePath, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt lease: %v", err)
	}
	s := New(cfg, newLogger())
	if _, err := s.recoverStale(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(cfg.LeasePath); !os.IsNotExist(err) {
		t.Fatal("corrupt lease must be removed")
	}
}
