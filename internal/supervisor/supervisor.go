package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/voxkit/voxd/internal/config"
)

// State tracks the managed server lifecycle.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// Event describes a lifecycle transition published to interested
// collaborators (pre-warming, UI status).
type Event struct {
	Type string
	PID  int
	Port int
}

const (
	EventStarted = "server.started"
	EventStopped = "server.stopped"
)

// Supervisor owns the local recognition server process: at most one process
// is owned by this application instance, and leaked processes from earlier
// crashes never exhaust the port range. Ownership is enforced through the
// lease file and liveness probes rather than in-process locks, so it holds
// across full application restarts.
type Supervisor struct {
	cfg     config.ServerConfig
	logger  *slog.Logger
	client  *http.Client
	isAlive func(pid int) bool

	// OnEvent, when set, receives lifecycle transitions. Set before Start.
	OnEvent func(Event)

	// startMu serializes start attempts so a concurrent caller waits for the
	// in-flight attempt to resolve instead of observing Starting and
	// proceeding with no server up.
	startMu sync.Mutex

	mu    sync.Mutex
	state State
	cmd   *exec.Cmd
	port  int
	done  chan struct{}
}

func New(cfg config.ServerConfig, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "supervisor")),
		client:  &http.Client{Timeout: 2 * time.Second},
		isAlive: isProcessAlive,
		state:   StateStopped,
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// BaseURL returns the running server's endpoint, or empty when not Running.
func (s *Supervisor) BaseURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return ""
	}
	return fmt.Sprintf("http://%s", net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.port)))
}

// Start brings up the recognition server: stale-lease recovery, port
// selection, spawn, bounded health check, lease write. A failed attempt
// transitions back to Stopped and returns a StartError; it is never
// auto-retried. Start only returns once the attempt has resolved, so a
// caller seeing nil can rely on the server being up.
func (s *Supervisor) Start(ctx context.Context) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.Lock()
	if s.state == StateRunning {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStarting
	s.mu.Unlock()

	err := s.start(ctx)
	if err != nil {
		s.mu.Lock()
		s.state = StateStopped
		s.mu.Unlock()
	}
	return err
}

func (s *Supervisor) start(ctx context.Context) error {
	ownedPort, err := s.recoverStale()
	if err != nil {
		return err
	}

	if err := s.checkPreconditions(); err != nil {
		return err
	}

	port, err := pickPort(s.cfg.Host, s.cfg.PortRangeStart, s.cfg.PortRangeEnd, ownedPort)
	if err != nil {
		return err
	}

	cmd, err := s.spawn(port)
	if err != nil {
		return &StartError{Reason: ReasonSpawnFailed, Err: err}
	}

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
		s.mu.Lock()
		crashed := s.state == StateRunning && s.cmd == cmd
		if crashed {
			s.state = StateStopped
			s.cmd = nil
		}
		s.mu.Unlock()
		if crashed {
			s.logger.Error("recognition server exited unexpectedly", slog.Int("pid", cmd.Process.Pid))
			if err := removeLease(s.cfg.LeasePath); err != nil {
				s.logger.Warn("failed to remove lease after crash", slogError(err))
			}
			s.emit(Event{Type: EventStopped, PID: cmd.Process.Pid, Port: port})
		}
	}()

	if err := s.awaitHealthy(ctx, port, done); err != nil {
		_ = cmd.Process.Kill()
		<-done
		return err
	}

	lease := Lease{PID: cmd.Process.Pid, Port: port, StartedAt: time.Now().UTC()}
	if err := writeLease(s.cfg.LeasePath, lease); err != nil {
		_ = cmd.Process.Kill()
		<-done
		return &StartError{Reason: ReasonSpawnFailed, Err: err}
	}

	s.mu.Lock()
	s.cmd = cmd
	s.port = port
	s.done = done
	s.state = StateRunning
	s.mu.Unlock()

	s.logger.Info("recognition server running",
		slog.Int("pid", lease.PID),
		slog.Int("port", lease.Port),
		slog.String("model", s.cfg.ModelPath))
	s.emit(Event{Type: EventStarted, PID: lease.PID, Port: lease.Port})
	return nil
}

// recoverStale runs at the top of every start. A lease whose pid is still
// alive belongs to a previous instance that may legitimately own its port, so
// everything stays untouched and the recorded port is excluded from the scan.
// A lease whose pid is dead is an orphan: only the file is deleted, never the
// port — the OS released that when the process died.
func (s *Supervisor) recoverStale() (ownedPort int, err error) {
	lease, err := readLease(s.cfg.LeasePath)
	if err != nil {
		s.logger.Warn("unreadable lease file, removing", slogError(err))
		return 0, removeLease(s.cfg.LeasePath)
	}
	if lease == nil {
		return 0, nil
	}
	if s.isAlive(lease.PID) {
		s.logger.Info("lease held by live process, leaving untouched",
			slog.Int("pid", lease.PID),
			slog.Int("port", lease.Port))
		return lease.Port, nil
	}
	s.logger.Info("removing orphaned lease",
		slog.Int("pid", lease.PID),
		slog.Int("port", lease.Port))
	return 0, removeLease(s.cfg.LeasePath)
}

func (s *Supervisor) checkPreconditions() error {
	binary := s.cfg.BinaryPath
	if strings.ContainsRune(binary, os.PathSeparator) {
		if _, err := os.Stat(binary); err != nil {
			return &StartError{Reason: ReasonBinaryMissing, Err: err}
		}
	} else if _, err := exec.LookPath(binary); err != nil {
		return &StartError{Reason: ReasonBinaryMissing, Err: err}
	}
	if s.cfg.ModelPath == "" {
		return &StartError{Reason: ReasonModelMissing, Err: fmt.Errorf("no model path configured")}
	}
	if _, err := os.Stat(s.cfg.ModelPath); err != nil {
		return &StartError{Reason: ReasonModelMissing, Err: err}
	}
	return nil
}

func (s *Supervisor) spawn(port int) (*exec.Cmd, error) {
	args := []string{
		"-m", s.cfg.ModelPath,
		"--host", s.cfg.Host,
		"--port", strconv.Itoa(port),
	}
	if s.cfg.ExtraArgs != "" {
		extra, err := shellwords.NewParser().Parse(s.cfg.ExtraArgs)
		if err != nil {
			return nil, fmt.Errorf("parse extra args: %w", err)
		}
		args = append(args, extra...)
	}
	cmd := exec.Command(s.cfg.BinaryPath, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn %s: %w", s.cfg.BinaryPath, err)
	}
	s.logger.Info("spawned recognition server",
		slog.Int("pid", cmd.Process.Pid),
		slog.Int("port", port))
	return cmd, nil
}

func (s *Supervisor) awaitHealthy(ctx context.Context, port int, done <-chan struct{}) error {
	window := time.Duration(s.cfg.HealthTimeoutMS) * time.Millisecond
	interval := time.Duration(s.cfg.HealthIntervalMS) * time.Millisecond
	deadline := time.Now().Add(window)
	url := fmt.Sprintf("http://%s/health", net.JoinHostPort(s.cfg.Host, strconv.Itoa(port)))

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return &StartError{Reason: ReasonHealthTimeout, Err: ctx.Err()}
		case <-done:
			return &StartError{Reason: ReasonSpawnFailed, Err: fmt.Errorf("server exited during startup")}
		case <-time.After(interval):
		}
		resp, err := s.client.Get(url)
		if err != nil {
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return nil
		}
	}
	return &StartError{
		Reason: ReasonHealthTimeout,
		Err:    fmt.Errorf("server not healthy after %s", window),
	}
}

// Stop terminates the owned server: graceful signal, bounded grace period,
// forced kill, lease removal. Idempotent; stopping a stopped supervisor is a
// no-op.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateRunning || s.cmd == nil {
		s.state = StateStopped
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopping
	cmd := s.cmd
	done := s.done
	port := s.port
	s.cmd = nil
	s.mu.Unlock()

	pid := cmd.Process.Pid
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		s.logger.Warn("graceful signal failed", slogError(err))
	}

	grace := time.Duration(s.cfg.StopGraceMS) * time.Millisecond
	select {
	case <-done:
	case <-time.After(grace):
		s.logger.Warn("grace period elapsed, forcing termination", slog.Int("pid", pid))
		_ = cmd.Process.Kill()
		<-done
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
	}

	if err := removeLease(s.cfg.LeasePath); err != nil {
		s.logger.Warn("failed to remove lease on stop", slogError(err))
	}

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()

	s.logger.Info("recognition server stopped", slog.Int("pid", pid))
	s.emit(Event{Type: EventStopped, PID: pid, Port: port})
	return nil
}

func (s *Supervisor) emit(evt Event) {
	if s.OnEvent != nil {
		s.OnEvent(evt)
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
