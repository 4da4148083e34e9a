// Package supervisor manages the lifecycle of the external inference
// server: spawn, health gate, durable tracking across invocations, stop.
// The invariant it owns is at most one active service system-wide.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/oxlabs/llamactl/core/model"
	"github.com/oxlabs/llamactl/core/store"
	"github.com/oxlabs/llamactl/lib/logger"
)

var log, _ = logger.New("supervisor")

var (
	ErrEmptyHash     = errors.New("model hash is required")
	ErrNotRunning    = errors.New("no running service")
	ErrLaunch        = errors.New("failed to launch inference server")
	ErrHealthTimeout = errors.New("service never became healthy")
)

// Artifacts produces a local store entry for a model hash, fetching and
// assembling it first when absent. Implemented by pipeline.Pipeline.
type Artifacts interface {
	Ensure(ctx context.Context, hash string) (*store.Entry, error)
}

type Supervisor struct {
	cfg       Config
	state     *StateStore
	artifacts Artifacts
	client    *http.Client
}

func New(cfg *Config, state *StateStore, artifacts Artifacts) *Supervisor {
	return &Supervisor{
		cfg:       *cfg,
		state:     state,
		artifacts: artifacts,
		client:    &http.Client{Timeout: cfg.HealthProbeTimeout},
	}
}

// Start brings up the inference server for hash on host:port. Starting the
// same hash while it is already healthy is an idempotent success; starting
// a different hash stops the current service first. Success is gated on
// the health endpoint: no record is persisted for a process that never
// reported healthy.
func (s *Supervisor) Start(ctx context.Context, hash string, port int, host string, contextLength int) error {
	if hash == "" {
		return ErrEmptyHash
	}

	entry, err := s.artifacts.Ensure(ctx, hash)
	if err != nil {
		return err
	}

	unlock, err := s.state.Lock(ctx)
	if err != nil {
		return err
	}

	defer unlock()

	rec, err := s.state.Load()
	if err != nil {
		return err
	}

	if rec != nil {
		if rec.Hash == hash && processAlive(rec.PID) && s.probe(ctx, host, rec.Port) {
			log.Infow("service already running", "hash", hash, "port", rec.Port, "pid", rec.PID)
			return nil
		}

		// At most one active service system-wide.
		if err := s.stopLocked(rec); err != nil {
			return err
		}
	}

	handle, err := s.spawn(ctx, entry, hash, port, host, contextLength)
	if err != nil {
		return err
	}

	rec = &model.ServiceRecord{
		Hash:      handle.ModelID,
		Port:      handle.Port,
		PID:       handle.PID,
		StartedAt: handle.StartedAt,
	}
	if err := s.state.Save(rec); err != nil {
		killGroup(handle.PID)
		return err
	}

	log.Infow("service started", "hash", hash, "port", port, "pid", handle.PID)
	return nil
}

// Stop terminates the recorded service. With no record it fails and has no
// side effects; otherwise the record is removed once termination is
// confirmed, graceful or forced.
func (s *Supervisor) Stop(ctx context.Context) error {
	unlock, err := s.state.Lock(ctx)
	if err != nil {
		return err
	}

	defer unlock()

	rec, err := s.state.Load()
	if err != nil {
		return err
	}

	if rec == nil {
		return ErrNotRunning
	}

	return s.stopLocked(rec)
}

func (s *Supervisor) stopLocked(rec *model.ServiceRecord) error {
	log.Infow("stopping service", "hash", rec.Hash, "pid", rec.PID)

	if err := terminate(rec.PID, s.cfg.StopTimeout); err != nil {
		return err
	}

	return s.state.Clear()
}

// Status reports the active service, actively re-verifying liveness. A
// record whose process is dead or whose health endpoint does not answer ok
// is stale: it is deleted and nil is returned. This is the system's crash
// detection; there is no push-based notification.
func (s *Supervisor) Status(ctx context.Context) (*model.ServiceHandle, error) {
	unlock, err := s.state.Lock(ctx)
	if err != nil {
		return nil, err
	}

	defer unlock()

	rec, err := s.state.Load()
	if err != nil {
		return nil, err
	}

	if rec == nil {
		return nil, nil
	}

	if !processAlive(rec.PID) || !s.probe(ctx, "", rec.Port) {
		log.Warnw("stale service record, clearing", "hash", rec.Hash, "pid", rec.PID)
		if err := s.state.Clear(); err != nil {
			return nil, err
		}

		return nil, nil
	}

	handle := rec.Handle()
	return &handle, nil
}

// spawn launches the server detached in its own session, so it outlives
// this short-lived management invocation, then blocks until the first ok
// health response or failure.
func (s *Supervisor) spawn(ctx context.Context, entry *store.Entry, hash string, port int, host string, contextLength int) (*model.ServiceHandle, error) {
	logPath := s.cfg.ServerLog
	if logPath == "" {
		logPath = filepath.Join(s.cfg.StateDir, "llama-server.log")
	}

	serverLog, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLaunch, err)
	}

	defer serverLog.Close()

	cmd := exec.Command(s.cfg.ServerBin,
		"--model", entry.ModelPath(),
		"--port", strconv.Itoa(port),
		"--host", host,
		"-c", strconv.Itoa(contextLength),
	)
	cmd.Stdout = serverLog
	cmd.Stderr = serverLog
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLaunch, err)
	}

	pid := cmd.Process.Pid
	startedAt := time.Now().UTC()
	log.Infow("server spawned, waiting for health", "bin", s.cfg.ServerBin, "pid", pid, "port", port)

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
	}()

	if err := s.awaitHealthy(ctx, host, port, pid, exited); err != nil {
		return nil, err
	}

	return &model.ServiceHandle{
		ModelID:   hash,
		Port:      port,
		PID:       pid,
		StartedAt: startedAt,
	}, nil
}

// awaitHealthy polls the health endpoint at a fixed interval under an
// overall bound. A process that exits before its first ok response fails
// immediately; there is no point polling a dead process.
func (s *Supervisor) awaitHealthy(ctx context.Context, host string, port, pid int, exited <-chan error) error {
	ticker := time.NewTicker(s.cfg.HealthInterval)
	defer ticker.Stop()

	deadline := time.NewTimer(s.cfg.HealthTimeout)
	defer deadline.Stop()

	for {
		select {
		case err := <-exited:
			return fmt.Errorf("%w: server exited before becoming healthy: %v", ErrLaunch, err)

		case <-deadline.C:
			killGroup(pid)
			return ErrHealthTimeout

		case <-ctx.Done():
			killGroup(pid)
			return ctx.Err()

		case <-ticker.C:
			if s.probe(ctx, host, port) {
				return nil
			}
		}
	}
}
