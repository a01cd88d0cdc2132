package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// orchestratorLease is a single-flight guard so two `autocoder start`
// invocations against the same project never spawn workers concurrently,
// and so `autocoder stop` has a PID to signal.
type orchestratorLease struct {
	path string
	file *os.File
}

type leaseMetadata struct {
	PID        int    `json:"pid"`
	Host       string `json:"host"`
	AcquiredAt string `json:"acquired_at"`
}

func leasePath(projectDir string) string {
	return filepath.Join(projectDir, ".autocoder", "orchestrator.lease")
}

// acquireLease takes an exclusive, non-blocking flock on the lease file and
// stamps it with this process's PID, so a concurrent `start` fails fast
// instead of racing the same backlog.
func acquireLease(projectDir string) (*orchestratorLease, error) {
	path := leasePath(projectDir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("lease: create dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lease: open: %w", err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN) {
			return nil, fmt.Errorf("lease: an orchestrator is already running against %s", projectDir)
		}
		return nil, fmt.Errorf("lease: flock: %w", err)
	}

	host, _ := os.Hostname()
	meta := leaseMetadata{PID: os.Getpid(), Host: host, AcquiredAt: time.Now().UTC().Format(time.RFC3339)}
	data, _ := json.MarshalIndent(meta, "", "  ")
	if err := file.Truncate(0); err != nil {
		file.Close()
		return nil, err
	}
	if _, err := file.WriteAt(data, 0); err != nil {
		file.Close()
		return nil, err
	}
	return &orchestratorLease{path: path, file: file}, nil
}

// release drops the flock and removes the lease file.
func (l *orchestratorLease) release() {
	syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	l.file.Close()
	os.Remove(l.path)
}

// readLeasePID reads back the PID stamped by acquireLease, for `stop`.
func readLeasePID(projectDir string) (int, error) {
	data, err := os.ReadFile(leasePath(projectDir))
	if err != nil {
		return 0, fmt.Errorf("lease: no running orchestrator found for %s: %w", projectDir, err)
	}
	var meta leaseMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return 0, fmt.Errorf("lease: corrupt lease file: %w", err)
	}
	return meta.PID, nil
}
