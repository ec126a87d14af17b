package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// PIDFile manages the daemon PID file
type PIDFile struct {
	path string
}

// NewPIDFile creates a new PIDFile instance
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Write writes the current PID to the file, refusing when another
// instance is already running
func (p *PIDFile) Write() error {
	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create PID directory: %w", err)
	}

	if err := p.checkExisting(); err != nil {
		return err
	}

	pid := os.Getpid()
	content := fmt.Sprintf("%d\n", pid)

	if err := os.WriteFile(p.path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	return nil
}

// Remove deletes the PID file
func (p *PIDFile) Remove() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// Read reads the PID from the file
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %w", err)
	}

	return pid, nil
}

// checkExisting verifies whether a process recorded in an existing PID
// file is still alive; stale files are removed
func (p *PIDFile) checkExisting() error {
	if _, err := os.Stat(p.path); os.IsNotExist(err) {
		return nil
	}

	pid, err := p.Read()
	if err != nil {
		// File exists but is invalid, safe to replace
		return nil
	}

	if isProcessRunning(pid) {
		return fmt.Errorf("daemon already running with PID %d", pid)
	}

	if err := p.Remove(); err != nil {
		return fmt.Errorf("failed to remove stale PID file: %w", err)
	}

	return nil
}

// isProcessRunning checks whether a process with the given PID exists
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix FindProcess always succeeds; signal 0 probes existence
	err = process.Signal(syscall.Signal(0))
	return err == nil
}

// GetPath returns the PID file path
func (p *PIDFile) GetPath() string {
	return p.path
}
