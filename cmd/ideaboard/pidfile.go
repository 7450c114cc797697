package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// pidFile records the server's process id next to its database.
type pidFile string

func pidFileFor(dataDir string) pidFile {
	return pidFile(filepath.Join(dataDir, "ideaboard.pid"))
}

func (p pidFile) write() error {
	if err := os.MkdirAll(filepath.Dir(string(p)), 0o755); err != nil {
		return err
	}
	return os.WriteFile(string(p), []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func (p pidFile) read() (int, error) {
	data, err := os.ReadFile(string(p))
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("malformed PID file %s", p)
	}
	return pid, nil
}

func (p pidFile) remove() {
	os.Remove(string(p))
}

// gone polls until the server removes the file on exit or timeout passes.
func (p pidFile) gone(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(string(p)); errors.Is(err, os.ErrNotExist) {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}

// terminate sends SIGTERM to the recorded process.
func (p pidFile) terminate() (int, error) {
	pid, err := p.read()
	if err != nil {
		return 0, err
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return pid, err
	}
	return pid, proc.Signal(syscall.SIGTERM)
}

// pingHealth returns the /health status code of a server on port, or an
// error when nothing answers.
func pingHealth(port int) (int, error) {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
