package hooks

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultWorkerPort mirrors the worker's default listen port.
const DefaultWorkerPort = 37777

// startupWait bounds how long a hook blocks waiting for a freshly spawned
// worker to answer health checks.
const startupWait = 5 * time.Second

// Version is the hook build version, stamped at link time. A running worker
// reporting a different version is restarted so hooks and worker never
// disagree about the API.
var Version = "dev"

// GetWorkerPort resolves the worker port from the environment, falling back
// to the default. Settings-file resolution lives in the worker; hooks only
// honor the env override so they stay dependency-light.
func GetWorkerPort() int {
	if v := os.Getenv("RECALL_WORKER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			return port
		}
	}
	return DefaultWorkerPort
}

// IsWorkerRunning reports whether a healthy worker answers on the port.
func IsWorkerRunning(port int) bool {
	result, err := GET(port, "/api/health")
	if err != nil {
		return false
	}
	status, _ := result["status"].(string)
	return status == "ready" || status == "starting"
}

// IsPortInUse reports whether anything is listening on the port.
func IsPortInUse(port int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 250*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// GetWorkerVersion returns the running worker's version, or "" when the
// worker is unreachable or the response is malformed.
func GetWorkerVersion(port int) string {
	result, err := GET(port, "/api/version")
	if err != nil {
		return ""
	}
	version, _ := result["version"].(string)
	return version
}

// KillProcessOnPort terminates whatever listens on the port. Missing
// processes are not an error; the goal is a free port, not a kill.
func KillProcessOnPort(port int) error {
	out, err := exec.Command("lsof", "-ti", fmt.Sprintf(":%d", port)).Output()
	if err != nil || len(out) == 0 {
		return nil
	}

	for _, pid := range strings.Fields(string(out)) {
		_ = exec.Command("kill", pid).Run()
	}

	// Give the old process a moment to release the socket.
	time.Sleep(200 * time.Millisecond)
	return nil
}

// findWorkerBinary locates the recall-worker executable: next to the hook
// binary first, then PATH, then the data directory install location.
func findWorkerBinary() string {
	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), "recall-worker")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}

	if path, err := exec.LookPath("recall-worker"); err == nil {
		return path
	}

	if home, err := os.UserHomeDir(); err == nil {
		candidate := filepath.Join(home, ".recall", "bin", "recall-worker")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}

	return ""
}

// EnsureWorkerRunning returns the port of a healthy worker, starting or
// restarting one as needed.
func EnsureWorkerRunning() (int, error) {
	port := GetWorkerPort()

	if IsWorkerRunning(port) {
		running := GetWorkerVersion(port)
		if running == "" || running == Version {
			return port, nil
		}
		// Version drift: replace the old worker.
		if err := KillProcessOnPort(port); err != nil {
			return 0, fmt.Errorf("stop stale worker: %w", err)
		}
	} else if IsPortInUse(port) {
		return 0, fmt.Errorf("port %d is in use by something that is not a recall worker", port)
	}

	binary := findWorkerBinary()
	if binary == "" {
		return 0, fmt.Errorf("recall-worker binary not found")
	}

	if err := spawnWorker(binary); err != nil {
		return 0, fmt.Errorf("start worker: %w", err)
	}

	deadline := time.Now().Add(startupWait)
	for time.Now().Before(deadline) {
		if IsWorkerRunning(port) {
			return port, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return 0, fmt.Errorf("worker did not become healthy within %s", startupWait)
}

// spawnWorker starts the worker detached, with its output captured in the
// data directory.
func spawnWorker(binary string) error {
	cmd := exec.Command(binary)
	cmd.Env = os.Environ()

	if home, err := os.UserHomeDir(); err == nil {
		logPath := filepath.Join(home, ".recall", "worker.log")
		if f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600); err == nil {
			cmd.Stdout = f
			cmd.Stderr = f
		}
	}

	if err := cmd.Start(); err != nil {
		return err
	}
	// The worker outlives the hook; reap it from a goroutine that dies with
	// this short-lived process.
	go func() { _ = cmd.Wait() }()
	return nil
}
