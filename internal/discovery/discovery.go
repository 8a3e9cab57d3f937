package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
)

// HealthPath is probed on the recorded port to decide whether a lock holder
// is actually serving.
const HealthPath = "/health"

// ServerLock is the advisory per-project lock file. It is written whole and
// read whole, never patched.
type ServerLock struct {
	PID            int       `json:"pid"`
	Port           int       `json:"port"`
	ProjectRoot    string    `json:"project_root"`
	ProjectName    string    `json:"project_name"`
	StartedAt      time.Time `json:"started_at"`
	ProcessVersion string    `json:"process_version"`
}

// Result of one discovery pass. Existing means a live server already owns
// the project; Port is either its port or the free port the caller should
// bind.
type Result struct {
	Existing bool        `json:"existing"`
	Port     int         `json:"port"`
	Lock     *ServerLock `json:"lock,omitempty"`
}

// Discovery implements the advisory protocol: trust a lock only when both
// the recorded PID is alive and its port answers the health probe. The
// narrow race between two discoverers is settled at bind time, not here.
type Discovery struct {
	cacheRoot     string
	projectRoot   string
	projectName   string
	defaultPort   int
	attempts      int
	healthTimeout time.Duration
	version       string
	logger        *log.Logger
	client        *http.Client
}

func New(cacheRoot string, projectRoot string, projectName string,
	defaultPort int, attempts int, healthTimeout time.Duration,
	version string, logger *log.Logger) *Discovery {
	if logger == nil {
		logger = log.Default()
	}
	if healthTimeout <= 0 {
		healthTimeout = 2 * time.Second
	}
	return &Discovery{
		cacheRoot:     cacheRoot,
		projectRoot:   projectRoot,
		projectName:   projectName,
		defaultPort:   defaultPort,
		attempts:      attempts,
		healthTimeout: healthTimeout,
		version:       version,
		logger:        logger,
		client:        &http.Client{Timeout: healthTimeout},
	}
}

// LockPath is deterministic from the project name so every process of the
// same project converges on the same file.
func (d *Discovery) LockPath() string {
	return filepath.Join(d.cacheRoot, d.projectName+".lock.json")
}

// Discover reads and verifies the lock file, cleaning it up when stale, and
// otherwise proposes a free port for the caller to bind.
func (d *Discovery) Discover(ctx context.Context) (Result, error) {
	unlock, err := d.guard()
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	if lock, ok := d.readLock(); ok {
		if d.pidAlive(lock.PID) && d.healthy(ctx, lock.Port) {
			return Result{Existing: true, Port: lock.Port, Lock: &lock}, nil
		}
		d.logger.Printf("discovery: removing stale lock for %s (pid %d, port %d)",
			d.projectName, lock.PID, lock.Port)
		_ = os.Remove(d.LockPath())
	}

	port, err := d.findFreePort()
	if err != nil {
		return Result{}, err
	}
	return Result{Existing: false, Port: port}, nil
}

// WriteLock records this process as the project's server. Full overwrite.
func (d *Discovery) WriteLock(port int) error {
	unlock, err := d.guard()
	if err != nil {
		return err
	}
	defer unlock()

	lock := ServerLock{
		PID:            os.Getpid(),
		Port:           port,
		ProjectRoot:    d.projectRoot,
		ProjectName:    d.projectName,
		StartedAt:      time.Now().UTC(),
		ProcessVersion: d.version,
	}
	b, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(d.cacheRoot, 0o755); err != nil {
		return fmt.Errorf("create lock cache dir: %w", err)
	}
	if err := os.WriteFile(d.LockPath(), b, 0o644); err != nil {
		return fmt.Errorf("write lock file: %w", err)
	}
	return nil
}

// RemoveLock deletes the lock file, but only when this process owns it.
func (d *Discovery) RemoveLock() error {
	unlock, err := d.guard()
	if err != nil {
		return err
	}
	defer unlock()

	lock, ok := d.readLock()
	if !ok {
		return nil
	}
	if lock.PID != os.Getpid() {
		d.logger.Printf("discovery: lock for %s owned by pid %d, leaving it", d.projectName, lock.PID)
		return nil
	}
	if err := os.Remove(d.LockPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

// guard takes an OS file lock beside the lock file so concurrent local
// processes don't interleave read-verify-delete sequences.
func (d *Discovery) guard() (func(), error) {
	if err := os.MkdirAll(d.cacheRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create lock cache dir: %w", err)
	}
	fl := flock.New(d.LockPath() + ".flock")
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("acquire discovery flock: %w", err)
	}
	return func() { _ = fl.Unlock() }, nil
}

func (d *Discovery) readLock() (ServerLock, bool) {
	b, err := os.ReadFile(d.LockPath())
	if err != nil {
		return ServerLock{}, false
	}
	var lock ServerLock
	if err := json.Unmarshal(b, &lock); err != nil {
		d.logger.Printf("discovery: unparseable lock file, treating as stale: %v", err)
		return ServerLock{}, true
	}
	return lock, true
}

func (d *Discovery) pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// healthy treats any failure, timeouts included, as a stale lock.
func (d *Discovery) healthy(ctx context.Context, port int) bool {
	url := fmt.Sprintf("http://127.0.0.1:%d%s", port, HealthPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// findFreePort scans forward from the default port, binding and releasing a
// probe listener, and fails loudly when the range is exhausted.
func (d *Discovery) findFreePort() (int, error) {
	for i := 0; i < d.attempts; i++ {
		port := d.defaultPort + i
		listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			continue
		}
		_ = listener.Close()
		return port, nil
	}
	return 0, fmt.Errorf("no free port in range %d-%d",
		d.defaultPort, d.defaultPort+d.attempts-1)
}
