package discovery

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"
)

func newTestDiscovery(t *testing.T, basePort int) *Discovery {
	t.Helper()
	return New(t.TempDir(), "/tmp/project", "project", basePort, 10,
		500*time.Millisecond, "test", nil)
}

func writeLock(t *testing.T, d *Discovery, lock ServerLock) {
	t.Helper()
	b, err := json.Marshal(lock)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(d.cacheRoot, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(d.LockPath(), b, 0o644); err != nil {
		t.Fatal(err)
	}
}

func healthServer(t *testing.T) (*httptest.Server, int) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == HealthPath {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)
	_, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}
	return srv, port
}

func TestDiscoverNoLockProposesFreePort(t *testing.T) {
	d := newTestDiscovery(t, 43170)
	ctx := context.Background()

	first, err := d.Discover(ctx)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if first.Existing {
		t.Fatalf("no lock but existing=true: %+v", first)
	}
	if first.Port < 43170 || first.Port >= 43180 {
		t.Fatalf("port %d outside scan range", first.Port)
	}

	second, err := d.Discover(ctx)
	if err != nil {
		t.Fatalf("second discover: %v", err)
	}
	if second.Existing {
		t.Fatalf("second call existing=true: %+v", second)
	}
}

func TestDiscoverTrustsLiveLock(t *testing.T) {
	_, port := healthServer(t)
	d := newTestDiscovery(t, 43190)
	writeLock(t, d, ServerLock{PID: os.Getpid(), Port: port, ProjectName: "project"})

	result, err := d.Discover(context.Background())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if !result.Existing {
		t.Fatalf("live lock not trusted: %+v", result)
	}
	if result.Port != port {
		t.Errorf("port = %d, want %d", result.Port, port)
	}
	if result.Lock == nil || result.Lock.PID != os.Getpid() {
		t.Errorf("lock detail missing: %+v", result.Lock)
	}
}

func TestDiscoverRemovesLockWithDeadPID(t *testing.T) {
	_, port := healthServer(t)
	d := newTestDiscovery(t, 43210)
	// Healthy port but a PID that cannot exist: both checks must pass.
	writeLock(t, d, ServerLock{PID: 1 << 30, Port: port})

	result, err := d.Discover(context.Background())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if result.Existing {
		t.Fatalf("dead pid lock trusted: %+v", result)
	}
	if _, err := os.Stat(d.LockPath()); !os.IsNotExist(err) {
		t.Error("stale lock file not removed")
	}
}

func TestDiscoverRemovesLockWithUnhealthyServer(t *testing.T) {
	d := newTestDiscovery(t, 43230)
	// Live PID (ours) but nothing serving on the port.
	freePort, err := d.findFreePort()
	if err != nil {
		t.Fatal(err)
	}
	writeLock(t, d, ServerLock{PID: os.Getpid(), Port: freePort})

	result, err := d.Discover(context.Background())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if result.Existing {
		t.Fatalf("unhealthy lock trusted: %+v", result)
	}
	if _, err := os.Stat(d.LockPath()); !os.IsNotExist(err) {
		t.Error("stale lock file not removed")
	}
}

func TestDiscoverSkipsBusyPort(t *testing.T) {
	base := 43250
	listener, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(base))
	if err != nil {
		t.Skipf("cannot occupy base port: %v", err)
	}
	defer listener.Close()

	d := newTestDiscovery(t, base)
	result, err := d.Discover(context.Background())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if result.Port == base {
		t.Errorf("proposed the occupied port %d", base)
	}
}

func TestWriteAndRemoveLock(t *testing.T) {
	d := newTestDiscovery(t, 43270)
	if err := d.WriteLock(43271); err != nil {
		t.Fatalf("write lock: %v", err)
	}
	lock, ok := d.readLock()
	if !ok {
		t.Fatal("lock file missing after write")
	}
	if lock.PID != os.Getpid() || lock.Port != 43271 || lock.StartedAt.IsZero() {
		t.Fatalf("lock = %+v", lock)
	}

	if err := d.RemoveLock(); err != nil {
		t.Fatalf("remove lock: %v", err)
	}
	if _, err := os.Stat(d.LockPath()); !os.IsNotExist(err) {
		t.Error("lock file survived removal")
	}
	// Removing again is fine.
	if err := d.RemoveLock(); err != nil {
		t.Fatalf("second remove: %v", err)
	}
}

func TestRemoveLockLeavesForeignLock(t *testing.T) {
	d := newTestDiscovery(t, 43290)
	writeLock(t, d, ServerLock{PID: os.Getpid() + 1, Port: 1})

	if err := d.RemoveLock(); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := os.Stat(d.LockPath()); err != nil {
		t.Error("foreign lock was deleted")
	}
}
