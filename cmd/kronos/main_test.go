package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/soywod/kronos.server/internal/infrastructure/config"
	"github.com/soywod/kronos.server/internal/infrastructure/database"
	"github.com/soywod/kronos.server/internal/session"
)

// writeConfig writes a config file and points KRONOS_CONFIG at it.
func writeConfig(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("KRONOS_CONFIG", path)
	for _, key := range []string{"PORT", "KRONOS_SERVER_PORT", "KRONOS_SERVER_HOST", "KRONOS_DATABASE_PATH"} {
		t.Setenv(key, "")
	}
}

// freePort returns a TCP port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestRun_InvalidConfig(t *testing.T) {
	writeConfig(t, "server: [not a map")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with unparsable config")
	}
}

func TestRun_ValidationFailure(t *testing.T) {
	writeConfig(t, `
database:
  path: ""
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with empty database path")
	}
}

func TestRollback_RevertsLatestMigration(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "kronos.db")
	writeConfig(t, fmt.Sprintf(`
database:
  path: %q
logging:
  level: error
  output: stderr
`, dbPath))

	ctx := context.Background()
	dbCfg := config.DatabaseConfig{Path: dbPath, BusyTimeout: 5}

	db, err := database.Open(ctx, dbCfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	db.Close() //nolint:errcheck // Reopened below

	if err := rollback(ctx); err != nil {
		t.Fatalf("rollback() error = %v", err)
	}

	db, err = database.Open(ctx, dbCfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 0 || len(pending) != 1 {
		t.Errorf("applied = %d, pending = %d, want 0 and 1", len(applied), len(pending))
	}
}

func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("KRONOS_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("KRONOS_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

// TestRun_ServesAndShutsDown starts the whole server on a temporary
// database, logs a line client in, then cancels the context.
func TestRun_ServesAndShutsDown(t *testing.T) {
	port := freePort(t)
	dbPath := filepath.Join(t.TempDir(), "kronos.db")
	writeConfig(t, fmt.Sprintf(`
server:
  host: "127.0.0.1"
  port: %d
database:
  path: %q
  wal_mode: true
  busy_timeout: 5
api:
  enabled: false
logging:
  level: error
  format: text
  output: stderr
`, port, dbPath))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	var conn net.Conn
	deadline := time.Now().Add(5 * time.Second)
	for {
		var err error
		conn, err = net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never accepted: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(`{"type":"login"}` + "\n")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck // Test deadline
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		t.Fatalf("ReadBytes() error = %v", err)
	}
	var resp map[string]any
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatalf("response %q is not JSON: %v", line, err)
	}
	if resp["success"] != true || resp["type"] != "login" {
		t.Fatalf("login response = %v", resp)
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after cancel")
	}

	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

type recordingGauge struct {
	mu     sync.Mutex
	counts [][3]int
}

func (g *recordingGauge) WriteSessionGauge(total, authenticated, websocket int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counts = append(g.counts, [3]int{total, authenticated, websocket})
}

func (g *recordingGauge) len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.counts)
}

func TestReportSessions(t *testing.T) {
	reg := session.NewRegistry()
	id := reg.Create()
	if err := reg.BindDevice(id, "dev", "user"); err != nil {
		t.Fatalf("BindDevice() error = %v", err)
	}
	reg.Create()

	gauge := &recordingGauge{}
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		reportSessions(ctx, reg, gauge, 5*time.Millisecond)
		close(stopped)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for gauge.len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-stopped

	gauge.mu.Lock()
	defer gauge.mu.Unlock()
	if len(gauge.counts) == 0 {
		t.Fatal("no gauge written")
	}
	if got := gauge.counts[0]; got != [3]int{2, 1, 0} {
		t.Errorf("gauge = %v, want [2 1 0]", got)
	}
}
