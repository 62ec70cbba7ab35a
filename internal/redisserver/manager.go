// Package redisserver probes the configured Redis endpoint and, when
// allowed, provisions a local redis-server process for gateways that
// ship without one.
package redisserver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
)

// Defaults for Config fields left at their zero value.
const (
	DefaultBinary      = "redis-server"
	DefaultPingTimeout = 2 * time.Second
	DefaultStartupWait = 2 * time.Second
	DefaultStopWait    = 5 * time.Second
)

// Config describes the Redis endpoint and local provisioning policy.
type Config struct {
	Host string
	Port int
	DB   int

	// ManageLocal allows Start to launch a redis-server process when
	// the endpoint does not answer.
	ManageLocal bool
	Binary      string
	PingTimeout time.Duration
	StartupWait time.Duration
	StopWait    time.Duration
}

func (c Config) normalized() Config {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port <= 0 {
		c.Port = 6379
	}
	if c.Binary == "" {
		c.Binary = DefaultBinary
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = DefaultPingTimeout
	}
	if c.StartupWait <= 0 {
		c.StartupWait = DefaultStartupWait
	}
	if c.StopWait <= 0 {
		c.StopWait = DefaultStopWait
	}
	return c
}

// Manager owns at most one locally launched redis-server process.
type Manager struct {
	cfg    Config
	client *redis.Client

	mu         sync.Mutex
	cmd        *exec.Cmd
	configPath string
	owned      bool
}

// New creates a Manager for the endpoint described by cfg.
func New(cfg Config) *Manager {
	cfg = cfg.normalized()
	client := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		DB:          cfg.DB,
		DialTimeout: cfg.PingTimeout,
	})
	return &Manager{cfg: cfg, client: client}
}

// Addr returns the host:port the manager probes.
func (m *Manager) Addr() string {
	return fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
}

// Ping checks server liveness within the configured timeout.
func (m *Manager) Ping(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, m.cfg.PingTimeout)
	defer cancel()
	if err := m.client.Ping(pctx).Err(); err != nil {
		return fmt.Errorf("ping %s: %w", m.Addr(), err)
	}
	return nil
}

// Start ensures a reachable server. If the endpoint answers, nothing is
// launched and the server is not considered owned. Otherwise, when
// local management is enabled, Start writes a minimal config, launches
// redis-server and verifies it comes up.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.Ping(ctx); err == nil {
		slog.Info("[RedisServer] Server already running", "addr", m.Addr())
		return nil
	} else if !m.cfg.ManageLocal {
		return fmt.Errorf("redis unreachable and local management disabled: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owned {
		return nil
	}

	path, err := m.writeConfig()
	if err != nil {
		return err
	}
	cmd := exec.Command(m.cfg.Binary, path)
	if err := cmd.Start(); err != nil {
		os.Remove(path)
		return fmt.Errorf("launch %s: %w", m.cfg.Binary, err)
	}
	slog.Info("[RedisServer] Launched local server",
		"pid", cmd.Process.Pid, "port", m.cfg.Port, "config", path)

	// Give the server a moment to bind before probing.
	select {
	case <-ctx.Done():
	case <-time.After(m.cfg.StartupWait):
	}
	if err := m.Ping(ctx); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		os.Remove(path)
		return fmt.Errorf("server did not come up: %w", err)
	}

	m.cmd = cmd
	m.configPath = path
	m.owned = true
	return nil
}

// Stop terminates a locally launched server: SIGTERM first, SIGKILL
// after the stop wait. Servers the manager did not launch are left
// alone.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.owned || m.cmd == nil {
		return nil
	}

	pid := m.cmd.Process.Pid
	if err := m.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		slog.Warn("[RedisServer] SIGTERM failed", "pid", pid, "error", err)
	}
	done := make(chan error, 1)
	go func() { done <- m.cmd.Wait() }()
	select {
	case <-done:
		slog.Info("[RedisServer] Server stopped", "pid", pid)
	case <-time.After(m.cfg.StopWait):
		slog.Warn("[RedisServer] Server did not stop in time, killing", "pid", pid)
		_ = m.cmd.Process.Kill()
		<-done
	}

	if m.configPath != "" {
		os.Remove(m.configPath)
	}
	m.cmd = nil
	m.configPath = ""
	m.owned = false
	return nil
}

// Close releases the probe client. It does not stop the server.
func (m *Manager) Close() error {
	return m.client.Close()
}

// Owned reports whether the manager launched the current server.
func (m *Manager) Owned() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owned
}

func (m *Manager) writeConfig() (string, error) {
	f, err := os.CreateTemp("", "edgelink-redis-*.conf")
	if err != nil {
		return "", fmt.Errorf("create redis config: %w", err)
	}
	if _, err := f.WriteString(renderConfig(m.cfg)); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write redis config: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close redis config: %w", err)
	}
	return f.Name(), nil
}

// renderConfig produces the minimal server config: the port, a bind
// line only for non-local hosts, enough databases to reach the
// configured DB index, and protected mode on.
func renderConfig(cfg Config) string {
	var b strings.Builder
	fmt.Fprintf(&b, "port %d\n", cfg.Port)
	if cfg.Host != "localhost" && cfg.Host != "127.0.0.1" {
		fmt.Fprintf(&b, "bind %s\n", cfg.Host)
	}
	fmt.Fprintf(&b, "databases %d\n", max(16, cfg.DB+1))
	b.WriteString("protected-mode yes\n")
	return b.String()
}
