package overlay

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// ProxyState is a state of the embedded proxy lifecycle.
type ProxyState int

const (
	// ProxyOff is the initial state; the proxy has never been started.
	ProxyOff ProxyState = iota
	// ProxyStarting means the proxy process is launching or relaunching.
	ProxyStarting
	// ProxySocksUp means the loopback SOCKS port accepts connections but
	// circuits are not yet built.
	ProxySocksUp
	// ProxyBootstrapped means bootstrap reached 100%; the network gate
	// is open.
	ProxyBootstrapped
	// ProxyDormant means the proxy was put to sleep to save power.
	ProxyDormant
	// ProxyFailed means startup or bootstrap timed out.
	ProxyFailed
)

// String returns the state name for logging.
func (s ProxyState) String() string {
	switch s {
	case ProxyOff:
		return "off"
	case ProxyStarting:
		return "starting"
	case ProxySocksUp:
		return "socks_up"
	case ProxyBootstrapped:
		return "bootstrapped"
	case ProxyDormant:
		return "dormant"
	case ProxyFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Probe and poll timing per the transport contract.
const (
	socksProbeTimeout   = 1 * time.Second
	socksProbeInterval  = 250 * time.Millisecond
	socksProbeDeadline  = 60 * time.Second
	bootstrapInterval   = 1 * time.Second
	bootstrapDeadline   = 75 * time.Second
	shutdownSocksWait   = 5 * time.Second
	controlCookieFile   = "control_auth_cookie"
	proxyConfigFileName = "proxyrc"
)

// ProxyConfig configures the embedded proxy endpoints.
type ProxyConfig struct {
	SocksHost   string
	SocksPort   uint16
	ControlPort uint16
	DataDir     string
	// DevClearnet disables the fail-closed gate for development builds
	// that talk to relays directly. Never set in release builds.
	DevClearnet bool
}

// DefaultProxyConfig returns the standard loopback endpoints.
func DefaultProxyConfig(dataDir string) ProxyConfig {
	return ProxyConfig{
		SocksHost:   "127.0.0.1",
		SocksPort:   39050,
		ControlPort: 39051,
		DataDir:     dataDir,
	}
}

// Launcher starts and stops the embedded proxy process. The process
// itself is an external collaborator; tests substitute a fake.
type Launcher interface {
	Launch(ctx context.Context, dataDir string) error
	Halt() error
}

// StateCallback observes proxy state transitions.
type StateCallback func(old, new ProxyState)

// ProxyManager drives the proxy lifecycle state machine and owns the
// fail-closed network gate. Readers observe readiness via
// NetworkPermitted; only the manager mutates the state.
type ProxyManager struct {
	mu       sync.Mutex
	cfg      ProxyConfig
	state    ProxyState
	launcher Launcher
	onState  StateCallback
}

// NewProxyManager creates a manager in the Off state. launcher may be nil
// when the proxy process is managed externally.
func NewProxyManager(cfg ProxyConfig, launcher Launcher) *ProxyManager {
	if cfg.SocksHost == "" {
		cfg.SocksHost = "127.0.0.1"
	}
	return &ProxyManager{
		cfg:      cfg,
		state:    ProxyOff,
		launcher: launcher,
	}
}

// OnStateChange registers a transition observer. Must be called before
// StartIfNeeded.
func (m *ProxyManager) OnStateChange(cb StateCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onState = cb
}

// State returns the current lifecycle state.
func (m *ProxyManager) State() ProxyState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// NetworkPermitted reports whether overlay traffic may leave the device.
// This is the fail-closed invariant: false until bootstrap completes,
// unless the dev-clearnet build flag is set.
func (m *ProxyManager) NetworkPermitted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == ProxyBootstrapped || m.cfg.DevClearnet
}

// Dialer returns a SOCKS5 dialer through the proxy. It fails with
// ErrProxyNotReady while the gate is shut.
func (m *ProxyManager) Dialer() (proxy.Dialer, error) {
	if !m.NetworkPermitted() {
		return nil, ErrProxyNotReady
	}
	if m.cfg.DevClearnet && m.State() != ProxyBootstrapped {
		return proxy.Direct, nil
	}
	addr := net.JoinHostPort(m.cfg.SocksHost, fmt.Sprintf("%d", m.cfg.SocksPort))
	dialer, err := proxy.SOCKS5("tcp", addr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}
	return dialer, nil
}

// SocksAddr returns the loopback SOCKS endpoint.
func (m *ProxyManager) SocksAddr() string {
	return net.JoinHostPort(m.cfg.SocksHost, fmt.Sprintf("%d", m.cfg.SocksPort))
}

func (m *ProxyManager) transition(to ProxyState) {
	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		return
	}
	m.state = to
	cb := m.onState
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "transition",
		"from":     from.String(),
		"to":       to.String(),
	}).Info("Proxy state changed")

	if cb != nil {
		cb(from, to)
	}
}

// StartIfNeeded launches the proxy if it is Off, Failed or Dormant and
// drives it to Bootstrapped. It is synchronous: callers run it on a
// worker. Returns nil once the gate is open.
func (m *ProxyManager) StartIfNeeded(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case ProxyBootstrapped:
		m.mu.Unlock()
		return nil
	case ProxyStarting, ProxySocksUp:
		m.mu.Unlock()
		return m.awaitBootstrap(ctx)
	}
	m.mu.Unlock()

	m.transition(ProxyStarting)

	if err := m.writeProxyConfig(); err != nil {
		m.transition(ProxyFailed)
		return err
	}
	if m.launcher != nil {
		if err := m.launcher.Launch(ctx, m.cfg.DataDir); err != nil {
			m.transition(ProxyFailed)
			return fmt.Errorf("proxy launch failed: %w", err)
		}
	}

	if err := m.probeSocks(ctx); err != nil {
		m.transition(ProxyFailed)
		return err
	}
	m.transition(ProxySocksUp)

	if err := m.pollBootstrap(ctx); err != nil {
		m.transition(ProxyFailed)
		return err
	}
	m.transition(ProxyBootstrapped)
	return nil
}

// awaitBootstrap waits for a concurrent StartIfNeeded to finish.
func (m *ProxyManager) awaitBootstrap(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(bootstrapDeadline)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return ErrProxyBootstrapTimeout
		case <-ticker.C:
			switch m.State() {
			case ProxyBootstrapped:
				return nil
			case ProxyFailed:
				return ErrProxyBootstrapTimeout
			}
		}
	}
}

// probeSocks polls the loopback SOCKS port until it accepts a TCP
// connection: 1 s per attempt, 250 ms apart, 60 s overall.
func (m *ProxyManager) probeSocks(ctx context.Context) error {
	addr := m.SocksAddr()
	deadline := time.Now().Add(socksProbeDeadline)

	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := net.DialTimeout("tcp", addr, socksProbeTimeout)
		if err == nil {
			conn.Close()
			logrus.WithFields(logrus.Fields{
				"function": "probeSocks",
				"addr":     addr,
			}).Debug("SOCKS port reachable")
			return nil
		}
		time.Sleep(socksProbeInterval)
	}
	return fmt.Errorf("%w: SOCKS port %s never came up", ErrProxyBootstrapTimeout, addr)
}

// pollBootstrap authenticates on the control channel and polls
// `GETINFO status/bootstrap-phase` until PROGRESS reaches 100.
func (m *ProxyManager) pollBootstrap(ctx context.Context) error {
	deadline := time.Now().Add(bootstrapDeadline)

	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		progress, summary, err := m.bootstrapProgress()
		if err == nil {
			logrus.WithFields(logrus.Fields{
				"function": "pollBootstrap",
				"progress": progress,
				"summary":  summary,
			}).Debug("Bootstrap progress")
			if progress >= 100 {
				return nil
			}
		}
		time.Sleep(bootstrapInterval)
	}
	return ErrProxyBootstrapTimeout
}

// bootstrapProgress runs one control-channel exchange.
func (m *ProxyManager) bootstrapProgress() (int, string, error) {
	cc, err := dialControl(m.controlAddr(), m.cookiePath())
	if err != nil {
		return 0, "", err
	}
	defer cc.Close()
	return cc.BootstrapProgress()
}

// NotifyPathChange handles a network-path-change or app-foreground event:
// send ACTIVE; if the control channel is unresponsive and SOCKS is also
// down, restart the proxy.
func (m *ProxyManager) NotifyPathChange(ctx context.Context) error {
	cc, err := dialControl(m.controlAddr(), m.cookiePath())
	if err == nil {
		signalErr := cc.Signal("ACTIVE")
		cc.Close()
		if signalErr == nil {
			return nil
		}
	}

	// Control channel unresponsive; check SOCKS before restarting.
	conn, dialErr := net.DialTimeout("tcp", m.SocksAddr(), socksProbeTimeout)
	if dialErr == nil {
		conn.Close()
		return nil
	}

	logrus.WithFields(logrus.Fields{
		"function": "NotifyPathChange",
	}).Warn("Proxy unresponsive after path change, restarting")
	return m.Restart(ctx)
}

// Restart shuts the proxy down, waits for SOCKS to fall, and re-enters
// Starting.
func (m *ProxyManager) Restart(ctx context.Context) error {
	if cc, err := dialControl(m.controlAddr(), m.cookiePath()); err == nil {
		_ = cc.Signal("SHUTDOWN")
		cc.Close()
	}
	if m.launcher != nil {
		_ = m.launcher.Halt()
	}

	// Wait up to 5 s for the SOCKS port to fall before relaunching.
	waitUntil := time.Now().Add(shutdownSocksWait)
	for time.Now().Before(waitUntil) {
		conn, err := net.DialTimeout("tcp", m.SocksAddr(), socksProbeTimeout)
		if err != nil {
			break
		}
		conn.Close()
		time.Sleep(socksProbeInterval)
	}

	m.transition(ProxyOff)
	return m.StartIfNeeded(ctx)
}

// GoDormant puts the proxy to sleep; the gate shuts.
func (m *ProxyManager) GoDormant() {
	if cc, err := dialControl(m.controlAddr(), m.cookiePath()); err == nil {
		_ = cc.Signal("DORMANT")
		cc.Close()
	}
	m.transition(ProxyDormant)
}

// EnsureRunning wakes a dormant proxy.
func (m *ProxyManager) EnsureRunning(ctx context.Context) error {
	if m.State() != ProxyDormant {
		return nil
	}
	if cc, err := dialControl(m.controlAddr(), m.cookiePath()); err == nil {
		_ = cc.Signal("ACTIVE")
		cc.Close()
	}
	m.transition(ProxyOff)
	return m.StartIfNeeded(ctx)
}

func (m *ProxyManager) controlAddr() string {
	return net.JoinHostPort(m.cfg.SocksHost, fmt.Sprintf("%d", m.cfg.ControlPort))
}

func (m *ProxyManager) cookiePath() string {
	return filepath.Join(m.cfg.DataDir, controlCookieFile)
}

// writeProxyConfig writes the proxy's own configuration file atomically:
// a temp file in the data directory renamed into place.
func (m *ProxyManager) writeProxyConfig() error {
	if m.cfg.DataDir == "" {
		return nil
	}
	if err := os.MkdirAll(m.cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("failed to create proxy data dir: %w", err)
	}

	content := fmt.Sprintf(
		"SocksPort %s\nControlPort %d\nCookieAuthentication 1\nDataDirectory %s\n",
		m.SocksAddr(), m.cfg.ControlPort, m.cfg.DataDir,
	)

	path := filepath.Join(m.cfg.DataDir, proxyConfigFileName)
	tmp, err := os.CreateTemp(m.cfg.DataDir, proxyConfigFileName+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create proxy config temp file: %w", err)
	}
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write proxy config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close proxy config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to install proxy config: %w", err)
	}
	return nil
}
