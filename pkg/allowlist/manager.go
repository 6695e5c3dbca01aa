package allowlist

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"mercator-hq/gatekeeper/pkg/admission"
	"mercator-hq/gatekeeper/pkg/config"
)

// CheckResult is the outcome of an address check.
type CheckResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Label   string `json:"label,omitempty"`
}

// state is one derived view of the allowlist configuration.
type state struct {
	enabled   bool
	mode      string
	members   map[string]struct{}
	labels    map[string]string
	addresses []string
	interval  time.Duration
}

// Manager checks recipients against the configured list. It is safe for
// concurrent use.
type Manager struct {
	src      config.Source
	now      admission.Clock
	interval time.Duration
	logger   *slog.Logger

	mu          sync.Mutex
	state       *state
	fingerprint string
	lastCheck   time.Time
	reloads     uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock used by the refresh gate.
func WithClock(clock admission.Clock) Option {
	return func(m *Manager) {
		m.now = clock
	}
}

// WithRefreshInterval overrides the configured refresh interval.
func WithRefreshInterval(d time.Duration) Option {
	return func(m *Manager) {
		m.interval = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// New creates an allowlist manager reading from src. The configuration is
// read lazily on first use.
func New(src config.Source, opts ...Option) *Manager {
	m := &Manager{
		src:    src,
		now:    admission.SystemClock,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "allowlist")
	return m
}

// Check reports whether addr may receive a payment.
func (m *Manager) Check(addr string) (CheckResult, error) {
	st, err := m.current()
	if err != nil {
		return CheckResult{}, err
	}
	if !st.enabled {
		return CheckResult{Allowed: true}, nil
	}

	n := Normalize(addr)
	if n == "" {
		return CheckResult{}, admission.Malformed(admission.CodeInvalidAddress, "recipient address is required")
	}

	_, member := st.members[n]
	label := st.labels[n]

	switch st.mode {
	case config.ModeAllowlist:
		if member {
			return CheckResult{Allowed: true, Label: label}, nil
		}
		return CheckResult{Allowed: false, Reason: fmt.Sprintf("address %s is not in allowlist", n)}, nil
	default:
		if member {
			reason := fmt.Sprintf("address %s is blocked", n)
			if label != "" {
				reason = fmt.Sprintf("address %s is blocked: %s", n, label)
			}
			return CheckResult{Allowed: false, Reason: reason, Label: label}, nil
		}
		return CheckResult{Allowed: true, Label: label}, nil
	}
}

// Validate returns a not-allowed error if Check disallows addr.
func (m *Manager) Validate(addr string) error {
	res, err := m.Check(addr)
	if err != nil {
		return err
	}
	if !res.Allowed {
		return admission.NotAllowed(res.Reason, res.Label)
	}
	return nil
}

// IsEnabled reports whether the address gate is on.
func (m *Manager) IsEnabled() bool {
	return m.cached().enabled
}

// GetMode returns config.ModeAllowlist or config.ModeBlocklist.
func (m *Manager) GetMode() string {
	return m.cached().mode
}

// GetLabel returns the label configured for addr, if any.
func (m *Manager) GetLabel(addr string) string {
	return m.cached().labels[Normalize(addr)]
}

// GetAddresses returns the normalized list, sorted.
func (m *Manager) GetAddresses() []string {
	return append([]string(nil), m.cached().addresses...)
}

// IsInList reports whether addr is listed, regardless of mode.
func (m *Manager) IsInList(addr string) bool {
	_, ok := m.cached().members[Normalize(addr)]
	return ok
}

// Reload rebuilds the lookup set from the configuration unconditionally.
func (m *Manager) Reload() error {
	cfg, err := m.src.Snapshot()
	if err != nil {
		return admission.Internal(admission.CodeConfigUnavailable, "allowlist configuration unavailable", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastCheck = m.now()
	return m.rebuildLocked(&cfg.Security.AddressAllowlist, fingerprint(&cfg.Security.AddressAllowlist))
}

// Reset drops all cached state. The next accessor reloads.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = nil
	m.fingerprint = ""
	m.lastCheck = time.Time{}
}

// Fingerprint returns the fingerprint of the configuration the current
// state was built from.
func (m *Manager) Fingerprint() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fingerprint
}

// Reloads returns how many times the lookup set has been rebuilt.
func (m *Manager) Reloads() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reloads
}

// cached returns the current state for read accessors. A configuration
// failure is logged and the previous state, or a disabled list, is used.
func (m *Manager) cached() *state {
	st, err := m.current()
	if err != nil {
		m.logger.Error("allowlist refresh failed", "error", err)
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.state != nil {
			return m.state
		}
		return &state{mode: config.ModeBlocklist}
	}
	return st
}

// current passes through the refresh gate and returns the active state.
func (m *Manager) current() (*state, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.state != nil && now.Sub(m.lastCheck) < m.state.interval {
		return m.state, nil
	}

	cfg, err := m.src.Snapshot()
	if err != nil {
		return nil, admission.Internal(admission.CodeConfigUnavailable, "allowlist configuration unavailable", err)
	}
	m.lastCheck = now

	al := &cfg.Security.AddressAllowlist
	fp := fingerprint(al)
	if m.state != nil && fp == m.fingerprint {
		// Interval may have changed without touching the list itself.
		m.state.interval = m.refreshInterval(al)
		return m.state, nil
	}
	if err := m.rebuildLocked(al, fp); err != nil {
		return nil, err
	}
	return m.state, nil
}

func (m *Manager) rebuildLocked(al *config.AddressAllowlistConfig, fp string) error {
	mode, ok := config.NormalizeMode(al.Mode)
	if !ok {
		return admission.Internal(admission.CodeConfigUnavailable,
			fmt.Sprintf("invalid allowlist mode %q", al.Mode), nil)
	}

	st := &state{
		enabled:  al.Enabled,
		mode:     mode,
		members:  make(map[string]struct{}, len(al.Addresses)),
		labels:   make(map[string]string, len(al.Labels)),
		interval: m.refreshInterval(al),
	}
	for _, a := range al.Addresses {
		if n := Normalize(a); n != "" {
			if _, dup := st.members[n]; !dup {
				st.members[n] = struct{}{}
				st.addresses = append(st.addresses, n)
			}
		}
	}
	sort.Strings(st.addresses)
	for a, label := range al.Labels {
		st.labels[Normalize(a)] = label
	}

	m.state = st
	m.fingerprint = fp
	m.reloads++

	m.logger.Info("allowlist rebuilt",
		"enabled", st.enabled,
		"mode", st.mode,
		"addresses", len(st.addresses),
	)
	return nil
}

func (m *Manager) refreshInterval(al *config.AddressAllowlistConfig) time.Duration {
	if m.interval > 0 {
		return m.interval
	}
	if al.RefreshInterval > 0 {
		return al.RefreshInterval
	}
	return config.DefaultAllowlistRefreshInterval
}

// fingerprint concatenates the enabled flag, mode, sorted addresses, and
// sorted address:label pairs.
func fingerprint(al *config.AddressAllowlistConfig) string {
	addrs := append([]string(nil), al.Addresses...)
	sort.Strings(addrs)

	pairs := make([]string, 0, len(al.Labels))
	for a, label := range al.Labels {
		pairs = append(pairs, a+":"+label)
	}
	sort.Strings(pairs)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%t|%s|", al.Enabled, al.Mode)
	sb.WriteString(strings.Join(addrs, ","))
	sb.WriteByte('|')
	sb.WriteString(strings.Join(pairs, ","))
	return sb.String()
}
