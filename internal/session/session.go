package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/psegsync/psegsync/pkg/log"
)

// ErrNoRefreshPath is returned by Refresh when no manual cookie has been
// supplied and the automation addon is unavailable or unhealthy.
var ErrNoRefreshPath = errors.New("no cookie refresh path available")

// Status is the lifecycle state of a session cookie.
type Status string

const (
	StatusUnverified Status = "unverified"
	StatusValid      Status = "valid"
	StatusExpired    Status = "expired"
)

// Session is a read-only snapshot of the current authentication state.
type Session struct {
	Cookie          string    `json:"-"`
	ObtainedAt      time.Time `json:"obtained_at"`
	LastValidatedAt time.Time `json:"last_validated_at,omitempty"`
	Status          Status    `json:"status"`
}

// Notifier surfaces persistent user-facing notices, e.g. when the cookie
// expired and cannot be refreshed automatically.
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// Manager exclusively owns the live session for one account. Callers get
// snapshots via Current and request new cookies via Refresh; the fetcher
// reports auth failures via MarkExpired.
type Manager struct {
	mu       sync.Mutex
	session  Session
	username string
	password string

	automation Automation   // nil when no addon is configured
	notifier   Notifier     // nil when notifications are not configured
	onUpdate   func(string) // persists a freshly adopted cookie

	now func() time.Time
}

// NewManager creates a session manager. A non-empty cookie starts out
// Unverified; with no cookie the session is Expired until the first refresh.
func NewManager(username, password, cookie string, automation Automation) *Manager {
	status := StatusExpired
	if cookie != "" {
		status = StatusUnverified
	}
	return &Manager{
		session: Session{
			Cookie:     cookie,
			ObtainedAt: time.Now(),
			Status:     status,
		},
		username:   username,
		password:   password,
		automation: automation,
		now:        time.Now,
	}
}

// SetNotifier installs the notifier used for refresh-failure notices.
func (m *Manager) SetNotifier(n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifier = n
}

// OnUpdate registers a callback invoked with the new cookie after every
// successful refresh, so it can be persisted.
func (m *Manager) OnUpdate(fn func(cookie string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdate = fn
}

// Current returns a snapshot of the session. Never performs network I/O.
func (m *Manager) Current() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// AdoptCookie installs a user-supplied cookie directly and marks the
// session Valid. This is the manual refresh path.
func (m *Manager) AdoptCookie(cookie string) Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adoptLocked(cookie)
	return m.session
}

// MarkExpired records that a request was rejected for authentication
// reasons. Idempotent; the cookie is kept so it can be inspected.
func (m *Manager) MarkExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session.Status == StatusExpired {
		return
	}
	m.session.Status = StatusExpired
}

// Validated records that an authenticated request succeeded with the
// current cookie.
func (m *Manager) Validated() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session.LastValidatedAt = m.now()
	m.session.Status = StatusValid
}

// Refresh attempts to obtain a new cookie from the automation addon. On
// failure the session stays Expired and a persistent notice is raised.
func (m *Manager) Refresh(ctx context.Context, reason string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	log.Ctx(ctx).InfoContext(ctx, "refreshing session cookie", "reason", reason)

	if m.automation == nil || m.username == "" || m.password == "" {
		return m.refreshFailedLocked(ctx, ErrNoRefreshPath)
	}

	if err := m.automation.Health(ctx); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "automation addon unhealthy", "error", err)
		return m.refreshFailedLocked(ctx, fmt.Errorf("%w: %v", ErrNoRefreshPath, err))
	}

	cookies, err := m.automation.Login(ctx, m.username, m.password)
	if err != nil {
		return m.refreshFailedLocked(ctx, fmt.Errorf("automation login: %w", err))
	}

	m.adoptLocked(joinCookies(cookies))
	log.Ctx(ctx).InfoContext(ctx, "session cookie refreshed")
	return m.session, nil
}

func (m *Manager) adoptLocked(cookie string) {
	m.session = Session{
		Cookie:     cookie,
		ObtainedAt: m.now(),
		Status:     StatusValid,
	}
	if m.onUpdate != nil {
		m.onUpdate(cookie)
	}
}

func (m *Manager) refreshFailedLocked(ctx context.Context, err error) (Session, error) {
	m.session.Status = StatusExpired
	if m.notifier != nil {
		nerr := m.notifier.Notify(ctx,
			"PSEG session cookie expired",
			"The PSEG session cookie has expired and could not be refreshed automatically. "+
				"Supply a fresh cookie manually or make sure the automation addon is running.")
		if nerr != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to raise notification", "error", nerr)
		}
	}
	return m.session, err
}

// joinCookies renders an addon cookie map as a Cookie header value.
// Sorted so the result is deterministic.
func joinCookies(cookies map[string]string) string {
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+cookies[name])
	}
	return strings.Join(pairs, "; ")
}
