package tui

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/bodega/internal/api"
	"github.com/felixgeelhaar/bodega/internal/credential"
	"github.com/felixgeelhaar/bodega/internal/errors"
	"github.com/felixgeelhaar/bodega/internal/poller"
	"github.com/felixgeelhaar/bodega/internal/router"
	"github.com/felixgeelhaar/bodega/internal/session"
	"github.com/felixgeelhaar/bodega/internal/token"
)

type fakeSession struct {
	mu   sync.Mutex
	snap session.Session
	subs map[int]func(session.Session)
	next int

	loginRole    token.Role
	loginErr     error
	registerErr  error
	lastRegister api.RegisterRequest
	logouts      int
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		snap:      session.Session{State: session.StateUninitialized, Initializing: true},
		subs:      make(map[int]func(session.Session)),
		loginRole: token.RoleUser,
	}
}

func (f *fakeSession) Snapshot() session.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeSession) Subscribe(fn func(session.Session)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.subs[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

func (f *fakeSession) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeSession) set(s session.Session) {
	f.mu.Lock()
	f.snap = s
	subs := make([]func(session.Session), 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()
	for _, fn := range subs {
		fn(s)
	}
}

func (f *fakeSession) Mount(ctx context.Context) error {
	f.set(session.Session{State: session.StateAnonymous})
	return nil
}

func (f *fakeSession) Login(ctx context.Context, email, password string) error {
	if f.loginErr != nil {
		return f.loginErr
	}
	f.set(authenticated(f.loginRole))
	return nil
}

func (f *fakeSession) Logout(ctx context.Context) error {
	f.mu.Lock()
	f.logouts++
	f.mu.Unlock()
	f.set(session.Session{State: session.StateAnonymous})
	return nil
}

func (f *fakeSession) Register(ctx context.Context, req api.RegisterRequest) (*api.RegisterResponse, error) {
	f.mu.Lock()
	f.lastRegister = req
	f.mu.Unlock()
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	return &api.RegisterResponse{Message: "User registered"}, nil
}

func authenticated(role token.Role) session.Session {
	return session.Session{
		State:      session.StateAuthenticated,
		Role:       role,
		Credential: credential.Credential("header.payload.signature"),
	}
}

// runCmd executes cmd and any batch it expands to, collecting messages
func runCmd(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, runCmd(c)...)
		}
		return out
	}
	return []tea.Msg{msg}
}

// deliver feeds every message cmd produces back into the model
func deliver(m *Model, cmd tea.Cmd) {
	for _, msg := range runCmd(cmd) {
		m.Update(msg)
	}
}

func keyPress(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func settledFetcher(calls *atomic.Int32) poller.Fetcher {
	return poller.FetchFunc(func(ctx context.Context) (*api.MetricsReport, error) {
		calls.Add(1)
		return &api.MetricsReport{Snapshot: &api.MetricsSnapshot{
			AsOfDate:   "2025-05-01",
			Aggregates: map[string]float64{"totalCompanies": 12, "averageStock": 3.5},
		}}, nil
	})
}

func factoryFor(f poller.Fetcher) PollerFactory {
	return func(onUpdate func(poller.Update)) (*poller.Poller, error) {
		return poller.New(f, poller.OnUpdate(onUpdate))
	}
}

func newLandingModel(t *testing.T, svc *fakeSession, opts ...func(*Options)) *Model {
	t.Helper()
	o := Options{Session: svc, BaseURL: "http://localhost:5000"}
	for _, fn := range opts {
		fn(&o)
	}
	m := NewModel(context.Background(), o)
	require.Equal(t, router.ViewLoading, m.CurrentView())

	deliver(m, m.mount())
	require.Equal(t, router.ViewLanding, m.CurrentView())
	return m
}

func waitSettled(t *testing.T, m *Model) {
	t.Helper()
	require.NotNil(t, m.poller)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := m.poller.Wait(ctx)
	require.NoError(t, err)
	m.Update(pollChangedMsg{})
}

func TestLoadingUntilMounted(t *testing.T) {
	m := NewModel(context.Background(), Options{Session: newFakeSession()})

	assert.Equal(t, router.ViewLoading, m.CurrentView())
	assert.Contains(t, m.View(), "Checking your session")
}

func TestMountRoutesToLanding(t *testing.T) {
	m := newLandingModel(t, newFakeSession())

	view := m.View()
	assert.Contains(t, view, "log in")
	assert.Contains(t, view, "http://localhost:5000")
}

func TestLandingKeysOpenForms(t *testing.T) {
	m := newLandingModel(t, newFakeSession())

	m.Update(keyPress("l"))
	require.NotNil(t, m.form)
	assert.Equal(t, landingLogin, m.mode)

	m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.Nil(t, m.form)
	assert.Equal(t, landingMenu, m.mode)

	m.Update(keyPress("r"))
	require.NotNil(t, m.form)
	assert.Equal(t, landingRegister, m.mode)
}

func TestLoginSuccessRoutesToMain(t *testing.T) {
	svc := newFakeSession()
	m := newLandingModel(t, svc)

	m.Update(keyPress("l"))
	m.login.Email = "ana@example.com"
	m.login.Password = "secret"
	deliver(m, m.submit())

	assert.False(t, m.busy)
	assert.Equal(t, router.ViewMain, m.CurrentView())
	view := m.View()
	assert.Contains(t, view, "User")
	assert.Contains(t, view, "Loading profile")
}

func TestLoginFailureStaysOnLanding(t *testing.T) {
	svc := newFakeSession()
	svc.loginErr = errors.NewValidationError(401, "Invalid credentials")
	m := newLandingModel(t, svc)

	m.Update(keyPress("l"))
	m.login.Email = "ana@example.com"
	m.login.Password = "wrong"
	deliver(m, m.submit())

	assert.Equal(t, router.ViewLanding, m.CurrentView())
	assert.Equal(t, landingLogin, m.mode)
	require.NotNil(t, m.form)
	assert.Empty(t, m.login.Password)
	assert.Equal(t, "ana@example.com", m.login.Email)
	assert.Contains(t, m.View(), "Invalid credentials")
}

func TestNetworkErrorIsRetryable(t *testing.T) {
	svc := newFakeSession()
	svc.loginErr = errors.NewNetworkError("POST /auth/login", context.DeadlineExceeded)
	m := newLandingModel(t, svc)

	m.Update(keyPress("l"))
	m.login.Email = "ana@example.com"
	m.login.Password = "secret"
	deliver(m, m.submit())

	assert.Contains(t, m.View(), "try again")
}

func TestRegisterSwitchesToLogin(t *testing.T) {
	svc := newFakeSession()
	m := newLandingModel(t, svc)

	m.Update(keyPress("r"))
	*m.signup = RegisterInput{
		Email:        "ana@example.com",
		Password:     "secret",
		CompanyName:  "Bodega Ana",
		BusinessType: "Servicios",
	}
	deliver(m, m.submit())

	assert.Equal(t, "Bodega Ana", svc.lastRegister.CompanyName)
	assert.Equal(t, router.ViewLanding, m.CurrentView(), "registration does not log in")
	assert.Equal(t, landingLogin, m.mode)
	assert.Equal(t, "ana@example.com", m.login.Email)
	assert.Contains(t, m.View(), "User registered")
}

func TestRegisterFailureKeepsInput(t *testing.T) {
	svc := newFakeSession()
	svc.registerErr = errors.NewValidationError(409, "Email already registered")
	m := newLandingModel(t, svc)

	m.Update(keyPress("r"))
	m.signup.Email = "ana@example.com"
	m.signup.CompanyName = "Bodega Ana"
	deliver(m, m.submit())

	assert.Equal(t, landingRegister, m.mode)
	assert.Equal(t, "Bodega Ana", m.signup.CompanyName)
	assert.Contains(t, m.View(), "Email already registered")
}

func TestSuperAdminSeesDashboard(t *testing.T) {
	var calls atomic.Int32
	svc := newFakeSession()
	m := newLandingModel(t, svc, func(o *Options) { o.NewPoller = factoryFor(settledFetcher(&calls)) })

	svc.set(authenticated(token.RoleSuperAdmin))
	m.Update(sessionChangedMsg{})
	require.Equal(t, router.ViewAdminDashboard, m.CurrentView())

	waitSettled(t, m)
	assert.Equal(t, poller.StateSettled, m.poll.State)

	view := m.View()
	assert.Contains(t, view, "up to date")
	assert.Contains(t, view, "totalCompanies")
	assert.Contains(t, view, "12")
	assert.Contains(t, view, "3.50")
	assert.Contains(t, view, "2025-05-01")
}

func TestRefreshKeyFetchesAgain(t *testing.T) {
	var calls atomic.Int32
	svc := newFakeSession()
	m := newLandingModel(t, svc, func(o *Options) { o.NewPoller = factoryFor(settledFetcher(&calls)) })

	svc.set(authenticated(token.RoleSuperAdmin))
	m.Update(sessionChangedMsg{})
	waitSettled(t, m)
	require.Equal(t, int32(1), calls.Load())

	m.Update(keyPress("r"))
	waitSettled(t, m)
	assert.Equal(t, int32(2), calls.Load())
}

func TestLeavingDashboardStopsPoller(t *testing.T) {
	var calls atomic.Int32
	svc := newFakeSession()
	m := newLandingModel(t, svc, func(o *Options) { o.NewPoller = factoryFor(settledFetcher(&calls)) })

	svc.set(authenticated(token.RoleSuperAdmin))
	m.Update(sessionChangedMsg{})
	waitSettled(t, m)
	p := m.poller

	// the session ends underneath the dashboard (e.g. a 401)
	svc.set(session.Session{State: session.StateAnonymous})
	m.Update(sessionChangedMsg{})

	assert.Equal(t, router.ViewLanding, m.CurrentView())
	assert.Nil(t, m.poller)
	assert.Contains(t, m.View(), "session has ended")

	p.Refresh()
	assert.Equal(t, int32(1), calls.Load(), "a stopped poller must not fetch")
}

func TestNewCredentialRestartsDashboard(t *testing.T) {
	var calls atomic.Int32
	svc := newFakeSession()
	m := newLandingModel(t, svc, func(o *Options) { o.NewPoller = factoryFor(settledFetcher(&calls)) })

	svc.set(authenticated(token.RoleSuperAdmin))
	m.Update(sessionChangedMsg{})
	waitSettled(t, m)
	first := m.poller

	// another super admin logs in from a second terminal
	other := authenticated(token.RoleSuperAdmin)
	other.Credential = credential.Credential("header.other.signature")
	svc.set(other)
	m.Update(sessionChangedMsg{})

	require.Equal(t, router.ViewAdminDashboard, m.CurrentView())
	require.NotNil(t, m.poller)
	assert.NotSame(t, first, m.poller)
	waitSettled(t, m)
	assert.Equal(t, int32(2), calls.Load())

	first.Refresh()
	assert.Equal(t, int32(2), calls.Load(), "the old poller is stopped")
}

func TestSameCredentialKeepsDashboardPoller(t *testing.T) {
	var calls atomic.Int32
	svc := newFakeSession()
	m := newLandingModel(t, svc, func(o *Options) { o.NewPoller = factoryFor(settledFetcher(&calls)) })

	svc.set(authenticated(token.RoleSuperAdmin))
	m.Update(sessionChangedMsg{})
	waitSettled(t, m)
	first := m.poller

	// a profile refresh republishes the same credential
	svc.set(authenticated(token.RoleSuperAdmin))
	m.Update(sessionChangedMsg{})

	assert.Same(t, first, m.poller)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPollErrorShowsBanner(t *testing.T) {
	svc := newFakeSession()
	failing := poller.FetchFunc(func(ctx context.Context) (*api.MetricsReport, error) {
		return nil, errors.NewNetworkError("GET /superadmin/metrics", context.DeadlineExceeded)
	})
	m := newLandingModel(t, svc, func(o *Options) { o.NewPoller = factoryFor(failing) })

	svc.set(authenticated(token.RoleSuperAdmin))
	m.Update(sessionChangedMsg{})
	waitSettled(t, m)

	assert.Equal(t, poller.StateError, m.poll.State)
	view := m.View()
	assert.Contains(t, view, "Metrics unavailable")
	assert.Contains(t, view, "Press r to try again")
}

func TestLogoutReturnsToLanding(t *testing.T) {
	svc := newFakeSession()
	m := newLandingModel(t, svc)

	svc.set(authenticated(token.RoleAdmin))
	m.Update(sessionChangedMsg{})
	require.Equal(t, router.ViewMain, m.CurrentView())

	_, cmd := m.Update(keyPress("o"))
	deliver(m, cmd)

	assert.Equal(t, 1, svc.logouts)
	assert.Equal(t, router.ViewLanding, m.CurrentView())
	assert.Contains(t, m.View(), "Logged out.")
}

func TestQuitUnsubscribes(t *testing.T) {
	svc := newFakeSession()
	m := newLandingModel(t, svc)
	require.Equal(t, 1, svc.subscribers())

	_, cmd := m.Update(keyPress("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Equal(t, 0, svc.subscribers())
	assert.Empty(t, m.View())
}

func TestCtrlCQuitsFromForm(t *testing.T) {
	m := newLandingModel(t, newFakeSession())
	m.Update(keyPress("l"))

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestSessionUpdatesCoalesce(t *testing.T) {
	svc := newFakeSession()
	m := newLandingModel(t, svc)

	for i := 0; i < 10; i++ {
		svc.set(authenticated(token.RoleUser))
	}
	assert.Len(t, m.sessionCh, 1)

	msgs := runCmd(listen(m.sessionCh, sessionChangedMsg{}))
	require.Len(t, msgs, 1)
	m.Update(msgs[0])
	assert.Equal(t, router.ViewMain, m.CurrentView())
}
