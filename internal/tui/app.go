// Package tui is bodega's terminal user interface.
//
// The model routes between the loading, landing, main and admin screens
// with router.Route on every session change. Session and poller updates
// run on their own goroutines and reach the bubbletea event loop as
// messages through one-slot signal channels; the model then reads the
// authoritative state, so bursts of updates coalesce.
package tui

import (
	"context"
	stderrors "errors"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"

	"github.com/felixgeelhaar/bodega/internal/api"
	"github.com/felixgeelhaar/bodega/internal/log"
	"github.com/felixgeelhaar/bodega/internal/poller"
	"github.com/felixgeelhaar/bodega/internal/router"
	"github.com/felixgeelhaar/bodega/internal/session"
)

// SessionService is the part of session.Manager the TUI drives
type SessionService interface {
	Snapshot() session.Session
	Subscribe(fn func(session.Session)) func()
	Mount(ctx context.Context) error
	Login(ctx context.Context, email, password string) error
	Logout(ctx context.Context) error
	Register(ctx context.Context, req api.RegisterRequest) (*api.RegisterResponse, error)
}

// PollerFactory builds the admin dashboard poller. onUpdate is called from
// the poller's goroutines.
type PollerFactory func(onUpdate func(poller.Update)) (*poller.Poller, error)

// Options wires the model to the rest of the client
type Options struct {
	Session   SessionService
	NewPoller PollerFactory
	Logger    *log.Logger
	// BaseURL is displayed on the landing screen
	BaseURL string
}

type landingMode int

const (
	landingMenu landingMode = iota
	landingLogin
	landingRegister
)

type (
	sessionChangedMsg struct{}
	pollChangedMsg    struct{}
	mountedMsg        struct{ err error }
	loginDoneMsg      struct{ err error }
	logoutDoneMsg     struct{ err error }
	registerDoneMsg   struct {
		email   string
		message string
		err     error
	}
)

// Model is the root bubbletea model
type Model struct {
	ctx       context.Context
	svc       SessionService
	newPoller PollerFactory
	logger    *log.Logger
	baseURL   string

	sessionCh   chan struct{}
	pollCh      chan struct{}
	unsubscribe func()

	sess session.Session
	view router.View

	poller *poller.Poller
	poll   poller.Update

	mode       landingMode
	form       *huh.Form
	login      *LoginInput
	signup     *RegisterInput
	busy       bool
	loggingOut bool
	notice     string
	err        error

	spinner  spinner.Model
	help     help.Model
	styles   Styles
	width    int
	height   int
	quitting bool
}

// NewModel creates the root model and subscribes it to the session. ctx
// bounds every request the model issues.
func NewModel(ctx context.Context, opts Options) *Model {
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}

	m := &Model{
		ctx:       ctx,
		svc:       opts.Session,
		newPoller: opts.NewPoller,
		logger:    logger.Component("tui"),
		baseURL:   opts.BaseURL,
		sessionCh: make(chan struct{}, 1),
		pollCh:    make(chan struct{}, 1),
		login:     &LoginInput{},
		signup:    &RegisterInput{},
		spinner:   spinner.New(spinner.WithSpinner(spinner.Dot)),
		help:      help.New(),
		styles:    DefaultStyles(),
	}

	m.unsubscribe = m.svc.Subscribe(func(session.Session) {
		signal(m.sessionCh)
	})
	m.sess = m.svc.Snapshot()
	m.view = router.Route(m.sess)
	return m
}

// signal records that something changed without blocking the sender
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func listen(ch <-chan struct{}, msg tea.Msg) tea.Cmd {
	return func() tea.Msg {
		<-ch
		return msg
	}
}

// Init mounts the session and starts listening for changes
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.mount(),
		listen(m.sessionCh, sessionChangedMsg{}),
		listen(m.pollCh, pollChangedMsg{}),
	)
}

func (m *Model) mount() tea.Cmd {
	ctx, svc := m.ctx, m.svc
	return func() tea.Msg {
		return mountedMsg{err: svc.Mount(ctx)}
	}
}

// Update handles messages and updates the model state
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		if m.form != nil {
			m.form = m.form.WithWidth(min(msg.Width, 60))
		}
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.ForceQuit) {
			return m, m.quit()
		}

	case spinner.TickMsg:
		if m.view != router.ViewLoading && !m.busy && !m.fetching() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case sessionChangedMsg:
		return m, tea.Batch(m.sync(), listen(m.sessionCh, sessionChangedMsg{}))

	case pollChangedMsg:
		if m.poller != nil {
			if u := m.poller.Current(); u.Seq >= m.poll.Seq {
				m.poll = u
			}
		}
		return m, tea.Batch(m.spinner.Tick, listen(m.pollCh, pollChangedMsg{}))

	case mountedMsg:
		if msg.err != nil && !stderrors.Is(msg.err, session.ErrAlreadyMounted) {
			m.err = msg.err
		}
		return m, m.sync()

	case loginDoneMsg:
		m.busy = false
		if msg.err != nil {
			m.err = msg.err
			m.login.Password = ""
			return m, m.openForm(landingLogin)
		}
		m.err = nil
		m.notice = ""
		return m, m.sync()

	case registerDoneMsg:
		m.busy = false
		if msg.err != nil {
			m.err = msg.err
			return m, m.openForm(landingRegister)
		}
		m.err = nil
		m.notice = msg.message
		*m.signup = RegisterInput{}
		*m.login = LoginInput{Email: msg.email}
		return m, m.openForm(landingLogin)

	case logoutDoneMsg:
		m.busy = false
		if msg.err != nil {
			m.logger.WithError(msg.err).Warn("logout did not clear the credential store")
		}
		return m, m.sync()
	}

	switch m.view {
	case router.ViewLanding:
		return m.updateLanding(msg)
	case router.ViewMain:
		return m.updateMain(msg)
	case router.ViewAdminDashboard:
		return m.updateAdmin(msg)
	}
	return m, nil
}

// sync re-reads the session and switches screens when the route changed.
// A different credential on the same dashboard restarts the poller so no
// snapshot fetched for the previous account stays on screen.
func (m *Model) sync() tea.Cmd {
	prevCred := m.sess.Credential
	m.sess = m.svc.Snapshot()
	next := router.Route(m.sess)
	if next == m.view {
		if next == router.ViewAdminDashboard && m.sess.Credential != prevCred {
			m.logger.Debug("credential changed, restarting dashboard",
				"credential", m.sess.Credential.Fingerprint())
			m.stopPoller()
			return m.startPoller()
		}
		return nil
	}

	prev := m.view
	m.logger.Debug("route changed", "from", prev.String(), "to", next.String())
	m.leave(prev)
	m.view = next
	return m.enter(prev, next)
}

func (m *Model) leave(v router.View) {
	switch v {
	case router.ViewAdminDashboard:
		m.stopPoller()
	case router.ViewLanding:
		m.form = nil
		m.mode = landingMenu
	}
}

func (m *Model) enter(prev, v router.View) tea.Cmd {
	switch v {
	case router.ViewLanding:
		m.mode = landingMenu
		if prev.RequiresCredential() {
			if m.loggingOut {
				m.notice = "Logged out."
			} else {
				m.notice = "Your session has ended. Please log in again."
			}
		}
		m.loggingOut = false
		return nil

	case router.ViewAdminDashboard:
		return m.startPoller()
	}
	return nil
}

func (m *Model) startPoller() tea.Cmd {
	if m.newPoller == nil {
		return nil
	}
	p, err := m.newPoller(func(poller.Update) {
		signal(m.pollCh)
	})
	if err != nil {
		m.err = err
		return nil
	}
	m.poller = p
	m.poll = poller.Update{}
	p.Start(m.ctx)
	return m.spinner.Tick
}

func (m *Model) stopPoller() {
	if m.poller != nil {
		m.poller.Stop()
		m.poller = nil
	}
	m.poll = poller.Update{}
}

func (m *Model) fetching() bool {
	return m.poller != nil && m.poll.State == poller.StateFetching
}

func (m *Model) quit() tea.Cmd {
	m.close()
	m.quitting = true
	return tea.Quit
}

// close stops the poller and the session subscription. It is safe to call
// more than once.
func (m *Model) close() {
	m.stopPoller()
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
}

func (m *Model) openForm(mode landingMode) tea.Cmd {
	m.mode = mode
	switch mode {
	case landingLogin:
		m.form = NewLoginForm(m.login)
	case landingRegister:
		m.form = NewRegisterForm(m.signup)
	default:
		m.form = nil
		return nil
	}
	if m.width > 0 {
		m.form = m.form.WithWidth(min(m.width, 60))
	}
	return m.form.Init()
}

func (m *Model) updateLanding(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.busy {
		return m, nil
	}

	if m.form == nil {
		km, ok := msg.(tea.KeyMsg)
		if !ok {
			return m, nil
		}
		switch {
		case key.Matches(km, keys.Login):
			m.err = nil
			return m, m.openForm(landingLogin)
		case key.Matches(km, keys.Register):
			m.err = nil
			m.notice = ""
			return m, m.openForm(landingRegister)
		case key.Matches(km, keys.Quit):
			return m, m.quit()
		}
		return m, nil
	}

	if km, ok := msg.(tea.KeyMsg); ok && key.Matches(km, keys.Back) {
		m.form = nil
		m.mode = landingMenu
		return m, nil
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		return m, m.submit()
	case huh.StateAborted:
		m.form = nil
		m.mode = landingMenu
		return m, nil
	}
	return m, cmd
}

// submit sends the completed form to the backend
func (m *Model) submit() tea.Cmd {
	m.busy = true
	m.err = nil
	ctx, svc := m.ctx, m.svc

	switch m.mode {
	case landingLogin:
		email, password := m.login.Email, m.login.Password
		return tea.Batch(m.spinner.Tick, func() tea.Msg {
			return loginDoneMsg{err: svc.Login(ctx, email, password)}
		})

	case landingRegister:
		req := m.signup.Request()
		return tea.Batch(m.spinner.Tick, func() tea.Msg {
			resp, err := svc.Register(ctx, req)
			if err != nil {
				return registerDoneMsg{err: err}
			}
			return registerDoneMsg{email: req.Email, message: resp.Message}
		})
	}

	m.busy = false
	return nil
}

func (m *Model) logout() tea.Cmd {
	m.busy = true
	m.loggingOut = true
	ctx, svc := m.ctx, m.svc
	return func() tea.Msg {
		return logoutDoneMsg{err: svc.Logout(ctx)}
	}
}

func (m *Model) updateMain(msg tea.Msg) (tea.Model, tea.Cmd) {
	km, ok := msg.(tea.KeyMsg)
	if !ok || m.busy {
		return m, nil
	}
	switch {
	case key.Matches(km, keys.Logout):
		return m, m.logout()
	case key.Matches(km, keys.Quit):
		return m, m.quit()
	}
	return m, nil
}

func (m *Model) updateAdmin(msg tea.Msg) (tea.Model, tea.Cmd) {
	km, ok := msg.(tea.KeyMsg)
	if !ok || m.busy {
		return m, nil
	}
	switch {
	case key.Matches(km, keys.Refresh):
		if m.poller != nil {
			m.poller.Refresh()
		}
		return m, nil
	case key.Matches(km, keys.Logout):
		return m, m.logout()
	case key.Matches(km, keys.Quit):
		return m, m.quit()
	}
	return m, nil
}

// CurrentView reports the screen on display
func (m *Model) CurrentView() router.View {
	return m.view
}

// Run starts the TUI and blocks until the user quits or ctx is done
func Run(ctx context.Context, opts Options) error {
	m := NewModel(ctx, opts)
	defer m.close()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		if stderrors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}
