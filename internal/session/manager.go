// Package session owns the client-side session lifecycle: which credential
// is in force, which role it grants and when it ends.
//
// All transitions go through one Manager, serialised by a single mutex. The
// role is never stored; it is derived from the credential each time the
// credential changes, and both are cleared together.
package session

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/felixgeelhaar/bodega/internal/api"
	"github.com/felixgeelhaar/bodega/internal/credential"
	"github.com/felixgeelhaar/bodega/internal/errors"
	"github.com/felixgeelhaar/bodega/internal/log"
	"github.com/felixgeelhaar/bodega/internal/metrics"
	"github.com/felixgeelhaar/bodega/internal/telemetry"
	"github.com/felixgeelhaar/bodega/internal/token"
)

// ErrAlreadyMounted is returned by a second Mount
var ErrAlreadyMounted = errors.New(errors.ErrCodeAlreadyMounted, "session already mounted")

// profileTimeout bounds a background profile refresh
const profileTimeout = 30 * time.Second

// Backend is the part of the API client the session drives
type Backend interface {
	Login(ctx context.Context, email, password string) (credential.Credential, error)
	Register(ctx context.Context, req api.RegisterRequest) (*api.RegisterResponse, error)
	Me(ctx context.Context) (*api.UserProfile, error)
}

// Manager is the session state machine
type Manager struct {
	store   credential.Store
	backend Backend
	decoder *token.Decoder
	logger  *log.Logger
	metrics *metrics.Metrics
	onEnded func(EndReason)

	mu      sync.Mutex
	mounted bool
	state   State
	cred    credential.Credential
	role    token.Role
	profile *api.UserProfile
	// generation increments on every credential change; work started for
	// an older generation must not touch the current one
	generation uint64
	// resyncPending records a Resync that arrived during Mount
	resyncPending bool

	subMu       sync.Mutex
	subscribers map[int]func(Session)
	nextSub     int

	profiles singleflight.Group
	pending  sync.WaitGroup
}

// Option configures a Manager
type Option func(*Manager)

// WithDecoder replaces the default token decoder
func WithDecoder(d *token.Decoder) Option {
	return func(m *Manager) {
		m.decoder = d
	}
}

// WithLogger sets the logger
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithMetrics records transitions on mt
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithOnEnded registers the navigation callback run when an authenticated
// session ends. It is called outside the manager's lock.
func WithOnEnded(fn func(EndReason)) Option {
	return func(m *Manager) {
		m.onEnded = fn
	}
}

// NewManager creates an unmounted session manager
func NewManager(store credential.Store, backend Backend, opts ...Option) *Manager {
	m := &Manager{
		store:       store,
		backend:     backend,
		decoder:     token.NewDecoder(),
		logger:      log.Nop(),
		subscribers: make(map[int]func(Session)),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Component("session")
	return m
}

// Snapshot returns the current session
func (m *Manager) Snapshot() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Session {
	return Session{
		State:        m.state,
		Role:         m.role,
		Credential:   m.cred,
		Initializing: m.state == StateUninitialized || m.state == StateValidating,
		Profile:      m.profile,
	}
}

// Subscribe registers fn to receive a snapshot after every change. The
// returned function unsubscribes.
func (m *Manager) Subscribe(fn func(Session)) func() {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	id := m.nextSub
	m.nextSub++
	m.subscribers[id] = fn

	return func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		delete(m.subscribers, id)
	}
}

func (m *Manager) notify() {
	snap := m.Snapshot()

	m.subMu.Lock()
	subs := make([]func(Session), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subs = append(subs, fn)
	}
	m.subMu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

func (m *Manager) ended(reason EndReason) {
	m.metrics.ObserveSessionEnded(reason.String())
	m.logger.Info("session ended", "reason", reason.String())
	if m.onEnded != nil {
		m.onEnded(reason)
	}
}

// transitionLocked moves to next. Callers hold m.mu.
func (m *Manager) transitionLocked(next State) {
	from := m.state
	if !from.CanTransitionTo(next) {
		m.logger.Error("illegal session transition", "from", from.String(), "to", next.String())
	}
	m.state = next
	m.metrics.ObserveTransition(from.String(), next.String())
	m.logger.Debug("session transition",
		"from", from.String(),
		"to", next.String(),
		"role", m.role.String(),
		"credential", m.cred.Fingerprint(),
	)
}

// authenticateLocked installs cred and role together. Callers hold m.mu.
func (m *Manager) authenticateLocked(cred credential.Credential, role token.Role) uint64 {
	m.cred = cred
	m.role = role
	m.profile = nil
	m.generation++
	m.transitionLocked(StateAuthenticated)
	return m.generation
}

// anonymousLocked drops credential, role and profile together. Callers
// hold m.mu.
func (m *Manager) anonymousLocked() {
	m.cred = ""
	m.role = token.RoleGuest
	m.profile = nil
	m.generation++
	m.transitionLocked(StateAnonymous)
}

// Mount performs the single initial validation pass: read the store, decode
// the credential, settle on Authenticated or Anonymous. Initializing is
// false when Mount returns, whatever the outcome.
func (m *Manager) Mount(ctx context.Context) error {
	ctx, span := telemetry.StartSessionSpan(ctx, "mount", "")
	defer span.End()

	m.mu.Lock()
	if m.mounted {
		m.mu.Unlock()
		return ErrAlreadyMounted
	}
	m.mounted = true
	m.transitionLocked(StateValidating)
	startGen := m.generation
	m.mu.Unlock()
	m.notify()
	defer m.runPendingResync(ctx)

	cred, ok, err := m.store.Get(ctx)
	if err != nil {
		// an unreadable store is treated as logged out but left alone;
		// it may hold a credential another process can still read
		m.logger.WithError(err).Warn("credential store unreadable, starting anonymous")
		telemetry.RecordError(span, err)
		ok = false
	}

	var role token.Role
	var decodeErr error
	if ok {
		role, decodeErr = m.decoder.Decode(cred)
	}

	m.mu.Lock()
	if m.state != StateValidating || m.generation != startGen {
		// a login or logout finished while the store was being read; what
		// was read is stale
		m.mu.Unlock()
		return nil
	}

	var gen uint64
	switch {
	case !ok:
		m.anonymousLocked()

	case decodeErr != nil:
		m.logger.WithError(decodeErr).Info("stored credential rejected", "credential", cred.Fingerprint())
		if err := m.store.Clear(ctx); err != nil {
			m.logger.WithError(err).Warn("failed to clear rejected credential")
		}
		m.anonymousLocked()

	default:
		gen = m.authenticateLocked(cred, role)
	}
	m.mu.Unlock()
	m.notify()

	if gen != 0 {
		span.SetAttributes(telemetry.RoleAttribute(role.String()))
		m.refreshProfileAsync(ctx, gen)
	}
	return nil
}

// runPendingResync replays a Resync deferred while Mount was validating
func (m *Manager) runPendingResync(ctx context.Context) {
	m.mu.Lock()
	pending := m.resyncPending
	m.resyncPending = false
	m.mu.Unlock()

	if !pending {
		return
	}
	if err := m.Resync(ctx); err != nil {
		m.logger.WithError(err).Warn("failed to resync session with credential store")
	}
}

// Login exchanges email and password for a credential, stores it and
// authenticates with the role it carries. A credential that does not decode
// is not stored. On any failure the session is unchanged.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	ctx, span := telemetry.StartSessionSpan(ctx, "login", "")
	defer span.End()

	cred, err := m.backend.Login(ctx, email, password)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}

	role, err := m.decoder.Decode(cred)
	if err != nil {
		telemetry.RecordError(span, err)
		m.logger.WithError(err).Warn("backend issued a credential without a usable role", "credential", cred.Fingerprint())
		return err
	}

	m.mu.Lock()
	if err := m.store.Set(ctx, cred); err != nil {
		m.mu.Unlock()
		telemetry.RecordError(span, err)
		return err
	}
	m.mounted = true
	gen := m.authenticateLocked(cred, role)
	m.mu.Unlock()
	m.notify()

	m.logger.Info("logged in", "role", role.String(), "credential", cred.Fingerprint())
	telemetry.RecordSuccess(span, telemetry.RoleAttribute(role.String()))
	m.refreshProfileAsync(ctx, gen)
	return nil
}

// Expire ends the session after the backend rejected used. The store is
// cleared only if it still holds used, so a newer credential stored since
// survives; concurrent calls for the same credential clear it once.
//
// The session ends when it was running on used, or when the store no
// longer holds the session's credential at all (a request sent without a
// bearer after the store emptied behind our back). A store holding a
// credential the session has not seen yet is picked up with Resync.
func (m *Manager) Expire(ctx context.Context, used credential.Credential) {
	ctx, span := telemetry.StartSessionSpan(ctx, "expire", used.Fingerprint())
	defer span.End()

	m.mu.Lock()
	stored, ok, err := m.store.Get(ctx)
	if err != nil {
		m.logger.WithError(err).Warn("credential store unreadable during expiry")
	}
	if err == nil && ok && !used.IsZero() && stored == used {
		if err := m.store.Clear(ctx); err != nil {
			m.logger.WithError(err).Warn("failed to clear expired credential")
			telemetry.RecordError(span, err)
		}
		ok = false
	}

	var endSession, resync bool
	if m.state == StateAuthenticated {
		switch {
		case !m.cred.IsZero() && m.cred == used:
			endSession = true
		case err != nil:
		case !ok:
			endSession = true
		case stored != m.cred:
			resync = true
		}
	}
	if endSession {
		m.anonymousLocked()
	}
	m.mu.Unlock()

	if endSession {
		m.notify()
		m.ended(EndExpired)
	}
	if resync {
		if err := m.Resync(ctx); err != nil {
			m.logger.WithError(err).Warn("failed to resync session after a rejected request")
		}
	}
}

// Logout clears the store and ends the session. Calling it while anonymous
// is a no-op apart from clearing the store.
func (m *Manager) Logout(ctx context.Context) error {
	ctx, span := telemetry.StartSessionSpan(ctx, "logout", "")
	defer span.End()

	m.mu.Lock()
	clearErr := m.store.Clear(ctx)
	wasAuthenticated := m.state == StateAuthenticated
	changed := m.state != StateAnonymous
	switch m.state {
	case StateAuthenticated, StateValidating:
		// a Mount still reading the store sees the generation move and
		// leaves the session anonymous
		m.anonymousLocked()
	case StateUninitialized:
		m.mounted = true
		m.anonymousLocked()
	}
	m.mu.Unlock()

	if changed {
		m.notify()
	}
	if wasAuthenticated {
		m.ended(EndLogout)
	}
	if clearErr != nil {
		telemetry.RecordError(span, clearErr)
		return clearErr
	}
	return nil
}

// Resync reconciles the session with a store changed by someone else,
// typically another bodega process. It never re-enters Initializing. A
// Resync arriving while Mount is still validating is deferred until Mount
// has settled; one arriving before Mount is dropped, since Mount reads the
// store anyway.
func (m *Manager) Resync(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateUninitialized:
		m.mu.Unlock()
		return nil
	case StateValidating:
		m.resyncPending = true
		m.mu.Unlock()
		return nil
	}

	cred, ok, err := m.store.Get(ctx)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	var (
		reason     EndReason
		endSession bool
		gen        uint64
	)
	wasAuthenticated := m.state == StateAuthenticated

	switch {
	case !ok:
		if wasAuthenticated {
			m.anonymousLocked()
			endSession, reason = true, EndExternal
		}

	case cred == m.cred:
		m.mu.Unlock()
		return nil

	default:
		role, decodeErr := m.decoder.Decode(cred)
		if decodeErr != nil {
			m.logger.WithError(decodeErr).Info("externally stored credential rejected", "credential", cred.Fingerprint())
			if err := m.store.Clear(ctx); err != nil {
				m.logger.WithError(err).Warn("failed to clear rejected credential")
			}
			if wasAuthenticated {
				m.anonymousLocked()
				endSession, reason = true, EndInvalidCredential
			}
			break
		}
		gen = m.authenticateLocked(cred, role)
	}
	m.mu.Unlock()

	if endSession || gen != 0 {
		m.notify()
	}
	if endSession {
		m.ended(reason)
	}
	if gen != 0 {
		m.refreshProfileAsync(ctx, gen)
	}
	return nil
}

// Watch calls Resync whenever w reports a change, until ctx is done
func (m *Manager) Watch(ctx context.Context, w credential.Watcher) error {
	changes, err := w.Watch(ctx)
	if err != nil {
		return err
	}

	go func() {
		for range changes {
			if err := m.Resync(ctx); err != nil {
				m.logger.WithError(err).Warn("failed to resync session with credential store")
			}
		}
	}()
	return nil
}

// RefreshProfile fetches the profile for the current credential. Concurrent
// calls for the same credential share one request. The result is discarded
// if the credential changed while it was in flight.
func (m *Manager) RefreshProfile(ctx context.Context) (*api.UserProfile, error) {
	m.mu.Lock()
	gen := m.generation
	authenticated := m.state == StateAuthenticated
	m.mu.Unlock()

	if !authenticated {
		return nil, errors.NewNotAuthenticatedError()
	}

	v, err, _ := m.profiles.Do(strconv.FormatUint(gen, 10), func() (any, error) {
		return m.backend.Me(ctx)
	})
	if err != nil {
		return nil, err
	}
	profile := v.(*api.UserProfile)

	m.mu.Lock()
	current := m.generation == gen
	if current {
		m.profile = profile
	}
	m.mu.Unlock()

	if !current {
		return nil, errors.New(errors.ErrCodeNotAuthenticated, "credential changed while the profile was loading")
	}
	m.notify()
	return profile, nil
}

// refreshProfileAsync is the fire-and-forget refinement after a credential
// change. Its failure never reverts the session; a 401 reaches Expire
// through the API client like any other request.
func (m *Manager) refreshProfileAsync(ctx context.Context, gen uint64) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), profileTimeout)

	m.pending.Add(1)
	go func() {
		defer m.pending.Done()
		defer cancel()

		m.mu.Lock()
		stale := m.generation != gen
		m.mu.Unlock()
		if stale {
			return
		}

		if _, err := m.RefreshProfile(ctx); err != nil {
			m.logger.WithError(err).Debug("profile refresh failed")
		}
	}()
}

// Wait blocks until background profile refreshes have finished
func (m *Manager) Wait() {
	m.pending.Wait()
}

// Register creates an account. It does not log in.
func (m *Manager) Register(ctx context.Context, req api.RegisterRequest) (*api.RegisterResponse, error) {
	resp, err := m.backend.Register(ctx, req)
	if err != nil {
		return nil, err
	}
	m.logger.Info("account registered", "email", req.Email)
	return resp, nil
}
