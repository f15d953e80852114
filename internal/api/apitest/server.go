// Package apitest provides an in-process fake of the inventory backend.
//
// Every request the fake receives for an endpoint in the backend contract is
// validated against it; a violation fails the test.
package apitest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/bodega/internal/api"
	"github.com/felixgeelhaar/bodega/internal/credential"
	"github.com/felixgeelhaar/bodega/internal/token/tokentest"
)

// Request is a request the fake received
type Request struct {
	Method        string
	Path          string
	Authorization string
	RequestID     string
}

type account struct {
	password     string
	role         string
	organization string
}

// Server is a fake backend
type Server struct {
	*httptest.Server

	t        testing.TB
	contract *api.Contract

	mu        sync.Mutex
	accounts  map[string]account
	issued    map[credential.Credential]string
	revoked   map[credential.Credential]bool
	metrics   []string
	requests  []Request
	handlers  map[string]http.HandlerFunc
	nextID    int
	rejectAll bool
}

// New starts a fake backend that is closed when the test ends
func New(t testing.TB) *Server {
	t.Helper()

	contract, err := api.LoadContract()
	if err != nil {
		t.Fatalf("failed to load backend contract: %v", err)
	}

	s := &Server{
		t:        t,
		contract: contract,
		accounts: make(map[string]account),
		issued:   make(map[credential.Credential]string),
		revoked:  make(map[credential.Credential]bool),
		handlers: make(map[string]http.HandlerFunc),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// AddUser registers an account that can log in
func (s *Server) AddUser(email, password, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[email] = account{password: password, role: role, organization: "Bodega Test"}
}

// Issue mints a credential for role that the fake accepts
func (s *Server) Issue(role string) credential.Credential {
	s.t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueLocked(role+"@bodega.test", role)
}

func (s *Server) issueLocked(email, role string) credential.Credential {
	s.nextID++
	c, err := tokentest.Sign(map[string]any{
		"sub":   email,
		"email": email,
		"role":  role,
		"jti":   s.nextID,
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		s.t.Errorf("apitest: failed to sign credential: %v", err)
		return ""
	}
	s.issued[c] = email
	return c
}

// Revoke makes the fake answer 401 to c from now on
func (s *Server) Revoke(c credential.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[c] = true
}

// RejectAll makes every authorized endpoint answer 401
func (s *Server) RejectAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectAll = true
}

// QueueMetrics appends raw JSON bodies served by GET /superadmin/metrics,
// one per call. The last body is repeated once the queue is drained.
func (s *Server) QueueMetrics(bodies ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, bodies...)
}

// Handle serves method+path with h after the bearer check. Use it for
// endpoints outside the contract, such as the CRUD routes.
func (s *Server) Handle(method, path string, h http.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method+" "+path] = h
}

// Requests returns every request received so far
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Count returns how many requests hit method+path
func (s *Server) Count(method, path string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, Request{
		Method:        r.Method,
		Path:          r.URL.Path,
		Authorization: r.Header.Get("Authorization"),
		RequestID:     r.Header.Get(api.RequestIDHeader),
	})
	custom := s.handlers[r.Method+" "+r.URL.Path]
	s.mu.Unlock()

	if custom != nil {
		if _, ok := s.authorize(w, r); ok {
			custom(w, r)
		}
		return
	}

	var handler http.HandlerFunc
	switch r.Method + " " + r.URL.Path {
	case "POST " + api.PathLogin:
		handler = s.login
	case "POST " + api.PathRegister:
		handler = s.register
	case "GET " + api.PathMe:
		handler = s.me
	case "GET " + api.PathMetrics:
		handler = s.serveMetrics
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "not found"})
		return
	}

	if err := s.contract.ValidateRequest(r.Context(), r); err != nil {
		s.t.Errorf("apitest: %v", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	handler(w, r)
}

// authorize resolves the bearer credential to an account email, writing a
// 401 when it is missing, unknown or revoked.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	c := credential.Credential(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))

	s.mu.Lock()
	email, known := s.issued[c]
	ok := known && !s.revoked[c] && !s.rejectAll
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
		return "", false
	}
	return email, true
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid body"})
		return
	}

	s.mu.Lock()
	acct, ok := s.accounts[req.Email]
	if !ok || acct.password != req.Password {
		s.mu.Unlock()
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid email or password"})
		return
	}
	c := s.issueLocked(req.Email, acct.role)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, api.LoginResponse{Token: string(c)})
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid body"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[req.Email]; exists {
		writeJSON(w, http.StatusConflict, map[string]string{"message": "Email already registered"})
		return
	}
	s.accounts[req.Email] = account{password: req.Password, role: "Admin", organization: req.CompanyName}
	writeJSON(w, http.StatusCreated, map[string]string{"message": "User registered"})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	email, ok := s.authorize(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	acct := s.accounts[email]
	s.mu.Unlock()

	role := acct.role
	if role == "" {
		role = strings.SplitN(email, "@", 2)[0]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":           42,
		"email":        email,
		"role":         role,
		"organization": acct.organization,
	})
}

func (s *Server) serveMetrics(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r); !ok {
		return
	}

	s.mu.Lock()
	body := `{"metrics":null,"stillComputing":false}`
	if len(s.metrics) > 0 {
		body = s.metrics[0]
		if len(s.metrics) > 1 {
			s.metrics = s.metrics[1:]
		}
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
