package api

import (
	"context"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/felixgeelhaar/bodega/internal/credential"
	"github.com/felixgeelhaar/bodega/internal/errors"
)

// Backend endpoints
const (
	PathLogin    = "/auth/login"
	PathRegister = "/auth/register"
	PathMe       = "/auth/me"
	PathMetrics  = "/superadmin/metrics"
)

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse represents a login response
type LoginResponse struct {
	Token string `json:"token"`
}

// RegisterRequest creates an account together with its company.
// The wire names are the ones the backend expects.
type RegisterRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	CompanyName  string `json:"nombreEmpresa"`
	BusinessType string `json:"tipoNegocio"`
}

// RegisterResponse is the backend's acknowledgement of a registration
type RegisterResponse struct {
	Message string `json:"message"`
}

// UserProfile is the account behind the current credential
type UserProfile struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Role         string `json:"role"`
	Organization string `json:"organization"`
}

// organizationKeys are the fields different backend versions use for the
// company name
var organizationKeys = []string{"organization", "companyName", "nombreEmpresa", "empresa"}

// UnmarshalJSON accepts numeric or string ids and the several names the
// backend has used for the organization.
func (p *UserProfile) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return errors.New(errors.ErrCodeUnexpectedResponse, "user profile is not valid JSON")
	}
	parsed := gjson.ParseBytes(data)
	if !parsed.IsObject() {
		return errors.New(errors.ErrCodeUnexpectedResponse, "user profile is not a JSON object")
	}

	p.ID = parsed.Get("id").String()
	p.Email = parsed.Get("email").String()
	p.Role = firstString(parsed, "role", "rol")
	p.Organization = firstString(parsed, organizationKeys...)
	return nil
}

func firstString(r gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := r.Get(k); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

// Login exchanges email and password for a credential. The credential is
// returned, not stored; storing it is the session's decision.
func (c *Client) Login(ctx context.Context, email, password string) (credential.Credential, error) {
	resp, err := c.DoAnonymous(ctx, http.MethodPost, PathLogin, LoginRequest{
		Email:    email,
		Password: password,
	})
	if err != nil {
		return "", err
	}

	var loginResp LoginResponse
	if err := DecodeJSON(resp, &loginResp); err != nil {
		return "", err
	}
	if loginResp.Token == "" {
		return "", errors.New(errors.ErrCodeUnexpectedResponse, "login response did not contain a token").
			WithStatus(resp.StatusCode)
	}

	return credential.Credential(loginResp.Token), nil
}

// Register creates a new account. It does not log in.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	resp, err := c.DoAnonymous(ctx, http.MethodPost, PathRegister, req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, ReadError(resp)
	}
	defer resp.Body.Close()

	out := &RegisterResponse{Message: "Account created. You can now log in."}
	body, _ := readLimited(resp)
	if msg := gjson.GetBytes(body, "message"); msg.Type == gjson.String && msg.String() != "" {
		out.Message = msg.String()
	}
	return out, nil
}

// Me fetches the profile of the current credential
func (c *Client) Me(ctx context.Context) (*UserProfile, error) {
	resp, err := c.Do(ctx, http.MethodGet, PathMe, nil)
	if err != nil {
		return nil, err
	}

	var profile UserProfile
	if err := DecodeJSON(resp, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}
