package cmd

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/bodega/internal/errors"
	"github.com/felixgeelhaar/bodega/internal/session"
	"github.com/felixgeelhaar/bodega/internal/token"
	"github.com/felixgeelhaar/bodega/internal/tui"
	"github.com/felixgeelhaar/bodega/internal/ux"
)

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage your session",
		Long: `Manage the session stored for the Bodega backend.

Subcommands:
  login     Log in with email and password
  logout    Log out and remove the stored credential
  status    Show who is logged in
  register  Create an account

Examples:
  bodega auth login --email ana@example.com
  bodega auth status --format json
  bodega auth logout`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(
		newAuthLoginCmd(),
		newAuthLogoutCmd(),
		newAuthStatusCmd(),
		newAuthRegisterCmd(),
	)
	return cmd
}

// sessionReport is the structured output of login and status
type sessionReport struct {
	State        string     `json:"state" yaml:"state"`
	Role         string     `json:"role,omitempty" yaml:"role,omitempty"`
	Email        string     `json:"email,omitempty" yaml:"email,omitempty"`
	Organization string     `json:"organization,omitempty" yaml:"organization,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	Credential   string     `json:"credential,omitempty" yaml:"credential,omitempty"`
	APIURL       string     `json:"api_url" yaml:"api_url"`
}

func newSessionReport(rt *runtime, s session.Session) sessionReport {
	r := sessionReport{
		State:  s.State.String(),
		APIURL: rt.client.BaseURL(),
	}
	if !s.Authenticated() {
		return r
	}

	r.Role = s.Role.String()
	r.Credential = s.Credential.Fingerprint()
	if claims, err := token.NewDecoder().Claims(s.Credential); err == nil {
		r.Email = claims.Email
		if !claims.ExpiresAt.IsZero() {
			exp := claims.ExpiresAt
			r.ExpiresAt = &exp
		}
	}
	if s.Profile != nil {
		if s.Profile.Email != "" {
			r.Email = s.Profile.Email
		}
		r.Organization = s.Profile.Organization
	}
	return r
}

func (r sessionReport) fields() ux.Fields {
	fields := ux.Fields{{Label: "State", Value: r.State}}
	if r.Role != "" {
		fields = append(fields, ux.Field{Label: "Role", Value: r.Role})
	}
	if r.Email != "" {
		fields = append(fields, ux.Field{Label: "Email", Value: r.Email})
	}
	if r.Organization != "" {
		fields = append(fields, ux.Field{Label: "Organization", Value: r.Organization})
	}
	if r.ExpiresAt != nil {
		fields = append(fields, ux.Field{Label: "Expires", Value: r.ExpiresAt.Local().Format(time.RFC1123)})
	}
	if r.Credential != "" {
		fields = append(fields, ux.Field{Label: "Credential", Value: r.Credential})
	}
	return append(fields, ux.Field{Label: "Server", Value: r.APIURL})
}

func newAuthLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with email and password",
		Long: `Log in to the Bodega backend. The credential is kept in the configured
store (~/.bodega/credentials.json by default) until you log out or the
server rejects it.

Missing values are prompted for on a terminal.

Examples:
  bodega auth login --email ana@example.com
  echo "$PASSWORD" | bodega auth login --email ana@example.com --password-stdin`,
		Args: cobra.NoArgs,
		RunE: withRuntime(runtimeOptions{}, runAuthLogin),
	}

	cmd.Flags().String("email", "", "account email")
	cmd.Flags().String("password", "", "account password")
	cmd.Flags().Bool("password-stdin", false, "read the password from stdin")
	return cmd
}

func runAuthLogin(cmd *cobra.Command, args []string, cc *CommandContext, rt *runtime) error {
	in := tui.LoginInput{}
	in.Email, _ = cmd.Flags().GetString("email")
	in.Password, _ = cmd.Flags().GetString("password")

	if fromStdin, _ := cmd.Flags().GetBool("password-stdin"); fromStdin {
		password, err := readLine(cmd)
		if err != nil {
			return err
		}
		in.Password = password
	}

	if in.Email == "" || in.Password == "" {
		if !tui.ShouldPrompt() {
			return missingFlags(map[string]string{"email": in.Email, "password": in.Password})
		}
		if err := tui.PromptLogin(&in); err != nil {
			return ux.EnhanceError(err)
		}
	}

	if err := rt.session.Login(rt.ctx, strings.TrimSpace(in.Email), in.Password); err != nil {
		return err
	}

	if _, err := rt.session.RefreshProfile(rt.ctx); err != nil {
		rt.logger.WithError(err).Warn("Logged in but the profile could not be loaded")
	}

	report := newSessionReport(rt, rt.session.Snapshot())
	return cc.Output(cmd, ux.Report{
		Data:    report,
		Message: fmt.Sprintf("Logged in as %s.", report.Role),
		Text:    report.fields(),
	})
}

func newAuthLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log out and remove the stored credential",
		Args:  cobra.NoArgs,
		RunE:  withRuntime(runtimeOptions{}, runAuthLogout),
	}
}

func runAuthLogout(cmd *cobra.Command, args []string, cc *CommandContext, rt *runtime) error {
	_, hadCredential, err := rt.store.Get(rt.ctx)
	if err != nil {
		rt.logger.WithError(err).Warn("Credential store unreadable, clearing it anyway")
		hadCredential = true
	}

	if err := rt.session.Logout(rt.ctx); err != nil {
		return err
	}

	msg := "Logged out."
	if !hadCredential {
		msg = "Not logged in."
	}
	return cc.Output(cmd, ux.Report{
		Data:    map[string]bool{"logged_out": hadCredential},
		Message: msg,
	})
}

func newAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show who is logged in",
		Long: `Show the current session. The stored credential is decoded locally and
the profile is fetched from GET /auth/me; a credential the server rejects
is removed.

Exits with status 5 when nobody is logged in.`,
		Args: cobra.NoArgs,
		RunE: withRuntime(runtimeOptions{}, runAuthStatus),
	}
}

func runAuthStatus(cmd *cobra.Command, args []string, cc *CommandContext, rt *runtime) error {
	if err := rt.session.Mount(rt.ctx); err != nil {
		return err
	}

	if rt.session.Snapshot().Authenticated() {
		if _, err := rt.session.RefreshProfile(rt.ctx); err != nil {
			if errors.CodeOf(err) != errors.ErrCodeAuthExpired {
				return err
			}
			// Expire has already cleared the store; report it as logged out
		}
	}

	snap := rt.session.Snapshot()
	if !snap.Authenticated() {
		return errors.NewNotAuthenticatedError()
	}

	report := newSessionReport(rt, snap)
	return cc.Output(cmd, ux.Report{Data: report, Text: report.fields()})
}

func newAuthRegisterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Long: `Create an account on the Bodega backend. Registering does not log you in.

Business types: Retail/Tienda, Manufactura, Distribución/Mayorista,
Servicios, or any other value.

Examples:
  bodega auth register --email ana@example.com --company "Ferretería Ana" --business-type Servicios`,
		Args: cobra.NoArgs,
		RunE: withRuntime(runtimeOptions{}, runAuthRegister),
	}

	cmd.Flags().String("email", "", "account email")
	cmd.Flags().String("password", "", "account password")
	cmd.Flags().Bool("password-stdin", false, "read the password from stdin")
	cmd.Flags().String("company", "", "company name")
	cmd.Flags().String("business-type", "", "business type")
	return cmd
}

func runAuthRegister(cmd *cobra.Command, args []string, cc *CommandContext, rt *runtime) error {
	in := tui.RegisterInput{}
	in.Email, _ = cmd.Flags().GetString("email")
	in.Password, _ = cmd.Flags().GetString("password")
	in.CompanyName, _ = cmd.Flags().GetString("company")
	in.BusinessType, _ = cmd.Flags().GetString("business-type")

	if fromStdin, _ := cmd.Flags().GetBool("password-stdin"); fromStdin {
		password, err := readLine(cmd)
		if err != nil {
			return err
		}
		in.Password = password
	}

	missing := map[string]string{
		"email":         in.Email,
		"password":      in.Password,
		"company":       in.CompanyName,
		"business-type": in.BusinessType,
	}
	if hasEmpty(missing) {
		if !tui.ShouldPrompt() {
			return missingFlags(missing)
		}
		if err := tui.PromptRegister(&in); err != nil {
			return ux.EnhanceError(err)
		}
	}

	req := in.Request()
	resp, err := rt.session.Register(rt.ctx, req)
	if err != nil {
		return err
	}

	msg := resp.Message
	if msg == "" {
		msg = "Account created."
	}
	return cc.Output(cmd, ux.Report{
		Data: registerReport{Email: req.Email, Message: resp.Message},
		Message: msg,
		Text:    ux.Fields{{Label: "Next", Value: "bodega auth login --email " + req.Email}},
	})
}

type registerReport struct {
	Email   string `json:"email" yaml:"email"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

func readLine(cmd *cobra.Command) (string, error) {
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read password from stdin: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func hasEmpty(values map[string]string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			return true
		}
	}
	return false
}

// missingFlags reports unset flags the way cobra does, so the exit code is
// a usage error
func missingFlags(values map[string]string) error {
	var names []string
	for _, name := range []string{"email", "password", "company", "business-type"} {
		if v, ok := values[name]; ok && strings.TrimSpace(v) == "" {
			names = append(names, fmt.Sprintf("%q", name))
		}
	}
	return fmt.Errorf("required flag(s) %s not set", strings.Join(names, ", "))
}
