package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/bodega/internal/api"
	"github.com/felixgeelhaar/bodega/internal/config"
	"github.com/felixgeelhaar/bodega/internal/errors"
	"github.com/felixgeelhaar/bodega/internal/router"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, credential and backend",
		Long: `Run diagnostics on the client setup.

Checks include:
  • Configuration file and environment overrides
  • Credential store availability
  • Backend reachability
  • Session role decoded from the stored credential
  • Live /auth/me and /superadmin/metrics responses against the backend contract

A credential the backend rejects is removed, as in every other command.

Examples:
  bodega doctor
  bodega doctor --format json`,
		Args: cobra.NoArgs,
		RunE: runDoctor,
	}
}

// DoctorReport represents the complete health check report
type DoctorReport struct {
	Config    *DoctorCheck `json:"config"`
	Store     *DoctorCheck `json:"store,omitempty"`
	Contract  *DoctorCheck `json:"contract,omitempty"`
	Backend   *DoctorCheck `json:"backend,omitempty"`
	Session   *DoctorCheck `json:"session,omitempty"`
	Profile   *DoctorCheck `json:"profile,omitempty"`
	Metrics   *DoctorCheck `json:"metrics,omitempty"`
	Issues    []string     `json:"issues"`
	Warnings  []string     `json:"warnings"`
	NextSteps []string     `json:"next_steps"`
	Healthy   bool         `json:"healthy"`
}

// DoctorCheck represents a single health check result
type DoctorCheck struct {
	Name    string                 `json:"name"`
	Status  string                 `json:"status"` // "ok", "warning", "error", "skipped"
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (r *DoctorReport) checks() []*DoctorCheck {
	var out []*DoctorCheck
	for _, c := range []*DoctorCheck{r.Config, r.Store, r.Contract, r.Backend, r.Session, r.Profile, r.Metrics} {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

func runDoctor(cmd *cobra.Command, args []string) (err error) {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return fmt.Errorf("failed to create command context: %w", err)
	}

	report := &DoctorReport{
		Issues:    []string{},
		Warnings:  []string{},
		NextSteps: []string{},
	}

	if !checkConfig(cmdCtx, report) {
		return finishReport(cmd, cmdCtx, report)
	}

	rt, err := newRuntime(cmd, cmdCtx, runtimeOptions{})
	if err != nil {
		report.Store = &DoctorCheck{Name: "Credential store", Status: "error", Message: err.Error()}
		report.Issues = append(report.Issues, "Credential store unavailable")
		return finishReport(cmd, cmdCtx, report)
	}
	defer func() { rt.Finish(err) }()

	contract := checkContract(report)
	checkStore(rt, report)
	checkBackend(rt, report)
	checkSession(rt, report)
	checkLiveEndpoints(rt, contract, report)

	return finishReport(cmd, cmdCtx, report)
}

func checkConfig(cc *CommandContext, report *DoctorReport) bool {
	path := cc.ConfigPath
	if path == "" {
		path = config.DefaultPath()
	}

	cfg, err := loadConfig(cc)
	if err != nil {
		report.Config = &DoctorCheck{
			Name:    "Configuration",
			Status:  "error",
			Message: err.Error(),
			Details: map[string]interface{}{"path": path},
		}
		report.Issues = append(report.Issues, "Configuration is invalid")
		report.NextSteps = append(report.NextSteps, "Fix "+path+" or run 'bodega config init'")
		return false
	}

	message := "Loaded " + path
	if _, statErr := os.Stat(path); statErr != nil {
		message = "Using defaults (no file at " + path + ")"
	}
	report.Config = &DoctorCheck{
		Name:    "Configuration",
		Status:  "ok",
		Message: message,
		Details: map[string]interface{}{
			"api_url":       cfg.APIURL,
			"poll_interval": cfg.PollInterval.String(),
			"backend":       cfg.Credentials.Backend,
		},
	}
	return true
}

func checkContract(report *DoctorReport) *api.Contract {
	contract, err := api.LoadContract()
	if err != nil {
		report.Contract = &DoctorCheck{Name: "Backend contract", Status: "error", Message: err.Error()}
		report.Issues = append(report.Issues, "Embedded backend contract does not load")
		return nil
	}

	ops := contract.Operations()
	report.Contract = &DoctorCheck{
		Name:    "Backend contract",
		Status:  "ok",
		Message: fmt.Sprintf("%d operations", len(ops)),
		Details: map[string]interface{}{"operations": ops},
	}
	return contract
}

func checkStore(rt *runtime, report *DoctorReport) {
	check := &DoctorCheck{
		Name:    "Credential store",
		Details: map[string]interface{}{"backend": rt.cfg.Credentials.Backend},
	}
	report.Store = check

	cred, ok, err := rt.store.Get(rt.ctx)
	switch {
	case err != nil:
		check.Status = "error"
		check.Message = err.Error()
		report.Issues = append(report.Issues, "Credential store is unreadable")
	case !ok:
		check.Status = "ok"
		check.Message = "No credential stored"
	default:
		check.Status = "ok"
		check.Message = "Credential " + cred.Fingerprint()
	}
}

func checkBackend(rt *runtime, report *DoctorReport) {
	check := &DoctorCheck{Name: "Backend", Details: map[string]interface{}{"url": rt.client.BaseURL()}}
	report.Backend = check

	ctx, cancel := context.WithTimeout(rt.ctx, 10*time.Second)
	defer cancel()

	start := time.Now()
	resp, err := rt.client.DoAnonymous(ctx, http.MethodGet, api.PathMe, nil)
	latency := time.Since(start)
	if err != nil {
		check.Status = "error"
		check.Message = err.Error()
		report.Issues = append(report.Issues, "Backend is unreachable")
		report.NextSteps = append(report.NextSteps, "Check api_url and that the backend is running")
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	check.Details["latency_ms"] = latency.Milliseconds()
	check.Status = "ok"
	check.Message = fmt.Sprintf("Reachable (latency: %dms)", latency.Milliseconds())
	if latency > 5*time.Second {
		check.Status = "warning"
		check.Message += " - High latency detected"
		report.Warnings = append(report.Warnings, "Backend responds slowly")
	}
}

func checkSession(rt *runtime, report *DoctorReport) {
	check := &DoctorCheck{Name: "Session"}
	report.Session = check

	if err := rt.session.Mount(rt.ctx); err != nil {
		check.Status = "error"
		check.Message = err.Error()
		report.Issues = append(report.Issues, "Session could not be mounted")
		return
	}

	snap := rt.session.Snapshot()
	if !snap.Authenticated() {
		check.Status = "warning"
		check.Message = "Not logged in"
		report.Warnings = append(report.Warnings, "No session; live endpoint checks skipped")
		report.NextSteps = append(report.NextSteps, "Log in with 'bodega auth login'")
		return
	}

	check.Status = "ok"
	check.Message = fmt.Sprintf("%s, routed to the %s view", snap.Role, router.Route(snap))
	check.Details = map[string]interface{}{"role": snap.Role.String()}
}

// checkLiveEndpoints validates real responses against the contract. The
// requests run concurrently.
func checkLiveEndpoints(rt *runtime, contract *api.Contract, report *DoctorReport) {
	snap := rt.session.Snapshot()
	if !snap.Authenticated() || contract == nil {
		return
	}

	paths := map[string]**DoctorCheck{api.PathMe: &report.Profile}
	if router.Route(snap) == router.ViewAdminDashboard {
		paths[api.PathMetrics] = &report.Metrics
	} else {
		report.Metrics = &DoctorCheck{Name: api.PathMetrics, Status: "skipped", Message: "Needs the SuperAdmin role"}
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for path, slot := range paths {
		wg.Add(1)
		go func(path string, slot **DoctorCheck) {
			defer wg.Done()
			check, issue := probeEndpoint(rt, contract, path)

			mu.Lock()
			defer mu.Unlock()
			*slot = check
			if issue != "" {
				report.Issues = append(report.Issues, issue)
			}
		}(path, slot)
	}
	wg.Wait()
}

func probeEndpoint(rt *runtime, contract *api.Contract, path string) (*DoctorCheck, string) {
	check := &DoctorCheck{Name: path}

	ctx, cancel := context.WithTimeout(rt.ctx, 10*time.Second)
	defer cancel()

	resp, err := rt.client.Raw(ctx, http.MethodGet, path, nil)
	if err != nil {
		check.Status = "error"
		check.Message = err.Error()
		if errors.CodeOf(err) == errors.ErrCodeAuthExpired {
			return check, "The backend rejected the stored credential; it has been removed"
		}
		return check, fmt.Sprintf("GET %s failed", path)
	}

	check.Details = map[string]interface{}{"status": resp.Status}
	if err := contract.ValidateResponse(ctx, http.MethodGet, path, resp.Status, resp.Header, resp.Body); err != nil {
		check.Status = "error"
		check.Message = err.Error()
		return check, fmt.Sprintf("GET %s does not match the backend contract", path)
	}

	check.Status = "ok"
	check.Message = fmt.Sprintf("HTTP %d matches the contract", resp.Status)
	return check, ""
}

func finishReport(cmd *cobra.Command, cmdCtx *CommandContext, report *DoctorReport) error {
	report.Healthy = len(report.Issues) == 0

	if cmdCtx.Format == "json" || cmdCtx.Format == "yaml" {
		if err := cmdCtx.Output(cmd, report); err != nil {
			return err
		}
	} else {
		outputText(cmd.OutOrStdout(), report)
	}

	if !report.Healthy {
		return fmt.Errorf("doctor found %d issue(s)", len(report.Issues))
	}
	return nil
}

func outputText(w io.Writer, report *DoctorReport) {
	fmt.Fprintln(w, "Bodega Diagnostics")
	fmt.Fprintln(w)
	for _, check := range report.checks() {
		printCheck(w, check)
	}
	fmt.Fprintln(w)

	printList(w, "Issues:", report.Issues, false)
	printList(w, "Warnings:", report.Warnings, false)
	printList(w, "Next Steps:", report.NextSteps, true)

	if report.Healthy {
		fmt.Fprintln(w, "✓ Ready to use")
		return
	}
	fmt.Fprintln(w, "✗ Setup has issues that need attention")
}

func printList(w io.Writer, title string, items []string, numbered bool) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintln(w, title)
	for i, item := range items {
		if numbered {
			fmt.Fprintf(w, "   %d. %s\n", i+1, item)
		} else {
			fmt.Fprintf(w, "   • %s\n", item)
		}
	}
	fmt.Fprintln(w)
}

func printCheck(w io.Writer, check *DoctorCheck) {
	icon := " "
	switch check.Status {
	case "ok":
		icon = "✓"
	case "warning":
		icon = "⚠"
	case "error":
		icon = "✗"
	case "skipped":
		icon = "○"
	}

	fmt.Fprintf(w, "  %s %s: %s\n", icon, check.Name, check.Message)
}
