package tui

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/felixgeelhaar/bodega/internal/api"
	"github.com/felixgeelhaar/bodega/internal/errors"
	"github.com/felixgeelhaar/bodega/internal/poller"
	"github.com/felixgeelhaar/bodega/internal/router"
)

// View renders the current screen
func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	var body string
	switch m.view {
	case router.ViewLoading:
		body = m.renderLoading()
	case router.ViewLanding:
		body = m.renderLanding()
	case router.ViewMain:
		body = m.renderMain()
	case router.ViewAdminDashboard:
		body = m.renderAdmin()
	default:
		body = "Unknown view"
	}
	return lipgloss.NewStyle().Padding(1, 2).Render(body)
}

func (m *Model) renderLoading() string {
	var b strings.Builder
	b.WriteString(m.styles.Title.Render("Bodega"))
	b.WriteString("\n")
	b.WriteString(m.spinner.View() + " Checking your session...")
	return b.String()
}

func (m *Model) renderLanding() string {
	var b strings.Builder

	b.WriteString(m.styles.Title.Render("Bodega"))
	b.WriteString("\n")
	b.WriteString(m.styles.Subtitle.Render("Inventory for small businesses"))
	if m.baseURL != "" {
		b.WriteString("\n")
		b.WriteString(m.styles.Muted.Render(m.baseURL))
	}
	b.WriteString("\n\n")

	if m.notice != "" {
		b.WriteString(m.styles.Success.Render(m.notice))
		b.WriteString("\n\n")
	}
	if m.err != nil {
		b.WriteString(m.renderError(m.err))
		b.WriteString("\n\n")
	}

	switch {
	case m.busy:
		label := "Signing in..."
		if m.mode == landingRegister {
			label = "Creating account..."
		}
		b.WriteString(m.spinner.View() + " " + label)

	case m.form != nil:
		b.WriteString(m.form.View())
		b.WriteString(m.renderHelp(viewKeys{keys.Back, keys.ForceQuit}))

	default:
		b.WriteString("Press l to log in or r to create an account.")
		b.WriteString(m.renderHelp(viewKeys{keys.Login, keys.Register, keys.Quit}))
	}

	return b.String()
}

func (m *Model) renderMain() string {
	var b strings.Builder

	b.WriteString(m.styles.Title.Render("Bodega"))
	b.WriteString("\n")
	b.WriteString(m.styles.Badge.Render(m.sess.Role.String()))
	b.WriteString("\n\n")

	var profile strings.Builder
	if p := m.sess.Profile; p != nil {
		profile.WriteString(m.field("Email", p.Email))
		profile.WriteString(m.field("Organization", p.Organization))
		profile.WriteString(m.field("Account", p.ID))
	} else {
		profile.WriteString(m.styles.Muted.Render("Loading profile..."))
		profile.WriteString("\n")
	}
	profile.WriteString(m.field("Credential", m.sess.Credential.Fingerprint()))
	b.WriteString(m.styles.Border.Render(strings.TrimRight(profile.String(), "\n")))
	b.WriteString("\n\n")

	b.WriteString(m.styles.Muted.Render("Item batches and stock movements are available through 'bodega api'."))
	if m.busy {
		b.WriteString("\n\n" + m.spinner.View() + " Logging out...")
	}
	b.WriteString(m.renderHelp(viewKeys{keys.Logout, keys.Quit}))

	return b.String()
}

func (m *Model) renderAdmin() string {
	var b strings.Builder

	b.WriteString(m.styles.Title.Render("Bodega admin dashboard"))
	b.WriteString("\n")
	b.WriteString(m.renderPollStatus())
	b.WriteString("\n\n")

	if m.poll.State == poller.StateError && m.poll.Err != nil {
		b.WriteString(m.renderError(m.poll.Err))
		b.WriteString("\n")
		b.WriteString(m.styles.Muted.Render("Press r to try again."))
		b.WriteString("\n\n")
	}

	b.WriteString(m.renderSnapshot())

	if m.busy {
		b.WriteString("\n\n" + m.spinner.View() + " Logging out...")
	}
	b.WriteString(m.renderHelp(viewKeys{keys.Refresh, keys.Logout, keys.Quit}))
	return b.String()
}

func (m *Model) renderPollStatus() string {
	switch m.poll.State {
	case poller.StateIdle:
		return m.styles.Muted.Render("Waiting to fetch metrics")
	case poller.StateFetching:
		return m.spinner.View() + " " + m.styles.Status.Render("Fetching metrics...")
	case poller.StateAwaitingRetry:
		interval := poller.DefaultInterval
		if m.poller != nil {
			interval = m.poller.Interval()
		}
		return m.styles.Warning.Render(fmt.Sprintf("Metrics are still being computed, checking again every %s", interval))
	case poller.StateSettled:
		return m.styles.Success.Render("Metrics are up to date")
	case poller.StateError:
		return m.styles.Error.Render("Metrics unavailable")
	}
	return ""
}

func (m *Model) renderSnapshot() string {
	snap := m.poll.Snapshot
	if snap == nil {
		return m.styles.Muted.Render("No metrics yet.")
	}

	var b strings.Builder
	if snap.AsOfDate != "" {
		b.WriteString(m.field("As of", snap.AsOfDate))
	}

	names := snap.Names()
	for _, name := range names {
		b.WriteString(m.field(name, api.FormatAggregate(snap.Aggregates[name])))
	}
	if len(names) == 0 {
		b.WriteString(m.styles.Muted.Render("The snapshot has no aggregates."))
	}

	return m.styles.Border.Render(strings.TrimRight(b.String(), "\n"))
}

func (m *Model) field(label, value string) string {
	if value == "" {
		value = "-"
	}
	return m.styles.Label.Render(label) + m.styles.Value.Render(value) + "\n"
}

// renderError shows the message users can act on. Network failures are
// retryable and say so.
func (m *Model) renderError(err error) string {
	msg := err.Error()
	var be *errors.BodegaError
	if stderrors.As(err, &be) {
		msg = be.Message
	}
	if stderrors.Is(err, errors.ErrNetwork) {
		msg += "\nCould not reach the server. Check your connection and try again."
	}
	return m.styles.Banner.Render(m.styles.Error.Render("Error: ") + msg)
}

func (m *Model) renderHelp(k viewKeys) string {
	return "\n" + m.styles.Help.Render(m.help.View(k))
}

