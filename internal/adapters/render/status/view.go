package status

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bnema/accountctl/internal/domain"
	"github.com/charmbracelet/lipgloss"
)

type RenderOptions struct {
	Now time.Time
}

func renderJob(job domain.Job, opts RenderOptions, s styles) string {
	succeeded, failed := job.Counts()
	total := len(job.Accounts)

	lines := []string{
		s.title.Render(fmt.Sprintf("Job %s (%s)", job.ID, job.Kind)),
		s.header.Render(fmt.Sprintf("status: %s  accounts: %d  %s", job.Status, total, elapsedLabel(job, opts.Now))),
	}
	if job.StopReason != "" {
		lines = append(lines, s.warning.Render("stopped: "+job.StopReason))
	}

	if total == 0 {
		lines = append(lines, s.empty.Render("No accounts in this job."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	lines = append(lines, progressLine(succeeded, failed, total, s))

	accounts := make([]string, 0, total)
	for _, result := range job.Accounts {
		accounts = append(accounts, accountLine(result, s))
	}
	lines = append(lines, s.section.Render(lipgloss.JoinVertical(lipgloss.Left, accounts...)))

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func progressLine(succeeded, failed, total int, s styles) string {
	donePercent := 100 * float64(succeeded+failed) / float64(total)
	bar := renderProgressBar(donePercent, 24, s)
	percentStyle := lipgloss.NewStyle().Foreground(interpolateColor(donePercent, 0, 100))

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.key.Render("progress:"),
		" ",
		bar,
		" ",
		percentStyle.Render(fmt.Sprintf("%d/%d done", succeeded+failed, total)),
		" ",
		s.meta.Render(fmt.Sprintf("(%d ok, %d failed)", succeeded, failed)),
	)
}

func accountLine(result domain.AccountResult, s styles) string {
	parts := []string{
		s.account.Render(string(result.AccountID)),
		outcomeLabel(result.Outcome, s),
	}
	if result.AuthMethod != "" {
		parts = append(parts, s.meta.Render("via "+string(result.AuthMethod)))
	}
	if result.Runs > 1 || result.Succeeded > 1 {
		parts = append(parts, s.meta.Render(fmt.Sprintf("runs %d/%d", result.Succeeded, result.Runs)))
	}

	line := strings.Join(parts, " ")
	if result.ErrorKind == "" {
		return line
	}

	detail := string(result.ErrorKind)
	if result.Reason != "" {
		detail += ": " + result.Reason
	}
	if result.Remediation != "" {
		detail += " (" + result.Remediation + ")"
	}

	return lipgloss.JoinVertical(lipgloss.Left, line, s.detail.Render("  "+detail))
}

func outcomeLabel(outcome domain.AccountOutcome, s styles) string {
	switch outcome {
	case domain.OutcomeSucceeded:
		return s.success.Render(string(outcome))
	case domain.OutcomeFailed:
		return s.warning.Render(string(outcome))
	case domain.OutcomeStopped, domain.OutcomePending:
		return s.empty.Render(string(outcome))
	default:
		return s.detail.Render(string(outcome))
	}
}

func elapsedLabel(job domain.Job, now time.Time) string {
	if job.StartedAt.IsZero() {
		return ""
	}

	end := now
	if job.EndedAt != nil {
		end = *job.EndedAt
	}
	if end.IsZero() {
		return "started " + job.StartedAt.Format(time.RFC3339)
	}

	return "elapsed " + end.Sub(job.StartedAt).Round(time.Second).String()
}

func renderSessions(sessions []domain.SessionSummary, opts RenderOptions, s styles) string {
	lines := []string{
		s.title.Render("Cached Sessions"),
		s.header.Render(fmt.Sprintf("sessions: %d", len(sessions))),
	}

	if len(sessions) == 0 {
		lines = append(lines, s.empty.Render("No cached sessions."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	for _, session := range sessions {
		lines = append(lines, s.section.Render(sessionBlock(session, opts, s)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func sessionBlock(session domain.SessionSummary, opts RenderOptions, s styles) string {
	title := s.account.Render(string(session.AccountID))
	if !session.Valid {
		title += " " + s.warning.Render("[expired]")
	}

	expiry := sessionExpiry(session)
	expiryStyle := lipgloss.NewStyle().Foreground(expiryColor(expiry, opts.Now))

	proxy := session.BoundProxy
	if proxy == "" {
		proxy = "direct"
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		title,
		lipgloss.JoinHorizontal(
			lipgloss.Top,
			s.key.Render("expiry:"),
			" ",
			expiryStyle.Render(formatRelative("expires", expiry, opts.Now)),
		),
		s.detail.Render(fmt.Sprintf("proxy: %s  uses: %d  cookies: %d", proxy, session.UseCount, session.CookieCount)),
	)
}

// sessionExpiry is the earlier of the absolute and cookie-derived expiries.
func sessionExpiry(session domain.SessionSummary) time.Time {
	if session.SessionExpiry.IsZero() {
		return session.AbsoluteExpiry
	}
	if session.AbsoluteExpiry.IsZero() || session.SessionExpiry.Before(session.AbsoluteExpiry) {
		return session.SessionExpiry
	}
	return session.AbsoluteExpiry
}

func renderProgressBar(donePercent float64, width int, s styles) string {
	if width <= 0 {
		return ""
	}

	done := clampPercent(donePercent)
	filled := int(math.Round(float64(width) * done / 100.0))
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}

	empty := width - filled
	fillSegment := s.barFill.Render(strings.Repeat("=", filled))
	emptySegment := s.barEmpty.Render(strings.Repeat("-", empty))

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.barBracket.Render("["),
		fillSegment,
		emptySegment,
		s.barBracket.Render("]"),
	)
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func formatAt(at, now time.Time) string {
	if at.IsZero() {
		return "unknown"
	}
	if now.IsZero() {
		return at.Format(time.RFC3339)
	}

	yearA, monthA, dayA := now.Date()
	yearB, monthB, dayB := at.Date()
	if yearA == yearB && monthA == monthB && dayA == dayB {
		return at.Format("15:04")
	}

	return at.Format("15:04 on 02 Jan")
}

// formatRelative renders "<verb> in N hours (15:04)" style labels.
func formatRelative(verb string, at, now time.Time) string {
	if now.IsZero() || at.IsZero() {
		return verb + " " + formatAt(at, now)
	}

	if !at.After(now) {
		return verb + " now"
	}

	remaining := at.Sub(now)
	if remaining < 24*time.Hour {
		hours := int(math.Ceil(remaining.Hours()))
		if hours < 1 {
			hours = 1
		}
		suffix := "hours"
		if hours == 1 {
			suffix = "hour"
		}
		return fmt.Sprintf("%s in %d %s (%s)", verb, hours, suffix, at.Format("15:04"))
	}

	days := int(math.Ceil(remaining.Hours() / 24))
	if days < 1 {
		days = 1
	}
	suffix := "days"
	if days == 1 {
		suffix = "day"
	}

	return fmt.Sprintf("%s in %d %s (%s)", verb, days, suffix, at.Format("15:04 on 02 Jan"))
}

func interpolateColor(value, min, max float64) lipgloss.Color {
	if max == min {
		return lipgloss.Color("255")
	}

	normalized := (value - min) / (max - min)
	if normalized < 0 {
		normalized = 0
	}
	if normalized > 1 {
		normalized = 1
	}

	// Greyscale ramp: 240 faded at min, 255 bright at max.
	baseColor := 240.0
	targetColor := 255.0

	interpolated := baseColor + (targetColor-baseColor)*normalized
	colorCode := int(interpolated)

	return lipgloss.Color(fmt.Sprintf("%d", colorCode))
}

// expiryColor brightens as the session approaches expiry over a 7 day ramp.
func expiryColor(expiry, now time.Time) lipgloss.Color {
	if now.IsZero() || expiry.IsZero() || !expiry.After(now) {
		return lipgloss.Color("255")
	}

	maxDuration := 7 * 24 * time.Hour
	inverted := maxDuration.Seconds() - expiry.Sub(now).Seconds()
	return interpolateColor(inverted, 0, maxDuration.Seconds())
}
