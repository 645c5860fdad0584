package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dgellow/orgctl/internal/organization"
	"github.com/dgellow/orgctl/internal/session"
)

var (
	headerStyle   = lipgloss.NewStyle().Bold(true)
	activeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	inactiveStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	successStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	labelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

// RenderOrganizations lays out orgs as a table.
func RenderOrganizations(orgs []organization.Organization) string {
	if len(orgs) == 0 {
		return inactiveStyle.Render("No organizations found.")
	}

	rows := [][]string{{"ID", "NAME", "STATUS", "CREATED", "DESCRIPTION"}}
	for _, o := range orgs {
		rows = append(rows, []string{
			strconv.Itoa(o.ID),
			o.Name,
			status(o.IsActive),
			o.CreatedAt.Format("2006-01-02"),
			deref(o.Description),
		})
	}

	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	var b strings.Builder
	for r, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			style := lipgloss.NewStyle().Width(widths[i] + 2)
			switch {
			case r == 0:
				style = style.Inherit(headerStyle)
			case i == 2 && cell == "active":
				style = style.Inherit(activeStyle)
			case i == 2:
				style = style.Inherit(inactiveStyle)
			}
			cells[i] = style.Render(cell)
		}
		b.WriteString(strings.TrimRight(lipgloss.JoinHorizontal(lipgloss.Top, cells...), " "))
		b.WriteByte('\n')
	}
	return b.String()
}

// RenderOrganization shows a single organization as labelled lines.
func RenderOrganization(o *organization.Organization) string {
	lines := []string{
		field("ID", strconv.Itoa(o.ID)),
		field("Name", o.Name),
		field("Status", status(o.IsActive)),
		field("Created", o.CreatedAt.Format("2006-01-02 15:04:05 MST")),
	}
	if o.Description != nil {
		lines = append(lines, field("Description", *o.Description))
	}
	return strings.Join(lines, "\n") + "\n"
}

// RenderSession describes who is signed in.
func RenderSession(st session.State) string {
	switch st.Phase() {
	case session.Authenticated:
		lines := []string{
			field("Signed in as", st.User.Email),
			field("User ID", st.User.ID),
		}
		if !st.Session.ExpiresAt.IsZero() {
			lines = append(lines, field("Expires", st.Session.ExpiresAt.Local().Format("2006-01-02 15:04:05")))
		}
		return strings.Join(lines, "\n") + "\n"
	case session.Bootstrapping:
		return inactiveStyle.Render("Checking session...") + "\n"
	default:
		return inactiveStyle.Render("Not signed in. Run `orgctl login`.") + "\n"
	}
}

func Success(format string, args ...any) string {
	return successStyle.Render(fmt.Sprintf(format, args...))
}

func Error(format string, args ...any) string {
	return errorStyle.Render(fmt.Sprintf(format, args...))
}

func field(label, value string) string {
	return labelStyle.Render(fmt.Sprintf("%-13s", label+":")) + " " + value
}

func status(active bool) string {
	if active {
		return "active"
	}
	return "inactive"
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
