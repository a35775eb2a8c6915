package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/fgeck/wakesleep/internal/models"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("5")).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	borderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

func renderTable(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	return t.String()
}

func printSuccess(format string, args ...any) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

func printWarn(format string, args ...any) {
	fmt.Println(warnStyle.Render(fmt.Sprintf(format, args...)))
}

func printError(format string, args ...any) {
	fmt.Println(errorStyle.Render(fmt.Sprintf(format, args...)))
}

func statusLabel(r models.ProbeResult) string {
	switch r.Verdict {
	case models.VerdictAwake:
		return successStyle.Render("Awake")
	case models.VerdictErrored:
		return errorStyle.Render("Unknown")
	default:
		return warnStyle.Render("Sleeping")
	}
}

func viaLabel(r models.ProbeResult) string {
	switch r.Channel {
	case models.ChannelTCP:
		return fmt.Sprintf("tcp/%d", r.Port)
	case models.ChannelICMP:
		return "icmp"
	default:
		return "-"
	}
}

func rttLabel(r models.ProbeResult) string {
	if !r.Awake {
		return "-"
	}
	return r.RTT.Round(100 * time.Microsecond).String()
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func credentialLabel(d models.Device) string {
	if !d.HasCredential() {
		return "-"
	}
	switch d.Credential.Mode() {
	case models.CredentialKeyFile:
		return d.Credential.Username + " (key)"
	default:
		return d.Credential.Username + " (password)"
	}
}
