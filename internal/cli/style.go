package cli

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/arturoeanton/storefront-dashboard/internal/domain"
)

var (
	// Colors
	Primary = lipgloss.Color("#7C3AED")
	Green   = lipgloss.Color("#10B981")
	Red     = lipgloss.Color("#EF4444")
	Yellow  = lipgloss.Color("#F59E0B")
	Cyan    = lipgloss.Color("#06B6D4")
	Dim     = lipgloss.Color("#6B7280")

	Title   = lipgloss.NewStyle().Bold(true).Foreground(Primary)
	Bold    = lipgloss.NewStyle().Bold(true)
	DimText = lipgloss.NewStyle().Foreground(Dim)
	Link    = lipgloss.NewStyle().Foreground(Cyan).Underline(true)

	Success = lipgloss.NewStyle().Foreground(Green).Bold(true)
	Failure = lipgloss.NewStyle().Foreground(Red).Bold(true)
	Pending = lipgloss.NewStyle().Foreground(Yellow)
)

// StatusBadge renders a deployment status with a colored dot.
func StatusBadge(status domain.DeploymentStatus) string {
	switch status {
	case domain.DeploymentDeployed:
		return Success.Render("● " + string(status))
	case domain.DeploymentFailed, domain.DeploymentTimedOut:
		return Failure.Render("● " + string(status))
	case "":
		return DimText.Render("● unknown")
	default:
		return Pending.Render("● " + string(status))
	}
}
