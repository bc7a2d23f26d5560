// Package render formats match results and playbook state for the CLI.
package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/miethe/boxbrain/internal/match"
	"github.com/miethe/boxbrain/internal/models"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	headerStyle = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	recommendedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2")) // Green

	statusNotStarted = lipgloss.NewStyle().Foreground(lipgloss.Color("8")) // Gray
	statusInProgress = lipgloss.NewStyle().Foreground(lipgloss.Color("6")) // Cyan
	statusCompleted  = lipgloss.NewStyle().Foreground(lipgloss.Color("2")) // Green
	statusSkipped    = lipgloss.NewStyle().Foreground(lipgloss.Color("3")) // Yellow
)

func formatStageStatus(status models.StageStatus) string {
	switch status {
	case models.StageNotStarted:
		return statusNotStarted.Render("○ not started")
	case models.StageInProgress:
		return statusInProgress.Render("● in progress")
	case models.StageCompleted:
		return statusCompleted.Render("● completed")
	case models.StageSkipped:
		return statusSkipped.Render("● skipped")
	default:
		return string(status)
	}
}

// MatchTable renders ranked plays as a table, recommended plays marked.
func MatchTable(ranked []match.RankedPlay) string {
	if len(ranked) == 0 {
		return dimStyle.Render("No plays matched.")
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Matched Plays"))
	b.WriteString("\n\n")
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-5s %-40s %-20s %s", "SCORE", "PLAY", "OFFERING", "")))
	b.WriteString("\n")

	for _, r := range ranked {
		marker := ""
		if r.Recommended {
			marker = recommendedStyle.Render("★ recommended")
		}
		b.WriteString(fmt.Sprintf("%-5d %-40s %-20s %s\n",
			r.Score, truncate(r.Play.Title, 40), truncate(r.Play.Offering, 20), marker))
	}
	return b.String()
}

// PlaybookStatus renders an opportunity's attached plays with stage
// progress. Template titles come from the catalog; unknown ids fall
// back to the raw play id.
func PlaybookStatus(opp *models.Opportunity, titles map[string]string) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(opp.Name))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("%s · %s · %s", opp.AccountName, opp.SalesStage, opp.Status)))
	b.WriteString("\n")

	if len(opp.TeamMemberUserIDs) > 0 {
		b.WriteString(fmt.Sprintf("Team: %s\n", strings.Join(opp.TeamMemberUserIDs, ", ")))
	}

	if len(opp.OpportunityPlays) == 0 {
		b.WriteString(dimStyle.Render("\nNo plays attached."))
		b.WriteString("\n")
		return b.String()
	}

	for _, ap := range opp.OpportunityPlays {
		title := titles[ap.PlayID]
		if title == "" {
			title = ap.PlayID
		}
		label := title
		if ap.IsPrimary {
			label += " " + recommendedStyle.Render("(primary)")
		}
		b.WriteString("\n")
		b.WriteString(headerStyle.Render(label))
		b.WriteString("\n")

		done := 0
		for _, si := range ap.StageInstances {
			if si.Status == models.StageCompleted {
				done++
			}
			b.WriteString(fmt.Sprintf("  %-20s %s\n", si.PlayStageKey, formatStageStatus(si.Status)))
		}
		b.WriteString(dimStyle.Render(fmt.Sprintf("  %d/%d stages completed", done, len(ap.StageInstances))))
		b.WriteString("\n")
	}
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
