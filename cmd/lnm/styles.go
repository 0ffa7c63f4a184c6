package main

import (
	"fmt"
	"strings"
	"time"

	"lnm/internal/battle"
	"lnm/internal/ingest"

	"github.com/charmbracelet/lipgloss"
)

var (
	accent      = lipgloss.Color("#8BC34A")
	destructive = lipgloss.Color("#e53935")
	warning     = lipgloss.Color("#FFC107")
	muted       = lipgloss.Color("#6b7280")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(accent)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(accent)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(destructive)
	warnStyle    = lipgloss.NewStyle().Foreground(warning)
	boxStyle     = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent).
			Padding(0, 1)
)

func renderImportReport(dbPath string, r *ingest.Report) string {
	rows := []string{
		titleStyle.Render("Import complete"),
		mutedStyle.Render(dbPath),
		"",
		fmt.Sprintf("files    %d (%d skipped)", r.Files, r.Skipped),
		fmt.Sprintf("topics   %d inserted, %d ignored", r.TopicsInserted, r.TopicsIgnored),
		fmt.Sprintf("posts    %d inserted, %d ignored", r.PostsInserted, r.PostsIgnored),
	}
	if r.Dropped > 0 {
		rows = append(rows, warnStyle.Render(fmt.Sprintf("dropped  %d rows without id", r.Dropped)))
	}
	rows = append(rows, mutedStyle.Render("took "+r.Duration.Round(time.Millisecond).String()))
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func renderBattle(initial battle.State, res battle.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", mutedStyle.Render("start    "+initial.Attacker.String()+"  vs  "+initial.Defender.String()))
	for i, st := range res.Log {
		fmt.Fprintf(&b, "phase %d  %s  vs  %s\n", i+1, st.Attacker, st.Defender)
	}
	outcome := errorStyle.Render("defender holds")
	if res.AttackerWon {
		outcome = successStyle.Render("attacker wins")
	}
	header := lipgloss.JoinHorizontal(lipgloss.Center,
		titleStyle.Render("Battle"), "  ",
		outcome, "  ",
		mutedStyle.Render(fmt.Sprintf("after %d phases", len(res.Log))),
	)
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, header, "", strings.TrimRight(b.String(), "\n")))
}
