// Package ui renders sync results and graph status for the terminal.
// Adaptive light/dark styling; plain text when the terminal reports no
// color support.
package ui

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/specsync/specsync/internal/engine"
	"github.com/specsync/specsync/internal/graph"
	"github.com/specsync/specsync/internal/registry"
	"github.com/specsync/specsync/internal/specdoc"
	"github.com/specsync/specsync/internal/store"
)

var (
	colorPass = lipgloss.AdaptiveColor{Light: "#86b300", Dark: "#c2d94c"}
	colorWarn = lipgloss.AdaptiveColor{Light: "#f2ae49", Dark: "#ffb454"}
	colorFail = lipgloss.AdaptiveColor{Light: "#f07171", Dark: "#f07178"}
	colorMute = lipgloss.AdaptiveColor{Light: "#828c99", Dark: "#6c7680"}
	colorHead = lipgloss.AdaptiveColor{Light: "#399ee6", Dark: "#59c2ff"}

	passStyle = lipgloss.NewStyle().Foreground(colorPass)
	warnStyle = lipgloss.NewStyle().Foreground(colorWarn)
	failStyle = lipgloss.NewStyle().Foreground(colorFail)
	muteStyle = lipgloss.NewStyle().Foreground(colorMute)
	headStyle = lipgloss.NewStyle().Bold(true).Foreground(colorHead)
)

// plain is set when the terminal advertises no color support.
var plain = termenv.EnvColorProfile() == termenv.Ascii

func render(s lipgloss.Style, text string) string {
	if plain {
		return text
	}
	return s.Render(text)
}

// Width returns the terminal width, or 80 when stdout is not a terminal.
func Width() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return 80
}

// RenderSyncResult formats one sync outcome as a single line.
func RenderSyncResult(res *engine.SyncResult) string {
	if res.Empty() {
		return render(muteStyle, fmt.Sprintf("%s: up to date (%d unchanged)", res.SpecID, res.Unchanged))
	}
	parts := []string{}
	if res.Created > 0 {
		parts = append(parts, render(passStyle, fmt.Sprintf("+%d created", res.Created)))
	}
	if res.Updated > 0 {
		parts = append(parts, render(warnStyle, fmt.Sprintf("~%d updated", res.Updated)))
	}
	if res.Deleted > 0 {
		parts = append(parts, render(failStyle, fmt.Sprintf("-%d deleted", res.Deleted)))
	}
	if res.Unchanged > 0 {
		parts = append(parts, render(muteStyle, fmt.Sprintf("%d unchanged", res.Unchanged)))
	}
	return fmt.Sprintf("%s: %s", render(headStyle, res.SpecID), strings.Join(parts, ", "))
}

// RenderGraph formats a graph summary: validity, completion, and the
// items in dependency order with their status.
func RenderGraph(g *graph.Graph) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "%s\n", render(headStyle, g.SpecID()))
	if !g.Valid() {
		fmt.Fprintf(&sb, "  %s\n", render(failStyle, "✗ invalid graph, excluded from sync"))
		for _, e := range g.Errors() {
			fmt.Fprintf(&sb, "    %s\n", render(failStyle, e.Error()))
		}
		return sb.String()
	}

	fmt.Fprintf(&sb, "  %s  %d items\n",
		render(passStyle, fmt.Sprintf("%d%% complete", g.CompletionPercent())), g.Len())

	for _, tagID := range g.TopologicalOrder() {
		item := g.Item(tagID)
		icon := render(muteStyle, "○")
		if item.Status == specdoc.StatusComplete {
			icon = render(passStyle, "✓")
		}
		line := fmt.Sprintf("  %s %s %s", icon, tagID, item.Title)
		if len(item.DependencyIDs) > 0 {
			line += render(muteStyle, "  (after "+strings.Join(item.DependencyIDs, ", ")+")")
		}
		sb.WriteString(truncate(line, Width()) + "\n")
	}
	return sb.String()
}

// RenderWarnings formats parse warnings, one per line.
func RenderWarnings(warnings []specdoc.ParseWarning) string {
	var sb strings.Builder
	for _, w := range warnings {
		fmt.Fprintf(&sb, "%s %s\n", render(warnStyle, "⚠"), w)
	}
	return sb.String()
}

// RenderProjects formats the registered-project list.
func RenderProjects(projects []registry.ProjectInfo) string {
	if len(projects) == 0 {
		return render(muteStyle, "no projects registered") + "\n"
	}
	var sb strings.Builder
	for _, p := range projects {
		state := render(passStyle, "watching")
		if p.Degraded {
			state = render(failStyle, "degraded")
		}
		fmt.Fprintf(&sb, "%s  %s  %s\n", render(headStyle, p.Name), p.SpecRoot, state)
	}
	return sb.String()
}

// RenderTasks formats stored records grouped under their spec.
func RenderTasks(recs []*store.TaskRecord) string {
	var sb strings.Builder
	for _, r := range recs {
		icon := render(muteStyle, "○")
		if r.Status == string(specdoc.StatusComplete) {
			icon = render(passStyle, "✓")
		}
		origin := ""
		if r.Origin == store.OriginManual {
			origin = render(muteStyle, " [manual]")
		}
		fmt.Fprintf(&sb, "%s %s %s%s\n", icon, r.DisplayID, r.Title, origin)
	}
	return sb.String()
}

func truncate(s string, width int) string {
	if width <= 3 || len(s) <= width {
		return s
	}
	return s[:width-3] + "..."
}
