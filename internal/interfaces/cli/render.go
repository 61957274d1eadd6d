package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"

	"kilometers.ai/pluginhost/internal/core/domain"
	"kilometers.ai/pluginhost/internal/interfaces/httpapi"
)

const (
	outputText = "text"
	outputJSON = "json"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

func validateOutput(output string) error {
	switch output {
	case outputText, outputJSON:
		return nil
	default:
		return fmt.Errorf("unsupported output format %q (expected %s or %s)", output, outputText, outputJSON)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// renderPreloadResults prints one row per preloaded plugin
func renderPreloadResults(w io.Writer, results []domain.PluginPreloadResult) {
	failed := 0
	for _, r := range results {
		if r.Failed() {
			failed++
		}
	}

	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Preloaded plugins (%d, %d failed)", len(results), failed)))
	if len(results) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No plugins are flagged for preloading."))
		return
	}

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "PLUGIN\tSTATUS\tEXTENSIONS\tDETAILS")
	for _, r := range results {
		status := okStyle.Render("loaded")
		details := extensionTitles(r.ExtensionConfigs)
		if r.Failed() {
			status = errorStyle.Render("failed")
			details = r.ErrorMessage()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", r.PluginID, status, len(r.ExtensionConfigs), truncateString(details, 80))
	}
	tw.Flush()
}

// renderTransformers prints the registered transformers with their origin
func renderTransformers(w io.Writer, views []httpapi.TransformerView) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Registered transformers (%d)", len(views))))
	if len(views) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No transformers registered."))
		return
	}

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPLUGIN\tVERSION")
	for _, v := range views {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", v.ID, v.Name, v.PluginID, v.PluginVersion)
	}
	tw.Flush()
}

// renderFailures prints plugins that could not be loaded
func renderFailures(w io.Writer, failed map[string]error) {
	if len(failed) == 0 {
		return
	}
	fmt.Fprintln(w, errorStyle.Render(fmt.Sprintf("Failed transformer plugins (%d)", len(failed))))
	for _, id := range sortedKeys(failed) {
		fmt.Fprintf(w, "  %s: %v\n", id, failed[id])
	}
}

func extensionTitles(extensions []domain.ExtensionConfig) string {
	titles := make([]string, 0, len(extensions))
	for _, e := range extensions {
		if title := e.Title(); title != "" {
			titles = append(titles, title)
		}
	}
	return strings.Join(titles, ", ")
}

// truncateString truncates a string to the specified length
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
