// Package cli provides CLI output utilities for Kagami.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hyperjump/kagami/internal/models"
	"github.com/hyperjump/kagami/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates an -output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch s {
	case "", "text":
		return OutputText, nil
	case "json":
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

// WriteJob writes one job to w in the given format.
func WriteJob(w io.Writer, job *models.Job, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, job)
	}
	fmt.Fprintf(w, "Job %s  [%s]\n", job.ID, job.Status)
	fmt.Fprintf(w, "  Progress: %d%% (%d/%d, %d errors)\n", job.Progress, job.ProcessedCount, job.Total, job.ErrorCount)
	if job.CurrentType != "" {
		fmt.Fprintf(w, "  Current type: %s\n", job.CurrentType)
	}
	if job.LastError != "" {
		fmt.Fprintf(w, "  Last error: %s\n", job.LastError)
	}
	fmt.Fprintf(w, "  Started: %s\n", job.StartedAt.Format("2006-01-02 15:04:05"))
	if job.CompletedAt != nil {
		fmt.Fprintf(w, "  Completed: %s\n", job.CompletedAt.Format("2006-01-02 15:04:05"))
	} else if job.EstimatedCompletion != nil {
		fmt.Fprintf(w, "  Estimated completion: %s\n", job.EstimatedCompletion.Format("2006-01-02 15:04:05"))
	}
	return nil
}

// WriteJobs writes a job list to w in the given format.
func WriteJobs(w io.Writer, jobs []*models.Job, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, jobs)
	}
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No active jobs")
		return nil
	}
	for _, job := range jobs {
		fmt.Fprintf(w, "%s  %-9s  %3d%%  %d/%d  errors=%d\n",
			job.ID, job.Status, job.Progress, job.ProcessedCount, job.Total, job.ErrorCount)
	}
	return nil
}

// WriteMatches writes search matches to w in the given format.
func WriteMatches(w io.Writer, matches []*models.SearchMatch, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, matches)
	}
	if len(matches) == 0 {
		fmt.Fprintln(w, "No matches")
		return nil
	}
	for i, match := range matches {
		fmt.Fprintf(w, "%2d. [%.4f] %s/%s\n", i+1, match.Similarity, match.EntityType, match.EntityID)
		if match.Text != "" {
			fmt.Fprintf(w, "    %s\n", utils.Truncate(match.Text, 160))
		}
	}
	return nil
}

// WriteSettings writes configuration rows to w in the given format.
func WriteSettings(w io.Writer, settings []*models.ServerSetting, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, settings)
	}
	for _, setting := range settings {
		fmt.Fprintf(w, "%-24s = %s\n", setting.Key, setting.Value)
		if setting.Description != "" {
			fmt.Fprintf(w, "%-24s   %s\n", "", setting.Description)
		}
	}
	return nil
}

// WriteHistory writes job history rows to w in the given format.
func WriteHistory(w io.Writer, entries []*models.HistoryEntry, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "No history")
		return nil
	}
	for _, entry := range entries {
		line := fmt.Sprintf("%s  %-17s", entry.CreatedAt.Format("15:04:05"), entry.Action)
		if entry.EntityType != "" {
			line += fmt.Sprintf("  %s", entry.EntityType)
			if entry.EntityID != "" {
				line += "/" + entry.EntityID
			}
		}
		if entry.Details != "" {
			line += "  " + utils.Truncate(entry.Details, 120)
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
