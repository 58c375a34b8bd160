package migration

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"github.com/gosuri/uitable"
	"github.com/rflorenc/ipam-migrator/internal/models"
)

// maxListedFailures bounds how many failures per entity the console report
// prints; the JSON report carries all of them.
const maxListedFailures = 20

// WriteReport prints a per-entity table of outcomes followed by the failures.
func WriteReport(w io.Writer, s models.Summary) error {
	title := "Summary"
	if s.DryRun {
		title = "[DRY RUN] Summary"
	}
	if s.Interrupted {
		title += " (interrupted)"
	}
	if _, err := fmt.Fprintf(w, "\n%s\n", title); err != nil {
		return err
	}

	table := uitable.New()
	table.MaxColWidth = 60
	table.Wrap = true
	for _, col := range []int{1, 2, 3, 4} {
		table.RightAlign(col)
	}
	table.AddRow("Entity", "Processed", "Created", "Skipped", "Failed", "Notes")
	var processed int
	for _, e := range s.Entities {
		processed += e.Processed
		table.AddRow(e.Kind.Label(), e.Processed, e.Created, e.Skipped, e.Failed, notes(e))
	}
	created, skipped, failed := s.Totals()
	table.AddRow("", "", "", "", "", "")
	table.AddRow("Total", processed, created, skipped, failed, "")
	if _, err := fmt.Fprintln(w, table); err != nil {
		return err
	}

	for _, e := range s.Entities {
		if len(e.Failures) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%s failures:\n", e.Kind.Label())
		ft := uitable.New()
		ft.MaxColWidth = 100
		ft.Wrap = true
		ft.AddRow("Source ID", "Key", "Reason")
		for i, f := range e.Failures {
			if i == maxListedFailures {
				ft.AddRow("...", fmt.Sprintf("%d more", len(e.Failures)-i), "")
				break
			}
			ft.AddRow(f.SourceID, f.Key, f.Reason)
		}
		if _, err := fmt.Fprintln(w, ft); err != nil {
			return err
		}
	}

	if s.Interrupted || s.Error != "" {
		fmt.Fprintln(w, "\nYou can safely re-run the migration; records that already exist are skipped.")
	}
	return nil
}

// notes summarizes skip reasons and listing errors for one entity row.
func notes(e models.EntitySummary) string {
	var out string
	for _, reason := range slices.Sorted(maps.Keys(e.SkipReasons)) {
		if out != "" {
			out += "; "
		}
		out += fmt.Sprintf("%s: %d", reason, e.SkipReasons[reason])
	}
	if e.Error != "" {
		if out != "" {
			out += "; "
		}
		out += "listing stopped: " + e.Error
	}
	return out
}

// WriteReportFile stores the summary as indented JSON.
func WriteReportFile(path string, s models.Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}
