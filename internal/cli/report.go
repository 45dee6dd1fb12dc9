package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/ZanzyTHEbar/lintscale"
)

const (
	formatText = "text"
	formatJSON = "json"
)

func writeJSON(w io.Writer, result *lintscale.RunResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// writeText prints one line per diagnostic followed by a per-tool summary.
func writeText(w io.Writer, result *lintscale.RunResult) error {
	for _, d := range result.Diagnostics {
		loc := fmt.Sprintf("%s:%d", d.Path, d.Line)
		if d.Column > 0 {
			loc = fmt.Sprintf("%s:%d", loc, d.Column)
		}
		code := ""
		if d.Code != "" {
			code = " [" + d.Code + "]"
		}
		if _, err := fmt.Fprintf(w, "%s: %s: %s%s (%s)\n", loc, d.Severity, d.Message, code, d.ToolID); err != nil {
			return err
		}
	}
	if len(result.Diagnostics) > 0 {
		fmt.Fprintln(w)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TOOL\tPHASE\tSTATUS\tERRORS\tWARNINGS\tNOTES\tTIME")
	for _, t := range result.Tools {
		status := string(t.Status)
		if t.CacheHit {
			status += " (cached)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n", t.ToolID, t.Phase, status, t.Errors, t.Warnings, t.Notes, t.Duration.Round(time.Millisecond))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	s := result.Stats
	_, err := fmt.Fprintf(w, "\n%d diagnostics, %d suppressed, %d deduplicated; %d/%d tasks, %d cached, %d failed, %d skipped in %s\n",
		len(result.Diagnostics), result.Suppressed, result.Deduplicated,
		s.Completed, s.Planned, s.CacheHits, s.Failed, s.Skipped, s.Duration.Round(time.Millisecond))
	if err == nil && result.Cancelled {
		_, err = fmt.Fprintln(w, "run cancelled; results are partial")
	}
	return err
}
