package simulate

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
)

// WriteJSON writes the report as indented JSON.
func (rep *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

// WriteText writes a table with one row per session followed by totals.
func (rep *Report) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tRISK\tTIER\tALERTS\tENDED\tRESULT")
	for i := range rep.Sessions {
		r := &rep.Sessions[i]
		result := "ok"
		if !r.Passed() {
			result = "FAIL: " + strings.Join(r.Failures, "; ")
		}
		fmt.Fprintf(tw, "%s\t%.2f\t%s\t%d\t%t\t%s\n", r.SessionID, r.Risk, r.Tier, r.Alerts, r.Ended, result)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n%d passed, %d failed in %s\n", rep.Passed, rep.Failed, rep.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "events: %d accepted, %d duplicate, %d dropped\n", rep.Accepted, rep.Duplicates, rep.Dropped)
	fmt.Fprintf(w, "top entries: %d\n", rep.TopEntries)
	for _, warn := range rep.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warn)
	}
	return nil
}
