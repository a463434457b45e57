package admin

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/queeriouslabs/secbot/internal/audit"
)

// WriteDecisions prints one page of the audit trail as a table.
func WriteDecisions(w io.Writer, res *audit.ListResult, loc *time.Location) error {
	if loc == nil {
		loc = time.Local
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSOURCE\tIDENTITY\tPERM\tRESULT\tLEVEL")
	for _, d := range res.Decisions {
		result := "denied (" + d.Reason + ")"
		if d.Granted {
			result = "granted"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			d.OccurredAt.In(loc).Format(time.DateTime),
			d.SourceID,
			orDash(d.Identity),
			d.Perm,
			result,
			orDash(d.Level))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d of %d decisions (offset %d)\n", len(res.Decisions), res.Total, res.Offset)
	return err
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
