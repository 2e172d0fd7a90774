package status

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/callcenter/dialer/internal/model"
	"github.com/callcenter/dialer/internal/store"
)

// History is the output of `dialer history`.
type History struct {
	Calls        []model.CallLogEntry      `json:"calls"`
	Ratings      []model.Classification    `json:"ratings"`
	Dispositions map[model.Disposition]int `json:"dispositions"`
}

// RunHistory prints the most recent call logs and ratings from the local journal.
func RunHistory(ctx context.Context, storePath string, limit int, jsonOutput bool, w io.Writer) error {
	if limit <= 0 {
		limit = 20
	}
	db, err := store.Open(storePath)
	if err != nil {
		return err
	}
	defer db.Close()

	var h History
	if h.Calls, err = db.RecentCallLogs(ctx, limit); err != nil {
		return err
	}
	if h.Ratings, err = db.RecentClassifications(ctx, limit); err != nil {
		return err
	}
	if h.Dispositions, err = db.DispositionCounts(ctx); err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(h)
	}
	printHistory(w, h)
	return nil
}

func printHistory(w io.Writer, h History) {
	if len(h.Calls) == 0 {
		fmt.Fprintln(w, "No calls recorded.")
	} else {
		fmt.Fprintln(w, "Calls:")
		fmt.Fprintf(w, "  %-20s  %-16s  %-9s  %8s  %s\n", "STARTED", "NUMBER", "RESULT", "DURATION", "CAUSE")
		for _, c := range h.Calls {
			fmt.Fprintf(w, "  %-20s  %-16s  %-9s  %8s  %s\n",
				c.StartedAt.Local().Format("2006-01-02 15:04:05"), c.Number, c.Disposition, clock(c.DurationSec), orDash(c.FailureCause))
		}
	}

	if len(h.Ratings) > 0 {
		fmt.Fprintln(w, "\nRatings:")
		for _, r := range h.Ratings {
			fmt.Fprintf(w, "  %-20s  %-16s  %d/5  %s\n",
				r.SubmittedAt.Local().Format("2006-01-02 15:04:05"), r.Number, r.Rating, r.Reason)
		}
	}

	if len(h.Dispositions) > 0 {
		keys := make([]string, 0, len(h.Dispositions))
		for d := range h.Dispositions {
			keys = append(keys, string(d))
		}
		sort.Strings(keys)
		fmt.Fprint(w, "\nTotals:")
		for _, k := range keys {
			fmt.Fprintf(w, " %s=%d", k, h.Dispositions[model.Disposition(k)])
		}
		fmt.Fprintln(w)
	}
}
