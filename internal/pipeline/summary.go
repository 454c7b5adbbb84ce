package pipeline

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/me/mowctt/pkg/model"
)

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
}

// PrintRunSummary prints a formatted summary of a run: its key, the
// counters of the combinators and the recorded front.
func PrintRunSummary(w io.Writer, run *model.Run) {
	if run == nil {
		return
	}
	k := run.Key
	st := run.Stats

	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Run Summary ===")
	fmt.Fprintf(w, "Run: %s\n", run.ID)
	fmt.Fprintf(w, "Instance: %s\n", k.Instance)
	fmt.Fprintf(w, "Algorithm: %s", k.Algorithm)
	if k.ConflictStrategy != "" {
		fmt.Fprintf(w, " (%s, %s)", k.ConflictStrategy, k.Combinator)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Solver: %s, %s, -O%d, %d cores, timeout %s\n",
		k.Solver, k.CPStrategy, k.FZNOptimisation, k.Cores, formatDuration(k.Timeout))

	status := "✓ " + run.State.String()
	if run.State != model.RunStateCompleted {
		status = "✗ " + run.State.String()
	}
	fmt.Fprintf(w, "Status: %s", status)
	if run.CompletedAt != nil {
		fmt.Fprintf(w, " in %s", formatDuration(run.CompletedAt.Sub(run.CreatedAt)))
	}
	if run.Exhaustive {
		fmt.Fprint(w, ", problem completely explored")
	}
	fmt.Fprintln(w)
	if run.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", run.Error)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Engine: %d calls, %d solutions, %s\n", st.EngineCalls, st.EngineSolutions, formatDuration(st.EngineTime))
	if st.OracleCalls > 0 {
		fmt.Fprintf(w, "Oracle: %d calls, %d accepted, %d rejected, %s\n",
			st.OracleCalls, st.OracleAccepted, st.OracleRejected, formatDuration(st.OracleTime))
	}
	if st.Backtracks > 0 {
		fmt.Fprintf(w, "Backtracks: %d\n", st.Backtracks)
	}
	if run.HypervolumeBefore != nil {
		fmt.Fprintf(w, "Hypervolume: %g (%g before filtering)\n", run.Hypervolume, *run.HypervolumeBefore)
	} else {
		fmt.Fprintf(w, "Hypervolume: %g\n", run.Hypervolume)
	}
	fmt.Fprintln(w)

	if len(run.Front) > 0 {
		maxObjLen := 10 // "Objectives"
		for _, sol := range run.Front {
			if n := len(sol.String()); n > maxObjLen {
				maxObjLen = n
			}
		}
		fmt.Fprintf(w, "%-*s  %10s  %s\n", maxObjLen, "Objectives", "Found", "Verdict")
		fmt.Fprintln(w, strings.Repeat("-", maxObjLen+24))
		for _, sol := range run.Front {
			fmt.Fprintf(w, "%-*s  %10s  %s\n", maxObjLen, sol.String(), formatDuration(sol.Elapsed), sol.Verdict.Status)
		}
		fmt.Fprintln(w, strings.Repeat("-", maxObjLen+24))
	}
	fmt.Fprintf(w, "Front: %d solutions\n", run.FrontSize)
	fmt.Fprintln(w)
}
