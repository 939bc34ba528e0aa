package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"vkcrawler/pkg/pipeline"
	"vkcrawler/pkg/storage"
)

// PrintSummary writes the end-of-run counters as a table
func PrintSummary(w io.Writer, snap pipeline.Snapshot) {
	fmt.Fprintf(w, "\n%s %s\n", Magenta("[RUN SUMMARY]"), Dim(snap.RunID))
	fmt.Fprintf(w, "%-10s %10s %8s %8s %8s %11s\n", "", "fetched", "failed", "retried", "skipped", "unavailable")
	rows := []struct {
		name string
		c    pipeline.CountersSnapshot
	}{
		{"posts", snap.Posts},
		{"comments", snap.Comments},
		{"profiles", snap.Profiles},
	}
	for _, r := range rows {
		failed := humanize.Comma(r.c.Failed)
		if r.c.Failed > 0 {
			failed = Red(failed)
		}
		fmt.Fprintf(w, "%-10s %10s %8s %8s %8s %11s\n", r.name,
			humanize.Comma(r.c.Fetched),
			failed,
			humanize.Comma(r.c.Retried),
			humanize.Comma(r.c.Skipped),
			humanize.Comma(r.c.Unavailable),
		)
	}
	fmt.Fprintf(w, "%s %s\n", Cyan("Elapsed:"), snap.Duration.Round(time.Second))
}

// PrintInventory writes what the database holds
func PrintInventory(w io.Writer, path string, inv *storage.Inventory) {
	rows := []struct {
		label string
		n     int
	}{
		{"posts", inv.Posts},
		{"comments", inv.Comments},
		{"profiles", inv.Profiles},
		{"  unavailable", inv.UnavailableProfiles},
		{"posts without comments", len(inv.PostsWithoutComments)},
		{"users without profiles", len(inv.UsersWithoutProfiles)},
	}
	fmt.Fprintf(w, "\n%s %s\n", Magenta("[DATABASE]"), Dim(path))
	for _, r := range rows {
		fmt.Fprintf(w, "%-24s %10s\n", r.label, humanize.Comma(int64(r.n)))
	}
}
