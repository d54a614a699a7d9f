package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"evalgo.org/deployer/internal/orchestration"
	"evalgo.org/deployer/models"
)

var outputFormat string

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// progressPrinter renders deployment events as they happen. JSON output
// emits one event per line instead.
func progressPrinter(w io.Writer, asJSON bool) orchestration.PublisherFunc {
	return func(e orchestration.Event) {
		if asJSON {
			_ = json.NewEncoder(w).Encode(e)
			return
		}
		switch e.Type {
		case orchestration.EventPhase:
			fmt.Fprintf(w, "[%3d%%] %s\n", e.Progress, e.Phase)
		case orchestration.EventLog:
			if e.Log != nil && e.Log.Level != models.LogLevelDebug {
				fmt.Fprintf(w, "       %-5s %s\n", e.Log.Level, e.Log.Message)
			}
		}
	}
}

func printResult(w io.Writer, res *models.BuilderResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintf(tw, "DEPLOYMENT\t%s\n", res.DeploymentID)
	fmt.Fprintf(tw, "STATUS\t%s\n", res.Status)
	if len(res.ContainerIDs) > 0 {
		fmt.Fprintf(tw, "CONTAINERS\t%s\n", strings.Join(shortIDs(res.ContainerIDs), ", "))
	}
	if res.Domain != "" {
		fmt.Fprintf(tw, "DOMAIN\t%s\n", res.Domain)
	}
	if res.HealthCheckURL != "" {
		fmt.Fprintf(tw, "HEALTH\t%s\n", res.HealthCheckURL)
	}
	fmt.Fprintf(tw, "MESSAGE\t%s\n", res.Message)

	keys := make([]string, 0, len(res.Metadata))
	for k := range res.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(tw, "  %s\t%v\n", k, res.Metadata[k])
	}
}

func shortIDs(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		if len(id) > 12 {
			id = id[:12]
		}
		out[i] = id
	}
	return out
}
