package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/omaskery/tracemodel/pkg/importer"
	"github.com/omaskery/tracemodel/pkg/model"
)

func main() {
	path := "trace.json"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		abortWithErr("failed to read trace file", err)
	}

	if !importer.CanImport(contents) {
		abort(fmt.Sprintf("%s does not look like a trace event stream", path))
	}

	imp := trackWarnings()
	m, err := importer.Import(contents, imp.options()...)
	if err != nil {
		abortWithErr("failed to import trace", err)
	}

	printProcessTable(m)
	printCounters(m)
	printMemoryDumps(m)
	printWarnings(imp.warnings)
}

// warningTracker captures the importer's warnings so they can be summarised
// after the tables
type warningTracker struct {
	warnings []importer.Warning
}

func trackWarnings() *warningTracker {
	return &warningTracker{}
}

func (w *warningTracker) options() []importer.Option {
	return []importer.Option{
		importer.WithWarningHandler(func(warning importer.Warning) {
			w.warnings = append(w.warnings, warning)
		}),
	}
}

func printProcessTable(m *model.Model) {
	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeaderAutoFormat(tw.Off),
	)
	table.Header([]string{"process", "threads", "slices", "async", "objects"})

	for _, process := range m.Processes() {
		slices := 0
		async := 0
		for _, thread := range process.Threads() {
			slices += len(thread.SliceGroup.Slices())
			async += len(thread.AsyncSliceGroup.Slices())
		}
		table.Append([]string{
			process.UserFriendlyName(),
			fmt.Sprintf("%d", len(process.Threads())),
			fmt.Sprintf("%d", slices),
			fmt.Sprintf("%d", async),
			fmt.Sprintf("%d", len(process.Objects.Instances())),
		})
	}
	table.Render()

	bounds := m.Bounds()
	if !bounds.IsEmpty() {
		fmt.Printf("trace spans %.3fms to %.3fms (%.3fms)\n", bounds.Min(), bounds.Max(), bounds.Range())
	}
	fmt.Printf("flow events: %d\n", len(m.FlowEvents()))
}

func printCounters(m *model.Model) {
	for _, process := range m.Processes() {
		for _, counter := range process.Counters() {
			fmt.Printf("counter %s: %d series, %d samples\n",
				counter.Name(), counter.NumSeries(), counter.NumSamples())
		}
	}
}

func printMemoryDumps(m *model.Model) {
	for _, dump := range m.GlobalMemoryDumps() {
		fmt.Printf("memory dump at %.3fms (%s detail):\n", dump.Start, dump.LevelOfDetail)
		for _, pd := range dump.ProcessDumps() {
			if pd.Totals == nil {
				fmt.Printf("  %s: no totals\n", pd.ContainerName())
				continue
			}
			fmt.Printf("  %s: %s resident\n",
				pd.ContainerName(), humanize.IBytes(pd.Totals.ResidentBytes))
		}
	}
}

func printWarnings(warnings []importer.Warning) {
	if len(warnings) == 0 {
		return
	}
	yellow := color.New(color.FgYellow)
	_, _ = yellow.Fprintf(os.Stderr, "%d warnings during import\n", len(warnings))
	seen := map[importer.WarningType]struct{}{}
	for _, warning := range warnings {
		if _, dup := seen[warning.Type]; dup {
			continue
		}
		seen[warning.Type] = struct{}{}
		_, _ = yellow.Fprintf(os.Stderr, "  %s: %s\n", warning.Type, warning.Message)
	}
}

func abortWithErr(reason string, err error) {
	abort(fmt.Sprintf("%s: %v", reason, err))
}

func abort(reason string) {
	_, err := os.Stderr.WriteString(reason + "\n")
	if err != nil {
		panic(fmt.Sprintf("failed while writing error to terminal: %v", err))
	}
	os.Exit(1)
}
