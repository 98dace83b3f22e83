// Command snow-report plots a journalled run to an image file and prints
// its summary statistics.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/banshee-data/snow.eliminator/internal/journal"
	"github.com/banshee-data/snow.eliminator/internal/report"
)

var (
	journalPath = flag.String("journal", "eliminator.db", "Run journal sqlite path")
	runID       = flag.String("run", "", "Run ID to plot (latest run when empty)")
	out         = flag.String("out", "", "Output image path (run-<id>.png when empty; .svg and .pdf also work)")
)

func main() {
	flag.Parse()
	if err := generate(*journalPath, *runID, *out); err != nil {
		log.Fatal(err)
	}
}

func generate(path, id, outPath string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("journal %s: %w", path, err)
	}
	j, err := journal.Open(path)
	if err != nil {
		return err
	}
	defer j.Close()

	var run journal.Run
	if id == "" {
		run, err = j.LatestRun()
	} else {
		run, err = j.Run(id)
	}
	if err != nil {
		return err
	}
	cycles, err := j.Cycles(run.RunID)
	if err != nil {
		return err
	}

	if outPath == "" {
		outPath = report.DefaultOutputPath(run.RunID)
	}
	if err := report.ValidateOutputPath(outPath); err != nil {
		return err
	}
	if err := report.Render(run, cycles, outPath); err != nil {
		return err
	}
	log.Printf("wrote %s", outPath)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		journal.Run
		Stats report.Stats `json:"stats"`
	}{run, report.Summarize(cycles)})
}
