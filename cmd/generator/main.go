package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/eventlake/eventlake/pkg/generate"
)

func main() {
	rows := flag.Int("rows", 500, "number of events to generate")
	users := flag.Int("users", 200, "number of distinct users")
	lateRate := flag.Float64("late-rate", 0.05, "share of late events (0..1)")
	dupRate := flag.Float64("dup-rate", 0.01, "share of duplicated events (0..1)")
	outDir := flag.String("out", "data/incoming", "output directory")
	seed := flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flag.Parse()

	gen := generate.New(generate.Config{
		Rows:     *rows,
		Users:    *users,
		LateRate: *lateRate,
		DupRate:  *dupRate,
	}, *seed)

	events := gen.Events()

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create output dir: %v\n", err)
		os.Exit(1)
	}

	name := fmt.Sprintf("events_%s_%d.jsonl", time.Now().UTC().Format("20060102T150405Z"), len(events))
	path := filepath.Join(*outDir, name)

	f, err := os.Create(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create output file: %v\n", err)
		os.Exit(1)
	}

	if err := generate.WriteJSONL(f, events); err != nil {
		f.Close()
		fmt.Fprintf(os.Stderr, "failed to write events: %v\n", err)
		os.Exit(1)
	}
	if err := f.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to close output file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("generated %d events -> %s\n", len(events), path)
}
