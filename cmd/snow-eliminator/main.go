package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/snow.eliminator/internal/version"
)

var (
	configFile  = flag.String("config", "", "Path to configuration file, .json, .yaml or .yml (built-in defaults when empty)")
	devMode     = flag.Bool("dev", false, "Use simulated devices replaying -fixtures")
	fixtures    = flag.String("fixtures", "fixtures/scans.jsonl", "Scan fixtures replayed in dev mode")
	port        = flag.String("port", "", "Scanner serial port (overrides config; ignored in dev mode)")
	listen      = flag.String("listen", "", "Debug HTTP listen address (overrides config; \"-\" disables)")
	healthAddr  = flag.String("health", "", "gRPC health service listen address (overrides config; \"-\" disables)")
	journalPath = flag.String("journal", "", "Run journal sqlite path (overrides config; \"-\" disables)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("snow-eliminator %s\n", version.String())
		return
	}

	opts := options{
		configPath:    *configFile,
		dev:           *devMode,
		fixtures:      *fixtures,
		port:          *port,
		listen:        *listen,
		health:        *healthAddr,
		journal:       *journalPath,
		frameInterval: 100 * time.Millisecond,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	log.Printf("snow-eliminator %s starting", version.String())
	term, err := run(ctx, opts)
	stop()

	fmt.Println(describe(term, err))
	os.Exit(exitCode(term, err))
}
