// ABOUTME: CLI entrypoint for the fluxchat server.
// ABOUTME: Loads configuration, wires the tool registry and engine, and runs until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fluxchat/fluxchat/web"
)

var version = "dev"

func main() {
	loadDotEnv(".env")
	os.Exit(run())
}

func run() int {
	var (
		configPath  string
		showVersion bool
	)
	fs := flag.NewFlagSet("fluxchat", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "fluxchat.yaml", "Path to configuration file")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if showVersion {
		fmt.Printf("fluxchat %s\n", version)
		return 0
	}

	cfg, err := web.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	toolset, err := web.BuildToolRegistry(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	server, err := web.NewServer(cfg, toolset)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = server.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.ListenAndServe(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
