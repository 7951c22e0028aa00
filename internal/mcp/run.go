package mcp

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dvdjg/mcp-winuae-emu/internal/dbg"
	"github.com/dvdjg/mcp-winuae-emu/internal/rsp"
)

const Version = "0.1.0"

func Run(args []string) {
	var (
		attach  string
		verbose bool
		timeout time.Duration
	)
	mcpFlags := flag.NewFlagSet("serve", flag.ExitOnError)
	mcpFlags.StringVar(&attach, "attach", "", "attach to an already running stub at host:port instead of waiting for a launch tool call")
	mcpFlags.BoolVar(&verbose, "verbose", false, "log protocol traffic to stderr")
	mcpFlags.DurationVar(&timeout, "timeout", 0, "override the per-command reply timeout")
	if err := mcpFlags.Parse(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Stdout carries the MCP session, so all logging goes to stderr.
	logger := log.New(os.Stderr, "", log.LstdFlags)
	opts := rsp.Options{CommandTimeout: timeout}
	if verbose {
		opts.Logf = logger.Printf
	}

	d := dbg.New(opts)
	defer d.Detach()
	if attach != "" {
		if err := d.Attach(attach); err != nil {
			logger.Fatal(err)
		}
	}

	if err := NewServer(Version, d).ServeStdio(); err != nil {
		logger.Fatal(err)
	}
}
