package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/rmax-ai/fhirgraph/pkg/client"
	"github.com/rmax-ai/fhirgraph/pkg/config"
	"github.com/rmax-ai/fhirgraph/pkg/mcp"
)

func main() {
	target := os.Getenv("FHIRGRAPH_TARGET")
	if target == "" {
		target = client.DefaultTarget
	}
	logLevel := os.Getenv("FHIRGRAPH_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "warn"
	}
	flag.StringVar(&target, "target", target, "address of the fhirgraph-d daemon")
	flag.StringVar(&logLevel, "log-level", logLevel, "debug|info|warn|error")
	flag.Parse()

	level, err := config.ParseLogLevel(logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fhirgraph-mcp: %v\n", err)
		os.Exit(2)
	}
	// stdout carries the protocol
	config.SetupLogging(os.Stderr, level, "fhirgraph-mcp")

	c, err := client.Dial(target)
	if err != nil {
		slog.Error("failed_to_dial_daemon", "target", target, "error", err)
		os.Exit(1)
	}
	defer c.Close()

	s := mcp.NewServer(c)
	if err := s.Serve(); err != nil {
		slog.Error("mcp_server_error", "error", err)
		os.Exit(1)
	}
}
