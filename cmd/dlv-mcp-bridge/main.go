// Command dlv-mcp-bridge is the composition root: it builds the adapter
// registry and the session manager, then serves either the MCP tool surface
// over stdio or the operator console, defaulting on an isatty check when
// neither mode is forced.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/dlv-mcp/bridge/adapter"
	"github.com/dlv-mcp/bridge/internal/logging"
	"github.com/dlv-mcp/bridge/mcp"
	"github.com/dlv-mcp/bridge/sessionmgr"
	"github.com/dlv-mcp/bridge/tui"
)

func main() {
	dlvPath := flag.String("dlv-path", "dlv", "path to the dlv binary, for external delve sessions")
	embedded := flag.Bool("embedded-delve", false, "run delve's DAP server in-process instead of shelling out to dlv")
	clientID := flag.String("client-id", "dlv-mcp-bridge", "client identifier sent in every session's initialize request")
	forceTUI := flag.Bool("tui", false, "force the operator console even when stdout is not a terminal")
	forceServe := flag.Bool("serve", false, "force MCP stdio serving even when stdout is a terminal")
	flag.Parse()

	logFile, err := logging.InitFileLogger()
	if err != nil {
		log.Fatalf("failed to initialize logging: %v", err)
	}
	defer logFile.Close()

	mode := adapter.ModeExternal
	if *embedded {
		mode = adapter.ModeEmbedded
	}

	delveAdapter := adapter.NewDelveAdapter(mode)
	delveAdapter.DlvPath = *dlvPath

	registry := adapter.NewRegistry(delveAdapter)
	manager := sessionmgr.New(registry, *clientID)
	defer func() {
		if err := manager.CloseAll(context.Background()); err != nil {
			log.Printf("error closing sessions on shutdown: %v", err)
		}
		manager.Shutdown()
	}()

	runTUI := *forceTUI || (!*forceServe && isatty.IsTerminal(os.Stdout.Fd()))

	if runTUI {
		if err := tui.RunTUI(manager, *clientID); err != nil {
			log.Fatalf("console error: %v", err)
		}
		return
	}

	server := mcp.NewServer(manager)
	if err := server.Serve(); err != nil {
		log.Fatalf("MCP server error: %v", err)
	}
}
