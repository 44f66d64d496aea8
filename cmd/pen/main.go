package main

import (
	"context"
	"fmt"
	"os"

	"github.com/phantompen/pen/internal/app"
	"github.com/phantompen/pen/internal/logging"
	"github.com/phantompen/pen/internal/mcp"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"serve": true, "mcp": true,
	"create": true, "blank": true, "fetch": true, "update": true, "title": true,
	"visibility": true, "delete": true, "list": true, "search": true,
	"memoirs": true, "regenerate": true, "schedule": true,
	"transcribe": true, "uploads": true, "user": true, "token": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	if isHelpOrVersion() {
		return true
	}
	// Global flags such as --user come before the subcommand.
	for _, a := range os.Args[1:] {
		if cliCommands[a] {
			return true
		}
	}
	return false
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
   ___  ___ _ __
  | _ \/ -_) '  \
  | .__/\___|_||_|
  |_|

  Phantom Pen: voice notes into memoir

  Usage: pen <command> [options]
         pen --help

  MCP server mode requires piped input.`)
}

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return 0
	}

	// Help and version need no data directory.
	if isHelpOrVersion() {
		if err := newCLIApp(nil).Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		return 0
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	cliMode := isCLIMode()
	if !cliMode && len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'pen --help' for usage.\n")
		return 1
	}

	baseDir := os.Getenv("PEN_DATA_DIR")
	if baseDir == "" {
		dir, err := app.DefaultDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		baseDir = dir
	}

	// Logs always go to stderr; in MCP mode stdout belongs to the transport.
	a, err := app.Open(baseDir, app.Options{LogOutput: os.Stderr})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer a.Close()

	if cliMode {
		err = newCLIApp(a).Run(os.Args)
	} else {
		err = runMCP(a)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// runMCP serves MCP over stdio after warning about unknown disabled tools.
func runMCP(a *app.App) error {
	log := a.Log.WithField(logging.FieldComponent, "mcp")
	if unknown := mcp.ValidateDisabledTools(a.Cfg.DisabledTools); len(unknown) > 0 {
		log.WithField("tools", unknown).Warn("ignoring unknown disabled_tools")
	}
	if unknown := mcp.ValidateDisabledTypes(a.Cfg.DisabledTypes); len(unknown) > 0 {
		log.WithField("types", unknown).Warn("ignoring unknown disabled_types")
	}
	if a.Cfg.MCPUser == "" {
		log.Warn("mcp_user is not configured; tool calls will be rejected")
	}
	if _, err := a.Recover(context.Background()); err != nil {
		log.WithError(err).Warn("schedule recovery failed")
	}
	return mcp.Run(a.Env, Version)
}
