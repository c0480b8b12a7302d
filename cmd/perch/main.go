package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hpungsan/perch/internal/config"
	"github.com/hpungsan/perch/internal/db"
	"github.com/hpungsan/perch/internal/logging"
	"github.com/hpungsan/perch/internal/mcp"
	"github.com/hpungsan/perch/internal/ollama"
	"github.com/hpungsan/perch/internal/ops"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"open": true, "ingest": true, "analyze": true, "action": true,
	"health": true, "pull": true,
	"history": true, "activations": true, "get": true, "export": true,
	"serve": true, "mcp": true,
	"help": true,
}

// commandArg returns the first argument after any leading --verbose flags.
func commandArg() string {
	for _, arg := range os.Args[1:] {
		if arg == "--verbose" || arg == "-V" {
			continue
		}
		return arg
	}
	return ""
}

// isVerbose reports whether --verbose precedes the command.
func isVerbose() bool {
	return len(os.Args) > 1 && (os.Args[1] == "--verbose" || os.Args[1] == "-V")
}

// isCLIMode determines if we should run a CLI command instead of a raw launch.
func isCLIMode() bool {
	arg := commandArg()
	if arg == "" {
		return false
	}
	if cliCommands[arg] {
		return true
	}
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v"
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	arg := commandArg()
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
   ___  ___ ___  ___ _  _
  | _ \| __| _ \/ __| || |
  |  _/| _||   / (__| __ |
  |_|  |___|_|_\\___|_||_|

  Desktop companion for local files and images

  Usage: perch <command> [options]
         perch '{"kind":"files","files":["/path/a.txt"]}'
         perch @/path/to/payload.json
         perch --help

  MCP server mode requires piped input.`)
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion() {
		app := newCLIApp(nil)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	env, cleanup, err := buildEnv(isVerbose())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	// CLI mode: known subcommand
	if isCLIMode() {
		app := newCLIApp(env)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			cleanup()
			os.Exit(1)
		}
		return
	}

	// Any other argument is what the shell integration hands over on launch.
	if commandArg() != "" {
		if err := runLaunch(context.Background(), env, launchArgs()); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			cleanup()
			os.Exit(1)
		}
		return
	}

	// MCP server mode (default for piped stdin)
	if err := mcp.Run(env, Version); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		cleanup()
		os.Exit(1)
	}
}

// launchArgs strips leading --verbose flags from the raw launch arguments.
func launchArgs() []string {
	args := os.Args[1:]
	for len(args) > 0 && (args[0] == "--verbose" || args[0] == "-V") {
		args = args[1:]
	}
	return args
}

// buildEnv opens ~/.perch, loads config, and wires the process-wide operations
// environment. The returned cleanup flushes the logger and closes the database.
func buildEnv(verbose bool) (*ops.Env, func(), error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, nil, fmt.Errorf("could not determine home directory: %w", err)
	}
	baseDir := filepath.Join(homeDir, ".perch")

	cwd, err := os.Getwd()
	if err != nil {
		cwd = baseDir
	}
	cfg, err := config.LoadWithRepo(baseDir, cwd)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(verbose || cfg.Debug)
	if err != nil {
		return nil, nil, err
	}

	database, err := db.Init(baseDir)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	db.ConfigurePool(database, cfg)

	gen := ollama.New(ollama.Options{
		BaseURL:        cfg.OllamaURL,
		Model:          cfg.Model,
		RequestTimeout: cfg.RequestTimeout(),
		HealthTimeout:  cfg.HealthTimeout(),
		Logger:         logger,
	})

	env := ops.NewEnv(cfg, database, gen, baseDir, logger)
	logger.Debug("environment ready",
		zap.String("base_dir", baseDir),
		zap.String("ollama_url", cfg.OllamaURL),
		zap.String("model", gen.Model()))

	var closed bool
	cleanup := func() {
		if closed {
			return
		}
		closed = true
		database.Close()
		_ = logger.Sync()
	}
	return env, cleanup, nil
}
