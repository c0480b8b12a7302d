package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/perch/internal/errors"
	"github.com/hpungsan/perch/internal/mcp"
	"github.com/hpungsan/perch/internal/ops"
	"github.com/hpungsan/perch/internal/payload"
	"github.com/hpungsan/perch/internal/web"
)

// maxActionInputBytes caps action text read from stdin.
const maxActionInputBytes = 1 << 20

// newCLIApp creates the CLI application with all commands.
func newCLIApp(env *ops.Env) *cli.App {
	app := &cli.App{
		Name:    "perch",
		Usage:   "Desktop companion for local files and images",
		Version: Version,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"V"}, Usage: "Enable debug logging on stderr"},
		},
		Commands: []*cli.Command{
			openCmd(env),
			ingestCmd(env),
			analyzeCmd(env),
			actionCmd(env),
			healthCmd(env),
			pullCmd(env),
			historyCmd(env),
			activationsCmd(env),
			getCmd(env),
			exportCmd(env),
			serveCmd(env),
			mcpCmd(env),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// pathFlags are shared by commands that build a payload from plain paths.
func pathFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{Name: "images", Aliases: []string{"i"}, Usage: "Treat paths as images instead of files"},
	}
}

// openCmd creates the open command.
func openCmd(env *ops.Env) *cli.Command {
	flags := append(pathFlags(),
		&cli.IntFlag{Name: "x", Usage: "Window x position"},
		&cli.IntFlag{Name: "y", Usage: "Window y position"},
		&cli.BoolFlag{Name: "serve", Value: true, Usage: "Serve the surface after activation"},
	)
	return &cli.Command{
		Name:      "open",
		Usage:     "Activate with a payload built from paths, as the shell integration would",
		ArgsUsage: "<path>...",
		Flags:     flags,
		Action: func(c *cli.Context) error {
			p, err := payloadFromArgs(c)
			if err != nil {
				return outputError(err)
			}
			if p == nil {
				return outputError(errors.NewInvalidRequest("at least one path is required"))
			}
			if c.IsSet("x") || c.IsSet("y") {
				p.Coords = &payload.Coords{X: c.Int("x"), Y: c.Int("y")}
			}

			raw, err := json.Marshal(p)
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			cwd, _ := os.Getwd()
			output, err := ops.Activate(env, ops.ActivateInput{Args: []string{string(raw)}, Cwd: cwd})
			if err != nil {
				return outputError(err)
			}
			if err := outputJSON(output); err != nil {
				return err
			}

			if !c.Bool("serve") {
				return nil
			}
			return serveSurface(c.Context, env, env.Config.WebBind, env.Config.WebPort)
		},
	}
}

// ingestCmd creates the ingest command.
func ingestCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:      "ingest",
		Usage:     "Extract content under the ingestion caps and print its preview",
		ArgsUsage: "<path>...",
		Flags:     pathFlags(),
		Action: func(c *cli.Context) error {
			p, err := payloadFromArgs(c)
			if err != nil {
				return outputError(err)
			}

			output, err := ops.Ingest(env, ops.IngestInput{Payload: p})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// analyzeCmd creates the analyze command.
func analyzeCmd(env *ops.Env) *cli.Command {
	flags := append(pathFlags(),
		&cli.StringFlag{Name: "action", Aliases: []string{"a"}, Value: ops.DefaultAnalyzeAction, Usage: "Action: " + strings.Join(ops.Actions, "|")},
		&cli.BoolFlag{Name: "stream", Aliases: []string{"s"}, Usage: "Print the response as it is generated"},
	)
	return &cli.Command{
		Name:      "analyze",
		Usage:     "Send content to the text-generation service",
		ArgsUsage: "<path>...",
		Flags:     flags,
		Action: func(c *cli.Context) error {
			p, err := payloadFromArgs(c)
			if err != nil {
				return outputError(err)
			}

			input := ops.AnalyzeInput{Payload: p, Action: c.String("action")}
			stream := c.Bool("stream")
			if stream {
				input.Stream = true
				input.OnChunk = func(chunk string) {
					fmt.Fprint(c.App.Writer, chunk)
				}
			}

			output, err := ops.Analyze(c.Context, env, input)
			if err != nil {
				return outputError(err)
			}
			if stream {
				fmt.Fprintln(c.App.Writer)
				return nil
			}

			return outputJSON(output)
		},
	}
}

// actionCmd creates the action command.
func actionCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:      "action",
		Usage:     "Run a named action on text (arguments, or stdin when none are given)",
		ArgsUsage: "[text...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "action", Aliases: []string{"a"}, Required: true, Usage: "Action: " + strings.Join(ops.Actions, "|")},
		},
		Action: func(c *cli.Context) error {
			text := strings.Join(c.Args().Slice(), " ")
			if text == "" && stdinHasData() {
				var err error
				text, err = readStdin(maxActionInputBytes)
				if err != nil {
					return outputError(errors.NewInvalidRequest(err.Error()))
				}
			}

			output, err := ops.RunAction(c.Context, env, ops.ActionInput{Action: c.String("action"), Input: text})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// healthCmd creates the health command.
func healthCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check the text-generation service",
		Action: func(c *cli.Context) error {
			return outputJSON(ops.Health(c.Context, env))
		},
	}
}

// pullCmd creates the pull command.
func pullCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:      "pull",
		Usage:     "Download a model (defaults to the configured model)",
		ArgsUsage: "[model]",
		Action: func(c *cli.Context) error {
			output, err := ops.Pull(c.Context, env, c.Args().First())
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// historyCmd creates the history command.
func historyCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List past analyses, newest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "kind", Aliases: []string{"k"}, Usage: "Filter by kind: text|images"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Maximum items to return"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Items to skip"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.History(env, ops.HistoryInput{
				Kind:   c.String("kind"),
				Limit:  c.Int("limit"),
				Offset: c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// activationsCmd creates the activations command.
func activationsCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:  "activations",
		Usage: "List recorded launch activations, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Maximum items to return"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Items to skip"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Activations(env, ops.ActivationsInput{
				Limit:  c.Int("limit"),
				Offset: c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// getCmd creates the get command.
func getCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Fetch one analysis by ID",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			output, err := ops.GetAnalysis(env, c.Args().First())
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// exportCmd creates the export command.
func exportCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export analysis history to a JSONL file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Export file path (default: ~/.perch/exports/<kind|all>-<timestamp>.jsonl)"},
			&cli.StringFlag{Name: "kind", Aliases: []string{"k"}, Usage: "Filter by kind: text|images"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.ExportHistory(c.Context, env, ops.ExportInput{
				Path: c.String("path"),
				Kind: c.String("kind"),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the UI surface and debug pages on localhost",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Usage: "Address to bind (default from config)"},
			&cli.IntFlag{Name: "port", Usage: "Port to listen on (default from config)"},
		},
		Action: func(c *cli.Context) error {
			bind, port := env.Config.WebBind, env.Config.WebPort
			if c.IsSet("bind") {
				bind = c.String("bind")
			}
			if c.IsSet("port") {
				port = c.Int("port")
			}
			return serveSurface(c.Context, env, bind, port)
		},
	}
}

// mcpCmd creates the mcp command.
func mcpCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Run the MCP server on stdio",
		Action: func(_ *cli.Context) error {
			return mcp.Run(env, Version)
		},
	}
}

// runLaunch handles a raw launch: the arguments are recorded and parsed, and the
// surface is served so the payload can be delivered. A parse failure is reported
// but the surface still starts, so the debug page can show what arrived.
func runLaunch(ctx context.Context, env *ops.Env, args []string) error {
	cwd, _ := os.Getwd()
	if _, err := ops.Activate(env, ops.ActivateInput{Args: args, Cwd: cwd}); err != nil {
		fmt.Fprintf(os.Stderr, "perch: %v\n", err)
	}
	return serveSurface(ctx, env, env.Config.WebBind, env.Config.WebPort)
}

// serveSurface runs the web surface until interrupted.
func serveSurface(ctx context.Context, env *ops.Env, bind string, port int) error {
	srv, err := web.NewServer(env, Version, bind, port)
	if err != nil {
		return outputError(errors.NewInternal(err))
	}
	return web.Run(ctx, srv, env.Logger, func(url string) {
		fmt.Fprintf(os.Stderr, "perch surface: %s/launch\n", url)
	})
}

// Helper functions

// payloadFromArgs builds a payload from positional path arguments. No arguments
// yields nil, which operations read as "the last delivered payload".
func payloadFromArgs(c *cli.Context) (*payload.LaunchPayload, error) {
	if c.NArg() == 0 {
		return nil, nil
	}
	paths := make([]string, 0, c.NArg())
	for _, arg := range c.Args().Slice() {
		abs, err := filepath.Abs(arg)
		if err != nil {
			abs = arg
		}
		paths = append(paths, abs)
	}

	kind := payload.KindFiles
	if c.Bool("images") {
		kind = payload.KindImages
	}
	p, err := payload.FromPaths(kind, paths)
	if err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}
	return p, nil
}

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if pErr := errors.As(err); pErr != nil {
		return cli.Exit(pErr.Error(), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads all content from stdin, up to limit bytes.
func readStdin(limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, limit+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > limit {
		return "", fmt.Errorf("stdin exceeds %d bytes", limit)
	}
	return strings.TrimSpace(string(data)), nil
}
