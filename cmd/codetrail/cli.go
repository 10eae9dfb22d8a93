package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/urfave/cli/v2"

	"github.com/calebhsu/codetrail/internal/archdoc"
	"github.com/calebhsu/codetrail/internal/broadcast"
	"github.com/calebhsu/codetrail/internal/config"
	"github.com/calebhsu/codetrail/internal/correlate"
	"github.com/calebhsu/codetrail/internal/db"
	trailerrors "github.com/calebhsu/codetrail/internal/errors"
	"github.com/calebhsu/codetrail/internal/event"
	"github.com/calebhsu/codetrail/internal/llm"
	"github.com/calebhsu/codetrail/internal/mcp"
	"github.com/calebhsu/codetrail/internal/watch"
	"github.com/calebhsu/codetrail/internal/web"
	"github.com/sourcegraph/conc/pool"
)

// newCLIApp creates the CLI application with all commands. Running with
// no subcommand starts the recorder service.
func newCLIApp(database *sql.DB, cfg *config.Config) *cli.App {
	app := &cli.App{
		Name:    "codetrail",
		Usage:   "Local development activity recorder",
		Version: Version,
		Commands: []*cli.Command{
			serveCmd(database, cfg),
			mcpCmd(database, cfg),
			exportCmd(database),
		},
		Action: func(c *cli.Context) error {
			if c.NArg() > 0 {
				return cli.Exit(fmt.Sprintf("unknown command %q\nRun 'codetrail --help' for usage.", c.Args().First()), 1)
			}
			return runServe(database, cfg)
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// serveCmd creates the serve command.
func serveCmd(database *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API and project watchers",
		Action: func(_ *cli.Context) error {
			return runServe(database, cfg)
		},
	}
}

// mcpCmd creates the mcp command.
func mcpCmd(database *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the recorder tools over MCP stdio",
		Action: func(_ *cli.Context) error {
			bus := broadcast.New(broadcast.DefaultBuffer)
			defer bus.Close()

			tasks := pool.New().WithMaxGoroutines(cfg.WorkerPoolSize)
			defer tasks.Wait()

			correlator := correlate.New(correlate.Options{
				Database:    database,
				Broadcaster: bus,
				Client:      newLLMClient(cfg),
				Tasks:       tasks,
			})
			return mcp.Run(database, bus, correlator, Version)
		},
	}
}

// exportCmd creates the export command.
func exportCmd(database *sql.DB) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export recorded events to a JSON file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Export file path (default: codetrail-export-<id>.json)"},
			&cli.Int64Flag{Name: "project", Usage: "Filter by project ID"},
		},
		Action: func(c *cli.Context) error {
			var projectID *int64
			if c.IsSet("project") {
				id := c.Int64("project")
				projectID = &id
			}

			events, err := db.EventsForExport(database, projectID)
			if err != nil {
				return outputError(err)
			}

			envelopes := make([]event.Envelope, 0, len(events))
			for _, e := range events {
				envelopes = append(envelopes, e.Envelope())
			}

			path := c.String("path")
			if path == "" {
				path = fmt.Sprintf("codetrail-export-%s.json", ulid.Make().String())
			}

			f, err := os.Create(path)
			if err != nil {
				return outputError(trailerrors.NewInternal(err))
			}
			defer f.Close()

			enc := json.NewEncoder(f)
			enc.SetIndent("", "  ")
			if err := enc.Encode(map[string]any{
				"count":  len(envelopes),
				"events": envelopes,
			}); err != nil {
				return outputError(trailerrors.NewInternal(err))
			}

			return outputJSON(map[string]any{
				"path":  path,
				"count": len(envelopes),
			})
		},
	}
}

// runServe wires every component and blocks until shutdown.
func runServe(database *sql.DB, cfg *config.Config) error {
	bus := broadcast.New(broadcast.DefaultBuffer)

	tasks := pool.New().WithMaxGoroutines(cfg.WorkerPoolSize)

	client := newLLMClient(cfg)

	correlator := correlate.New(correlate.Options{
		Database:    database,
		Broadcaster: bus,
		Client:      client,
		Tasks:       tasks,
	})

	tracker := archdoc.New(archdoc.Options{
		Database:    database,
		Broadcaster: bus,
		Client:      client,
		Tasks:       tasks,
	})

	supervisor := watch.NewSupervisor(watch.SupervisorOptions{
		Database:     database,
		Broadcaster:  bus,
		GlobalIgnore: cfg.IgnoreParts,
		MaxBytes:     cfg.MaxBytes,
		Debounce:     time.Duration(cfg.WatchDebounceMS) * time.Millisecond,
		OnFileChange: tracker.HandleFileChange,
	})

	ctx, cancelWatchers := context.WithCancel(context.Background())
	defer cancelWatchers()

	if err := supervisor.StartAll(ctx); err != nil {
		return fmt.Errorf("start watchers: %w", err)
	}

	srv := web.NewServer(web.Deps{
		DB:         database,
		Cfg:        cfg,
		Bus:        bus,
		Supervisor: supervisor,
		Correlator: correlator,
		Tracker:    tracker,
		Client:     client,
		Version:    Version,
	})

	return web.Run(srv, func() {
		supervisor.StopAll()
		tasks.Wait()
		bus.Close()
	})
}

// newLLMClient selects the OpenAI client when a credential is configured,
// otherwise the no-op client.
func newLLMClient(cfg *config.Config) llm.Client {
	if !cfg.LLMEnabled() {
		return llm.Disabled{}
	}
	return llm.NewOpenAI(llm.OpenAIOptions{
		APIKey:        cfg.OpenAIAPIKey,
		Model:         cfg.OpenAIModel,
		MatchingModel: cfg.OpenAIMatchingModel,
		Timeout:       time.Duration(cfg.LLMTimeoutSeconds) * time.Second,
	})
}

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if trailErr, ok := err.(*trailerrors.TrailError); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", trailErr.Code, trailErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}
