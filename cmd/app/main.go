package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/postvault/internal"
	pkgconfig "github.com/starford/postvault/pkg/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func loadOptions(cmd *cli.Command) ([]internal.Option, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if p := cmd.String("content"); p != "" {
		cfg.Content.Path = p
	}
	return []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(version),
	}, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func validate(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	// Keep stdout for the report.
	opts = append(opts, internal.WithLogOutput(os.Stderr))
	return internal.Validate(ctx, internal.ValidateOptions{
		Paths: cmd.Args().Slice(),
		JSON:  cmd.Bool("json"),
	}, opts...)
}

func reindex(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	return internal.Reindex(ctx, append(opts, internal.WithLogOutput(os.Stderr))...)
}

func importFeed(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	return internal.Import(ctx, append(opts, internal.WithLogOutput(os.Stderr))...)
}

func mcp(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	return internal.ServeMCP(ctx, opts...)
}

func main() {
	cmd := &cli.Command{
		Name:    "postvault",
		Usage:   "Content service for TOML front-matter Markdown posts: validation, indexing, search and feed import",
		Version: version,
		Action:  serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "content",
				Usage:   "Override the content root directory",
				Sources: cli.EnvVars("POSTVAULT_CONTENT"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API (default)",
				Action: serve,
			},
			{
				Name:      "validate",
				Usage:     "Check posts against the content contract",
				ArgsUsage: "[file or directory ...]",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "Print reports as JSON"},
				},
				Action: validate,
			},
			{
				Name:   "reindex",
				Usage:  "Synchronize the search index with the content root",
				Action: reindex,
			},
			{
				Name:   "import",
				Usage:  "Create page bundles from the configured RSS feed",
				Action: importFeed,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdio",
				Action: mcp,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
