// Command report-variables-server serves report variables over HTTP and MCP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/report-variables-server/internal/api"
	"github.com/report-variables-server/internal/archive"
	"github.com/report-variables-server/internal/mcp"
	"github.com/report-variables-server/internal/setup"
)

func main() {
	var opts options

	rootCmd := &cobra.Command{
		Use:           "report-variables-server",
		Short:         "Report variables server: derivation engine, HTTP API and MCP tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file (default searches ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&opts.lite, "lite", false, "use the SQLite data directory and environment-only configuration")

	rootCmd.AddCommand(serveCmd(&opts))
	rootCmd.AddCommand(mcpCmd(&opts))
	rootCmd.AddCommand(migrateCmd(&opts))
	rootCmd.AddCommand(exportCmd(&opts))
	rootCmd.AddCommand(importCmd(&opts))
	rootCmd.AddCommand(setup.NewCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func serveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and change feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*opts)
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Logging)

			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			server, err := api.NewServer(cfg, a.store, a.service, logger)
			if err != nil {
				return err
			}
			defer server.Close()

			logger.WithField("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)).Info("Starting report variables server")
			if err := server.Start(ctx); err != nil {
				return fmt.Errorf("server failed: %w", err)
			}
			logger.Info("Server stopped")
			return nil
		},
	}
}

func mcpCmd(opts *options) *cobra.Command {
	var (
		transport string
		addr      string
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the variable tools over the Model Context Protocol",
		Long: `Serve the variable tools over the Model Context Protocol.

The stdio transport is what Claude Desktop launches; logs go to stderr.
The http transport serves the streamable HTTP protocol on --addr.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*opts)
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Logging)
			logger.SetOutput(os.Stderr)

			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
			}
			server := mcp.NewServer(cfg.MCP, a.store, a.service, logger)
			if err := server.Run(ctx, transport, addr); err != nil {
				return err
			}
			logger.Info("MCP server stopped")
			return nil
		},
	}

	cmd.Flags().StringVarP(&transport, "transport", "t", mcp.TransportStdio, "transport: stdio or http")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address for the http transport (default server.host:server.port)")
	return cmd
}

func migrateCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*opts)
			if err != nil {
				return err
			}
			return migrateUp(cmd.Context(), cfg, newLogger(cfg.Logging))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*opts)
			if err != nil {
				return err
			}
			runner, err := newMigrationRunner(cfg, newLogger(cfg.Logging))
			if err != nil {
				return err
			}
			defer runner.Close()
			return runner.Down(cmd.Context())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the applied migration version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*opts)
			if err != nil {
				return err
			}
			runner, err := newMigrationRunner(cfg, newLogger(cfg.Logging))
			if err != nil {
				return err
			}
			defer runner.Close()

			version, dirty, err := runner.Version()
			if err != nil {
				return fmt.Errorf("reading migration version: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", version, dirty)
			return nil
		},
	})

	return cmd
}

func exportCmd(opts *options) *cobra.Command {
	var (
		entityID        string
		entityVersionID string
		output          string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the variables of one entity version and every rating set as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*opts)
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Logging)
			logger.SetOutput(os.Stderr)

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			w := cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("creating %s: %w", output, err)
				}
				defer f.Close()
				w = f
			}
			return archive.Export(cmd.Context(), a.service, entityID, entityVersionID, w, logger)
		},
	}

	cmd.Flags().StringVar(&entityID, "entity", "", "entity (test) id")
	cmd.Flags().StringVar(&entityVersionID, "entity-version", "", "entity version id")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "output file")
	_ = cmd.MarkFlagRequired("entity")
	_ = cmd.MarkFlagRequired("entity-version")
	return cmd
}

func importCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "import [file]",
		Short: "Load an export; existing sets and variables are kept",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*opts)
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Logging)
			logger.SetOutput(os.Stderr)

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			r := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("opening %s: %w", args[0], err)
				}
				defer f.Close()
				r = f
			}

			result, err := archive.Import(cmd.Context(), a.service, r, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rating sets: %d imported\nvariable sets: %d imported, %d skipped\nvariables: %d imported, %d skipped\n",
				result.RatingSets.Imported,
				result.VariableSets.Imported, result.VariableSets.Skipped,
				result.Variables.Imported, result.Variables.Skipped)
			return nil
		},
	}
}
