package setup

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// NewCommand returns the "setup" command tree.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Register the MCP server with Claude Desktop and check the installation",
	}
	cmd.AddCommand(newDesktopCommand(), newStatusCommand(), newValidateCommand())
	return cmd
}

func newDesktopCommand() *cobra.Command {
	var (
		opts Options
		yes  bool
	)

	cmd := &cobra.Command{
		Use:   "claude-desktop",
		Short: "Add or update the report-variables entry in the Claude Desktop config",
		Example: `  report-variables-server setup claude-desktop --lite
  report-variables-server setup claude-desktop --binary /usr/local/bin/report-variables-server --data-dir ~/reports -y`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			path := opts.ConfigPath
			if path == "" {
				var err error
				if path, err = ConfigPath(); err != nil {
					return err
				}
			}

			fmt.Fprintln(out, "Claude Desktop Configuration")
			fmt.Fprintln(out, "============================")
			fmt.Fprintf(out, "Config file: %s\n", path)
			if opts.BinaryPath != "" {
				fmt.Fprintf(out, "Server binary: %s\n", opts.BinaryPath)
			}
			if opts.DataDir != "" {
				fmt.Fprintf(out, "Data directory: %s\n", opts.DataDir)
			}
			fmt.Fprintln(out)

			if !yes && !confirm(cmd.InOrStdin(), out, "Proceed with configuration? [Y/n]: ", true) {
				fmt.Fprintln(out, "Configuration cancelled.")
				return nil
			}

			opts.ConfigPath = path
			if _, err := Configure(opts); err != nil {
				return fmt.Errorf("failed to configure Claude Desktop: %w", err)
			}

			fmt.Fprintln(out, "Claude Desktop configured. Restart Claude Desktop to load the server.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.BinaryPath, "binary", "b", "", "path to the server binary (defaults to this executable)")
	cmd.Flags().StringVarP(&opts.DataDir, "data-dir", "d", "", "data directory for the SQLite database")
	cmd.Flags().BoolVar(&opts.Lite, "lite", false, "register the SQLite-backed server")
	cmd.Flags().StringVar(&opts.ConfigPath, "desktop-config", "", "Claude Desktop config file (detected when empty)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func newStatusCommand() *cobra.Command {
	var (
		path   string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current setup status",
		RunE: func(cmd *cobra.Command, args []string) error {
			status := GetStatus(path)
			out := cmd.OutOrStdout()

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			}

			fmt.Fprintln(out, "Report Variables Server Status")
			fmt.Fprintln(out, "==============================")
			fmt.Fprintf(out, "Config path:  %s\n", status.ConfigPath)
			fmt.Fprintf(out, "Configured:   %s\n", mark(status.Configured))
			if status.Configured {
				fmt.Fprintf(out, "Binary:       %s\n", status.ServerPath)
				fmt.Fprintf(out, "Lite mode:    %s\n", mark(status.Lite))
			}
			fmt.Fprintf(out, "Data dir:     %s\n", status.DataDir)
			fmt.Fprintf(out, "Database:     %s\n", mark(status.DatabaseFile))

			if len(status.Issues) > 0 {
				fmt.Fprintln(out)
				fmt.Fprintln(out, "Issues:")
				for _, issue := range status.Issues {
					fmt.Fprintf(out, "  - %s\n", issue)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "desktop-config", "", "Claude Desktop config file (detected when empty)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the status as JSON")
	return cmd
}

func newValidateCommand() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Exit non-zero unless the server is registered and its binary is usable",
		RunE: func(cmd *cobra.Command, args []string) error {
			status := GetStatus(path)
			out := cmd.OutOrStdout()

			if status.Valid() {
				fmt.Fprintln(out, "Configuration is valid.")
				for _, w := range status.Warnings() {
					fmt.Fprintf(out, "  note: %s\n", w)
				}
				return nil
			}

			fmt.Fprintln(out, "Configuration has issues:")
			for _, issue := range status.Issues {
				fmt.Fprintf(out, "  - %s\n", issue)
			}
			return fmt.Errorf("setup is not valid")
		},
	}

	cmd.Flags().StringVar(&path, "desktop-config", "", "Claude Desktop config file (detected when empty)")
	return cmd
}

func confirm(in io.Reader, out io.Writer, prompt string, def bool) bool {
	fmt.Fprint(out, prompt)
	response, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && response == "" {
		return def
	}
	switch strings.TrimSpace(strings.ToLower(response)) {
	case "":
		return def
	case "y", "yes":
		return true
	default:
		return false
	}
}

func mark(ok bool) string {
	if ok {
		return "yes"
	}
	return "no"
}
