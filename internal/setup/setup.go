// Package setup registers the report variables MCP server with Claude Desktop
// and reports on the local installation.
package setup

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/report-variables-server/internal/config"
)

// ServerName is the key the server is registered under in mcpServers.
const ServerName = "report-variables"

// DataDirEnv points the lite server at its data directory.
const DataDirEnv = "RVS_DATA_DIR"

// DesktopConfig represents the Claude Desktop configuration file structure.
// Keys other than mcpServers are preserved on save.
type DesktopConfig struct {
	MCPServers map[string]MCPServerConfig `json:"mcpServers"`
	extra      map[string]json.RawMessage
}

// MCPServerConfig represents a single MCP server configuration.
type MCPServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Options contains options for the setup process.
type Options struct {
	BinaryPath string // Path to the server binary
	DataDir    string // Data directory for the SQLite database
	Lite       bool   // Register the SQLite-backed server
	ConfigPath string // Overrides the detected Claude Desktop config path
}

// ConfigPath returns the path to Claude Desktop's config file on this machine.
func ConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return configPathFor(runtime.GOOS, home, os.Getenv)
}

func configPathFor(goos, home string, getenv func(string) string) (string, error) {
	var configDir string

	switch goos {
	case "darwin":
		configDir = filepath.Join(home, "Library", "Application Support", "Claude")
	case "linux":
		if xdg := getenv("XDG_CONFIG_HOME"); xdg != "" {
			configDir = filepath.Join(xdg, "Claude")
		} else {
			configDir = filepath.Join(home, ".config", "Claude")
		}
	case "windows":
		appData := getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		configDir = filepath.Join(appData, "Claude")
	default:
		return "", fmt.Errorf("unsupported operating system: %s", goos)
	}

	return filepath.Join(configDir, "claude_desktop_config.json"), nil
}

// LoadConfig loads the existing Claude Desktop configuration. A missing file
// yields an empty configuration.
func LoadConfig(path string) (*DesktopConfig, error) {
	cfg := &DesktopConfig{
		MCPServers: make(map[string]MCPServerConfig),
		extra:      make(map[string]json.RawMessage),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, &cfg.extra); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if raw, ok := cfg.extra["mcpServers"]; ok {
		if err := json.Unmarshal(raw, &cfg.MCPServers); err != nil {
			return nil, fmt.Errorf("failed to parse mcpServers: %w", err)
		}
		delete(cfg.extra, "mcpServers")
	}
	if cfg.MCPServers == nil {
		cfg.MCPServers = make(map[string]MCPServerConfig)
	}

	return cfg, nil
}

// SaveConfig writes the configuration, creating its directory if needed.
func SaveConfig(path string, cfg *DesktopConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	out := make(map[string]any, len(cfg.extra)+1)
	for k, v := range cfg.extra {
		out[k] = v
	}
	out["mcpServers"] = cfg.MCPServers

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ServerEntry builds the mcpServers entry for opts.
func ServerEntry(opts Options) MCPServerConfig {
	entry := MCPServerConfig{
		Command: opts.BinaryPath,
		Args:    []string{"mcp"},
	}
	if opts.Lite {
		entry.Args = append(entry.Args, "--lite")
	}
	if opts.DataDir != "" {
		entry.Env = map[string]string{DataDirEnv: opts.DataDir}
	}
	return entry
}

// Configure adds or updates the server entry in the Claude Desktop config and
// returns the path it wrote.
func Configure(opts Options) (string, error) {
	path := opts.ConfigPath
	if path == "" {
		var err error
		if path, err = ConfigPath(); err != nil {
			return "", err
		}
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		return "", err
	}

	if opts.BinaryPath == "" {
		if opts.BinaryPath, err = findBinary(); err != nil {
			return "", fmt.Errorf("could not find server binary: %w", err)
		}
	}

	cfg.MCPServers[ServerName] = ServerEntry(opts)
	if err := SaveConfig(path, cfg); err != nil {
		return "", err
	}
	return path, nil
}

// findBinary looks for the server binary: the running executable first, then
// PATH and the usual install locations.
func findBinary() (string, error) {
	const binaryName = "report-variables-server"

	if exe, err := os.Executable(); err == nil {
		return exe, nil
	}
	if path, err := exec.LookPath(binaryName); err == nil {
		return path, nil
	}

	home, _ := os.UserHomeDir()
	locations := []string{
		"./build/" + binaryName,
		filepath.Join(home, ".local", "bin", binaryName),
		"/usr/local/bin/" + binaryName,
	}
	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			if abs, err := filepath.Abs(loc); err == nil {
				return abs, nil
			}
			return loc, nil
		}
	}

	return "", fmt.Errorf("binary '%s' not found in common locations", binaryName)
}

// Status represents the current setup status.
type Status struct {
	ConfigPath   string   `json:"configPath"`
	Configured   bool     `json:"configured"`
	ServerPath   string   `json:"serverPath,omitempty"`
	Lite         bool     `json:"lite"`
	DataDir      string   `json:"dataDir"`
	DatabaseFile bool     `json:"databaseFile"`
	Issues       []string `json:"issues"`
}

// Warnings are issues that do not stop the server from starting.
func (s *Status) Warnings() []string {
	var out []string
	for _, issue := range s.Issues {
		if strings.Contains(issue, "will be created") {
			out = append(out, issue)
		}
	}
	return out
}

// Valid reports whether every issue is only a warning.
func (s *Status) Valid() bool {
	return s.Configured && len(s.Warnings()) == len(s.Issues)
}

// GetStatus inspects the Claude Desktop config at path (the detected path
// when empty) and the data directory it points at.
func GetStatus(path string) *Status {
	status := &Status{Issues: []string{}}

	if path == "" {
		var err error
		if path, err = ConfigPath(); err != nil {
			status.Issues = append(status.Issues, fmt.Sprintf("Could not determine Claude Desktop config path: %v", err))
		}
	}
	status.ConfigPath = path

	if path != "" {
		cfg, err := LoadConfig(path)
		switch {
		case err != nil:
			status.Issues = append(status.Issues, fmt.Sprintf("Could not load Claude Desktop config: %v", err))
		default:
			if entry, ok := cfg.MCPServers[ServerName]; ok {
				status.Configured = true
				status.ServerPath = entry.Command
				for _, arg := range entry.Args {
					if arg == "--lite" {
						status.Lite = true
					}
				}
				status.DataDir = entry.Env[DataDirEnv]
				checkBinary(status, entry.Command)
			} else {
				status.Issues = append(status.Issues, "Server not configured in Claude Desktop")
			}
		}
	}

	if status.DataDir == "" {
		status.DataDir = DefaultDataDir()
	}
	if _, err := os.Stat(status.DataDir); os.IsNotExist(err) {
		status.Issues = append(status.Issues, fmt.Sprintf("Data directory will be created on first run: %s", status.DataDir))
	} else if _, err := os.Stat((&config.LiteConfig{DataDir: status.DataDir}).DatabasePath()); err == nil {
		status.DatabaseFile = true
	}

	return status
}

func checkBinary(status *Status, path string) {
	info, err := os.Stat(path)
	if err != nil {
		status.Issues = append(status.Issues, fmt.Sprintf("Server binary not found: %s", path))
		return
	}
	if runtime.GOOS != "windows" && info.Mode()&0111 == 0 {
		status.Issues = append(status.Issues, fmt.Sprintf("Server binary is not executable: %s", path))
	}
}

// DefaultDataDir returns the data directory the lite server uses when
// RVS_DATA_DIR is unset.
func DefaultDataDir() string {
	return config.DefaultLiteConfig().DataDir
}
