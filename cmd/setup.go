package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
)

// SetupCmd configures MCP for various AI clients.
type SetupCmd struct {
	Client string `arg:"" optional:"" enum:"stdout,claude,cursor,qwen" default:"stdout" help:"Client to configure (stdout|claude|cursor|qwen)"`
	Global bool   `help:"Write the client's global configuration instead of the project's"`
	Dir    string `default:"." help:"Project directory for local configuration"`
	Watch  bool   `short:"w" default:"true" negatable:"" help:"Start the server in watch mode"`
}

// Run executes the setup command.
func (c *SetupCmd) Run(globals *Globals) error {
	config := c.serverConfig()

	if c.Client == "stdout" {
		data, err := json.MarshalIndent(config, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(globals.out(), string(data))
		return nil
	}

	path, err := c.configPath()
	if err != nil {
		return err
	}
	if err := writeConfig(path, config); err != nil {
		return err
	}
	color.New(color.FgGreen).Fprintf(globals.out(), "✓ Created %s MCP config at %s\n", c.Client, path)
	return nil
}

func (c *SetupCmd) serverConfig() map[string]any {
	args := []string{"mcp"}
	if c.Watch {
		args = append(args, "--watch")
	}
	return map[string]any{
		"mcpServers": map[string]any{
			"pygraph": map[string]any{
				"command": "pygraph",
				"args":    args,
			},
		},
	}
}

// configPath returns <base>/.<client>/mcp.json, where base is the user's
// home directory for global configuration.
func (c *SetupCmd) configPath() (string, error) {
	base := c.Dir
	if c.Global {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("finding home directory: %w", err)
		}
		base = home
	}
	return filepath.Join(base, "."+c.Client, "mcp.json"), nil
}

// writeConfig merges config into the JSON file at path, keeping any other
// servers and settings already there.
func writeConfig(path string, config map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	existing := map[string]any{}
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &existing); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	servers, _ := existing["mcpServers"].(map[string]any)
	if servers == nil {
		servers = map[string]any{}
	}
	for name, server := range config["mcpServers"].(map[string]any) {
		servers[name] = server
	}
	existing["mcpServers"] = servers

	content, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	content = append(content, '\n')
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
