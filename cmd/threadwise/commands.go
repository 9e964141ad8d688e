package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/threadwise/internal/config"
	"github.com/haasonsaas/threadwise/internal/intent"
	"github.com/haasonsaas/threadwise/internal/tools"
	"github.com/haasonsaas/threadwise/internal/tools/builtin"
	"github.com/haasonsaas/threadwise/pkg/models"
)

var (
	labelStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	intentStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	toolStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
)

// buildServeCmd creates the "serve" command that runs the bot.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect to Slack and answer mentions",
		Long: `Connect to Slack over Socket Mode and answer @-mentions.

The server will:
1. Load configuration from the file (or the environment alone)
2. Connect the Slack Web API and Socket Mode clients
3. Load tools.yaml and register the enabled tools
4. Start the health server (/healthz, /readyz, /status, /metrics)
5. Start the maintenance sweeps

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with a config file
  threadwise serve --config threadwise.yaml

  # Start from environment variables only, with debug logging
  threadwise serve --config "" --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

// buildClassifyCmd creates the "classify" command, which shows how a message
// would be understood and which tools would run.
func buildClassifyCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "classify <message>",
		Short: "Classify a message and show the tools it would select",
		Args:  cobra.MinimumNArgs(1),
		Example: `  threadwise classify "can you summarize the last 10 messages?"
  threadwise classify --json "who is in this thread?"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClassify(cmd.OutOrStdout(), strings.Join(args, " "), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}

type classifyResult struct {
	Intent models.UserIntent `json:"intent"`
	Tools  []string          `json:"selected_tools"`
}

func runClassify(out io.Writer, message string, asJSON bool) error {
	ui := intent.NewClassifier().Classify(message)

	// Every built-in is registered so the selection mirrors a default install.
	reg := tools.NewRegistry()
	if _, err := builtin.Register(reg, builtin.Deps{}, nil); err != nil {
		return err
	}
	result := classifyResult{Intent: ui, Tools: tools.NewSelector(reg).Select(ui)}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Fprintf(out, "%s %s\n", labelStyle.Render("Intent:"), intentStyle.Render(string(ui.Primary)))
	fmt.Fprintf(out, "%s %.2f\n", labelStyle.Render("Confidence:"), ui.Confidence)
	if len(ui.Parameters) > 0 {
		fmt.Fprintln(out, labelStyle.Render("Parameters:"))
		keys := make([]string, 0, len(ui.Parameters))
		for k := range ui.Parameters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(out, "  %s %v\n", mutedStyle.Render(k+":"), ui.Parameters[k])
		}
	}
	fmt.Fprintln(out, labelStyle.Render("Tools:"))
	for _, name := range result.Tools {
		fmt.Fprintf(out, "  %s\n", toolStyle.Render(name))
	}
	if len(ui.FallbackSuggestions) > 0 {
		fmt.Fprintln(out, labelStyle.Render("Suggestions:"))
		for _, s := range ui.FallbackSuggestions {
			fmt.Fprintf(out, "  %s\n", mutedStyle.Render(s))
		}
	}
	return nil
}

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}
	cmd.AddCommand(buildConfigValidateCmd(), buildConfigSchemaCmd())
	return cmd
}

func buildConfigValidateCmd() *cobra.Command {
	var configPath, toolsPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration and tools file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(cmd.OutOrStdout(), configPath, toolsPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Path to YAML configuration file")
	cmd.Flags().StringVar(&toolsPath, "tools", "", "Path to tools.yaml (default: tools.config_path from the config)")
	return cmd
}

func runConfigValidate(out io.Writer, configPath, toolsPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if toolsPath == "" {
		toolsPath = cfg.Tools.ConfigPath
	}
	tf, err := config.LoadToolsFile(toolsPath)
	if err != nil {
		return err
	}

	provider := cfg.LLM.Provider
	if provider == config.ProviderNone {
		provider = "none"
	}
	fmt.Fprintln(out, successStyle.Render("configuration is valid"))
	fmt.Fprintf(out, "%s %s\n", labelStyle.Render("LLM provider:"), provider)
	fmt.Fprintf(out, "%s %s\n", labelStyle.Render("Tools:"), strings.Join(tf.EnabledTools(), ", "))
	return nil
}

func buildConfigSchemaCmd() *cobra.Command {
	var tools bool
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if tools {
				data, err = config.ToolsJSONSchema()
			} else {
				data, err = config.JSONSchema()
			}
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
	cmd.Flags().BoolVar(&tools, "tools", false, "Print the tools.yaml schema instead")
	return cmd
}

// buildVersionCmd creates the "version" command.
func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "threadwise %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
