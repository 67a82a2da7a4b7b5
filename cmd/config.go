package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/claude-code-bridge/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage the proxy configuration.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration interactively",
	Long:  `Initialize configuration by prompting for backend credentials and routing.`,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the effective configuration with secrets masked.`,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  `Validate the current configuration for errors.`,
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	color.Blue("Claude Code Bridge Configuration Setup")
	color.Yellow("Press enter to skip a backend.")

	cfg := promptConfig(bufio.NewReader(cmd.InOrStdin()), cmd.OutOrStdout())
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfgMgr.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	color.Green("Configuration saved successfully to: %s", cfgMgr.GetPath())
	color.Cyan("You can now start the proxy with: ccb start")

	return nil
}

func promptConfig(reader *bufio.Reader, out io.Writer) *config.Config {
	ask := func(label string) string {
		fmt.Fprintf(out, "%s: ", label)
		line, _ := reader.ReadString('\n')
		return strings.TrimSpace(line)
	}

	cfg := &config.Config{}
	cfg.OpenRouter.APIKey = ask("\nOpenRouter API Key")
	cfg.Gemini.APIKey = ask("Gemini API Key")
	cfg.Local.APIBase = ask("Local server base URL (default " + config.DefaultLocalBase + ")")
	cfg.Router.Default = ask("Default model (e.g. qwen/qwen3-coder, blank keeps the requested model)")
	cfg.APIKey = ask("Proxy API Key (optional, for authentication)")

	cfg.ApplyDefaults()
	return cfg
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		color.Yellow("No configuration found. Run 'ccb config init' to create one.")
		return nil
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	printConfig(os.Stdout, cfg)
	return nil
}

func printConfig(out io.Writer, cfg *config.Config) {
	row := func(label string, value any) {
		fmt.Fprintf(out, "  %-17s: %v\n", label, value)
	}

	color.New(color.FgBlue).Fprintln(out, "Current Configuration:")
	row("Listen", cfg.Addr())
	row("API Key", maskString(cfg.APIKey))
	row("Monitor", cfg.Monitor)
	row("Backend Timeout", cfg.BackendTimeout())
	row("Tiktoken", cfg.Tiktoken)
	row("Config Path", cfgMgr.GetPath())

	fmt.Fprintln(out, "\nBackends:")
	backend := func(name, base, key string) {
		fmt.Fprintf(out, "  - %s\n", name)
		fmt.Fprintf(out, "    API Base: %s\n", base)
		fmt.Fprintf(out, "    API Key: %s\n", maskString(key))
	}
	backend(config.BackendOpenRouter, cfg.OpenRouter.APIBase, cfg.OpenRouter.APIKey)
	backend(config.BackendLocal, cfg.Local.APIBase, cfg.Local.APIKey)
	if cfg.Local.Model != "" {
		fmt.Fprintf(out, "    Model: %s\n", cfg.Local.Model)
	}
	backend(config.BackendGemini, cfg.Gemini.APIBase, cfg.Gemini.APIKey)
	backend(config.BackendAnthropic, cfg.Anthropic.APIBase, cfg.Anthropic.APIKey)

	fmt.Fprintln(out, "\nRouter Configuration:")
	row("Default", orNone(cfg.Router.Default))
	for _, tier := range []string{"opus", "sonnet", "haiku"} {
		if override := cfg.Router.TierOverride(tier); override != "" {
			row(strings.ToUpper(tier[:1])+tier[1:], override)
		}
	}
	row("Force Native", cfg.Router.ForceNative)
	row("Force Local", cfg.Router.ForceLocal)
	row("Native Prefixes", strings.Join(cfg.Router.NativePrefixes, ", "))

	if cfg.Pricing.InputPerMTok > 0 || cfg.Pricing.OutputPerMTok > 0 {
		fmt.Fprintln(out, "\nPricing (USD per million tokens):")
		row("Input", cfg.Pricing.InputPerMTok)
		row("Output", cfg.Pricing.OutputPerMTok)
	}
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		return fmt.Errorf("no configuration found at %s", cfgMgr.GetPath())
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		color.Red("Configuration validation failed:")
		for _, line := range strings.Split(err.Error(), "\n") {
			fmt.Printf("  - %s\n", line)
		}
		return fmt.Errorf("configuration validation failed")
	}

	color.Green("Configuration is valid!")
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "(requested model)"
	}
	return s
}

func maskString(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
