package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/claude-code-bridge/internal/process"
	"github.com/mihaisavezi/claude-code-bridge/internal/server"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the proxy",
	Long:  `Start the translation proxy in the foreground, or in the background with --detach.`,
	RunE:  runStart,
}

func init() {
	startCmd.Flags().BoolP("detach", "d", false, "run in the background")
	startCmd.Flags().IntP("port", "p", 0, "override the listening port")
}

func runStart(cmd *cobra.Command, _ []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	detach, _ := cmd.Flags().GetBool("detach")
	port, _ := cmd.Flags().GetInt("port")
	setupLogging(verbose)

	if !cfgMgr.Exists() {
		color.Yellow("No configuration at %s, using defaults and environment. Run 'ccb config init' to create one.", cfgMgr.GetPath())
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if port != 0 {
		cfg.Port = port
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	procMgr := process.NewManager(baseDir, cfg.Port)
	if procMgr.IsRunning() {
		color.Yellow("%s is already running on port %d (PID %d)", AppName, cfg.Port, procMgr.ReadPID())
		return nil
	}

	if detach {
		args := []string{"start", "--port", fmt.Sprint(cfg.Port)}
		if verbose {
			args = append(args, "--verbose")
		}
		pid, err := procMgr.StartDetached(args...)
		if err != nil {
			return err
		}
		color.Green("%s started in the background (PID %d) on http://%s", AppName, pid, cfg.Addr())
		return nil
	}

	color.Green("Starting %s v%s...", AppName, Version)
	logger.Info("Starting server",
		"host", cfg.Host,
		"port", cfg.Port,
		"monitor", cfg.Monitor,
		"openrouter", cfg.OpenRouter.Configured(),
		"gemini", cfg.Gemini.Configured(),
		"local", cfg.Local.APIBase,
	)

	if err := procMgr.WritePID(); err != nil {
		return err
	}
	defer procMgr.CleanupPID()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg, logger, server.Options{BaseDir: baseDir, Verbose: verbose})
	return srv.Run(ctx)
}
