package cmd

import (
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/claude-code-bridge/internal/process"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the proxy",
	Long:  `Stop the proxy running on the configured port.`,
	RunE:  runStop,
}

func init() {
	stopCmd.Flags().IntP("port", "p", 0, "port of the instance to stop")
}

func runStop(cmd *cobra.Command, _ []string) error {
	port, err := targetPort(cmd)
	if err != nil {
		return err
	}

	color.Yellow("Stopping %s on port %d...", AppName, port)

	procMgr := process.NewManager(baseDir, port)
	if !procMgr.IsRunning() {
		color.Yellow("Service is not running")
		return nil
	}

	if err := procMgr.Stop(10 * time.Second); err != nil {
		return err
	}

	color.Green("Service stopped successfully")
	return nil
}

// targetPort is the --port flag, else the configured port.
func targetPort(cmd *cobra.Command) (int, error) {
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		return port, nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return 0, err
	}
	return cfg.Port, nil
}
