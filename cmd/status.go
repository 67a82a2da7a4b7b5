package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/claude-code-bridge/internal/process"
	"github.com/mihaisavezi/claude-code-bridge/internal/status"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show proxy status",
	Long:  `Display whether the proxy is running and the usage recorded for its last response.`,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().IntP("port", "p", 0, "port of the instance to inspect")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	port, err := targetPort(cmd)
	if err != nil {
		return err
	}
	procMgr := process.NewManager(baseDir, port)

	color.Blue("Status for %s:", AppName)
	fmt.Printf("  %-15s: %v\n", "Running", procMgr.IsRunning())
	fmt.Printf("  %-15s: %d\n", "PID", procMgr.ReadPID())
	fmt.Printf("  %-15s: %d\n", "Port", port)
	fmt.Printf("  %-15s: %s\n", "Config Path", cfgMgr.GetPath())
	fmt.Printf("  %-15s: v%s\n", "Version", Version)

	path := status.Path(baseDir, port)
	snap, err := status.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		color.Yellow("\nNo responses recorded yet")
		return nil
	}
	if err != nil {
		return err
	}

	color.Blue("\nLast response:")
	fmt.Printf("  %-15s: %s (%s)\n", "Model", snap.Model, snap.Backend)
	fmt.Printf("  %-15s: %d in / %d out\n", "Tokens", snap.InputTokens, snap.OutputTokens)
	fmt.Printf("  %-15s: %d in / %d out\n", "Total Tokens", snap.TotalInputTokens, snap.TotalOutputTokens)
	fmt.Printf("  %-15s: $%.4f\n", "Est. Cost", snap.EstimatedCostUSD)
	if snap.ContextWindow > 0 {
		fmt.Printf("  %-15s: %d (%.2f%% used, %.2f%% left)\n", "Context", snap.ContextWindow, snap.ContextUsedPct, snap.ContextRemainingPct)
	}
	fmt.Printf("  %-15s: %s\n", "Updated", snap.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	return nil
}
