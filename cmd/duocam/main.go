// Command duocam runs the dual camera overlay pipeline.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ayusman/duocam/internal/config"
)

// Version is the application version.
const Version = "0.1.0"

var (
	envFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "duocam",
	Short:         "Dual camera capture with live landmark overlays",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(envFile)
		if err != nil {
			return err
		}
		applyFlags(cmd)
		return cfg.Validate()
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "dotenv file read before the environment")
	rootCmd.PersistentFlags().String("data-dir", "", "directory holding the telemetry database")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
}

// applyFlags copies explicitly set flags over the loaded config.
func applyFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.DataDir, _ = flags.GetString("data-dir")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("addr") {
		cfg.HTTPAddr, _ = flags.GetString("addr")
	}
	if flags.Changed("front") {
		cfg.FrontDeviceID, _ = flags.GetInt("front")
	}
	if flags.Changed("rear") {
		cfg.RearDeviceID, _ = flags.GetInt("rear")
	}
	if flags.Changed("max-detect-fps") {
		cfg.MaxDetectFPS, _ = flags.GetFloat64("max-detect-fps")
	}
	if flags.Changed("face-cascade") {
		cfg.FaceCascade, _ = flags.GetString("face-cascade")
	}
	if flags.Changed("tray") {
		cfg.Tray, _ = flags.GetBool("tray")
	}
}

// findWebDir returns the first existing preview page directory, or "".
func findWebDir() string {
	for _, p := range []string{"web", "../web", "../../web"} {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}

	homeWebDir := filepath.Join(cfg.DataDir, "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}
	return ""
}
