package main

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ayusman/duocam/internal/app"
	"github.com/ayusman/duocam/internal/logger"
	"github.com/ayusman/duocam/internal/tray"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start both cameras and serve the overlay",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp(cmd.Context())
	},
}

func init() {
	runCmd.Flags().String("addr", "", "HTTP listen address")
	runCmd.Flags().Int("front", 0, "OpenCV device index of the front camera")
	runCmd.Flags().Int("rear", 0, "OpenCV device index of the rear camera")
	runCmd.Flags().Float64("max-detect-fps", 0, "detection rate limit per stream, 0 for none")
	runCmd.Flags().String("face-cascade", "", "Haar cascade XML for face detection")
	runCmd.Flags().Bool("tray", false, "show a system tray icon")
	rootCmd.AddCommand(runCmd)
}

func runApp(ctx context.Context) error {
	log, err := logger.New(logger.Options{Level: cfg.LogLevel, Dir: cfg.LogDir})
	if err != nil {
		return err
	}

	a, err := app.New(app.Options{
		Config:    cfg,
		Logger:    log,
		StaticDir: findWebDir(),
	})
	if err != nil {
		return err
	}
	defer a.Close()

	if !cfg.Tray {
		return a.Run(ctx)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	t := tray.New()
	a.SetAlerter(t)
	a.Lifecycle().Subscribe(t.Observe)
	t.OnRestart(func() {
		if err := a.Lifecycle().Restart(ctx); err != nil {
			log.WithError(err).Warn("Restart from tray failed")
		}
	})
	t.OnPreview(func() { openBrowser(previewURL(cfg.HTTPAddr)) })
	t.OnQuit(cancel)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Run(ctx)
		t.Quit()
	}()

	// systray needs the main goroutine.
	t.Run()
	cancel()
	return <-errCh
}

func previewURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || strings.Contains(host, ":") {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%s/", host, port)
}

func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	cmd.Start()
}
