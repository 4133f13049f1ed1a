package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"pkt.systems/pslog"
	"pkt.systems/termai/core"
	"pkt.systems/termai/internal/appconfig"
	"pkt.systems/termai/internal/ptybridge"
	"pkt.systems/termai/schema"
)

func newDoctorCmd() *cobra.Command {
	var cfgPath string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run termai diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())

			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			configPath := cfgPath
			if strings.TrimSpace(configPath) == "" {
				path, err := appconfig.DefaultConfigPath()
				if err != nil {
					return err
				}
				configPath = path
			}
			logger.Info("doctor start", "config", configPath)

			shell, err := exec.LookPath(cfg.Terminal.Shell)
			if err != nil {
				return fmt.Errorf("shell %q not found: %w", cfg.Terminal.Shell, err)
			}
			logger.Info("doctor shell ok", "shell", shell)

			if err := verifyStateDir(cfg.StateDir); err != nil {
				return err
			}
			logger.Info("doctor state dir ok", "dir", cfg.StateDir)

			keyEnv := cfg.APIKeyEnv()
			if os.Getenv(keyEnv) == "" {
				logger.Warn("doctor api key missing", "env", keyEnv)
			} else {
				logger.Info("doctor api key ok", "env", keyEnv)
			}

			if term.IsTerminal(int(os.Stdin.Fd())) {
				logger.Info("doctor terminal ok", "term", cfg.Terminal.Term)
			} else {
				logger.Warn("doctor stdin is not a terminal")
			}

			if err := verifyCapture(cmd.Context(), cfg, logger, timeout); err != nil {
				return err
			}
			logger.Info("doctor capture ok")

			logger.Info("doctor ok")
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "capture check timeout")
	return cmd
}

func verifyStateDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("state_dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("state dir: %w", err)
	}
	probe := filepath.Join(dir, fmt.Sprintf(".doctor-%d", time.Now().UnixNano()))
	if err := os.WriteFile(probe, []byte("ok\n"), 0o600); err != nil {
		return fmt.Errorf("state dir not writable: %w", err)
	}
	return os.Remove(probe)
}

// verifyCapture opens a real shell session and round-trips one command
// through the output capture pipeline.
func verifyCapture(ctx context.Context, cfg appconfig.Config, logger pslog.Logger, timeout time.Duration) error {
	service, err := core.NewService(cfg.ServiceConfig(), core.ServiceDeps{
		Bridges: ptybridge.NewProvider(ptybridge.Config{
			Shell:        cfg.Terminal.Shell,
			Term:         cfg.Terminal.Term,
			Cols:         cfg.Terminal.Cols,
			Rows:         cfg.Terminal.Rows,
			CloseTimeout: time.Duration(cfg.Terminal.CloseTimeoutSecs) * time.Second,
			Logger:       logger,
		}),
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer func() { _ = service.Close() }()

	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	created, err := service.CreateSession(checkCtx, schema.CreateSessionRequest{
		Cols: cfg.Terminal.Cols,
		Rows: cfg.Terminal.Rows,
	})
	if err != nil {
		return fmt.Errorf("doctor capture failed (session): %w", err)
	}

	chunk, err := service.RunCommand(checkCtx, core.RunCommandRequest{
		SessionID: created.Session.ID,
		Command:   "printf termai-doctor",
	})
	if err != nil {
		return fmt.Errorf("doctor capture failed (command): %w", err)
	}
	if chunk.ExitCode == nil || *chunk.ExitCode != 0 {
		return fmt.Errorf("doctor capture failed (exit): %+v", chunk.ExitCode)
	}
	if !strings.Contains(chunk.Cleaned, "termai-doctor") {
		return fmt.Errorf("doctor capture failed (output): %q", chunk.Cleaned)
	}
	return nil
}
