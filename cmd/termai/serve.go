package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/termai"
	"pkt.systems/termai/core"
	"pkt.systems/termai/httpapi"
	"pkt.systems/termai/internal/appconfig"
	"pkt.systems/termai/internal/llm"
	"pkt.systems/termai/internal/persist"
	"pkt.systems/termai/internal/ptybridge"
	"pkt.systems/termai/schema"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the termai server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}

			keyEnv := cfg.APIKeyEnv()
			apiKey := os.Getenv(keyEnv)
			if apiKey == "" {
				logger.Warn("api key not set; agent runs will fail until it is", "env", keyEnv)
			}

			recorder, err := persist.NewRecorder(filepath.Join(cfg.StateDir, "runs"), logger)
			if err != nil {
				return err
			}

			serverCfg := termai.ServerConfig{
				Service: cfg.ServiceConfig(),
				HTTP: httpapi.Config{
					Addr:               cfg.HTTP.Addr,
					BasePath:           cfg.HTTP.BasePath,
					InitialBufferLines: cfg.HTTP.InitialBufferLines,
				},
				HubHistory: 1000,
			}
			serverDeps := termai.ServerDeps{
				ServiceDeps: core.ServiceDeps{
					Bridges: ptybridge.NewProvider(ptybridge.Config{
						Shell:        cfg.Terminal.Shell,
						Term:         cfg.Terminal.Term,
						Cols:         cfg.Terminal.Cols,
						Rows:         cfg.Terminal.Rows,
						CloseTimeout: time.Duration(cfg.Terminal.CloseTimeoutSecs) * time.Second,
						Logger:       logger,
					}),
					Client: llm.New(llm.Config{
						Provider:  schema.ProviderID(cfg.Models.Provider),
						BaseURL:   cfg.API.BaseURL,
						APIKey:    apiKey,
						MaxTokens: cfg.API.MaxTokens,
						Timeout:   time.Duration(cfg.API.TimeoutSeconds) * time.Second,
						Logger:    logger,
					}),
					EventSink: recorder,
					Logger:    logger,
				},
			}
			server, err := termai.New(serverCfg, serverDeps, termai.WithHTTP())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Stop(stopCtx); err != nil {
					logger.Warn("server stop failed", "err", err)
				}
			}()
			logger.Info("http server listening", "addr", serverCfg.HTTP.Addr)
			if err := server.Start(ctx); err != nil {
				return err
			}
			return server.Wait()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	return cmd
}
