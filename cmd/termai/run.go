package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"pkt.systems/pslog"
	"pkt.systems/termai"
	"pkt.systems/termai/core"
	"pkt.systems/termai/internal/appconfig"
	"pkt.systems/termai/internal/eventbus"
	"pkt.systems/termai/internal/llm"
	"pkt.systems/termai/internal/persist"
	"pkt.systems/termai/internal/ptybridge"
	"pkt.systems/termai/schema"
)

func newRunCmd() *cobra.Command {
	var cfgPath string
	var model string
	var yes bool
	cmd := &cobra.Command{
		Use:   "run [task...]",
		Short: "Run one agent task in a local terminal session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task := strings.TrimSpace(strings.Join(args, " "))
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			keyEnv := cfg.APIKeyEnv()
			apiKey := os.Getenv(keyEnv)
			if apiKey == "" {
				return fmt.Errorf("api key environment variable %s is not set", keyEnv)
			}

			recorder, err := persist.NewRecorder(filepath.Join(cfg.StateDir, "runs"), logger)
			if err != nil {
				return err
			}
			server, err := termai.New(termai.ServerConfig{Service: cfg.ServiceConfig()}, termai.ServerDeps{
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
			})
			if err != nil {
				return err
			}
			service := server.Service()
			bus := server.Bus()
			defer func() { _ = service.Close() }()

			ctx := cmd.Context()
			created, err := service.CreateSession(ctx, schema.CreateSessionRequest{
				Cols: cfg.Terminal.Cols,
				Rows: cfg.Terminal.Rows,
			})
			if err != nil {
				return err
			}
			sessionID := created.Session.ID

			events, unsubscribe := bus.Subscribe(sessionID)
			defer unsubscribe()

			started, err := service.StartRun(ctx, schema.StartRunRequest{
				SessionID: sessionID,
				Task:      task,
				Model:     schema.ModelID(model),
			})
			if err != nil {
				return err
			}
			logger.Info("run started", "session", sessionID, "run", started.RunID)

			out := cmd.OutOrStdout()
			interactive := term.IsTerminal(int(os.Stdout.Fd()))
			for {
				select {
				case <-ctx.Done():
					_ = service.CancelRun(ctx, schema.CancelRunRequest{SessionID: sessionID})
					return ctx.Err()
				case event, ok := <-events:
					if !ok {
						return errors.New("session closed before run finished")
					}
					switch event.Type {
					case eventbus.EventPhase:
						phase := event.Phase.Phase
						if interactive {
							renderPhase(out, phase)
						}
						if phase.Kind.Terminal() {
							if phase.Kind == schema.PhaseFailed {
								return fmt.Errorf("run failed: %s", phase.Reason)
							}
							return nil
						}
						if phase.Kind == schema.PhaseWaitingForApproval {
							approved := yes
							if !yes && interactive {
								fmt.Fprintf(out, "approve command %q? [y/N]: ", phase.Command)
								approved = askYesNo(os.Stdin)
							} else if !yes {
								fmt.Fprintf(out, "approval required for %q; rejecting (re-run with --yes to auto-approve)\n", phase.Command)
							}
							if err := service.Approve(ctx, schema.ApproveRequest{
								SessionID: sessionID,
								Approved:  approved,
							}); err != nil {
								return err
							}
						}
					case eventbus.EventOutput:
						fmt.Fprintf(out, "$ %s\n", event.Output.Command)
						if cleaned := event.Output.Chunk.Cleaned; cleaned != "" {
							fmt.Fprintln(out, cleaned)
						}
						if code := event.Output.Chunk.ExitCode; code != nil && *code != 0 {
							fmt.Fprintf(out, "(exit %d)\n", *code)
						}
					case eventbus.EventNotice:
						fmt.Fprintln(out, event.Notice.Text)
					case eventbus.EventCwd:
						if interactive {
							fmt.Fprintf(out, "cwd: %s\n", event.Cwd.Cwd)
						}
					}
				}
			}
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVarP(&model, "model", "m", "", "model to use for this run")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "auto-approve gated commands")
	return cmd
}

func askYesNo(in io.Reader) bool {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

func renderPhase(out io.Writer, phase schema.Phase) {
	switch phase.Kind {
	case schema.PhaseExecuting:
		if phase.EstimatedTotal > 0 {
			fmt.Fprintf(out, "[%s %d/%d]\n", phase.Kind, phase.Step, phase.EstimatedTotal)
		} else {
			fmt.Fprintf(out, "[%s %d]\n", phase.Kind, phase.Step)
		}
	case schema.PhaseIdle:
	default:
		fmt.Fprintf(out, "[%s]\n", phase.Kind)
	}
}
