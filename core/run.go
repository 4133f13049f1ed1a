package core

import (
	"context"
	"errors"
	"strings"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/termai/schema"
)

// transcriptKeepTail is how many entries a context reduction keeps.
const transcriptKeepTail = 4

// maxContextReductions bounds how often one run may shrink its prompt.
const maxContextReductions = 3

// agentRun drives one task through the phase machine: decide, optionally
// set a goal and plan, execute commands, reflect periodically, verify,
// and summarize. Every model call goes through the recovery policy; the
// only suspension points are the network call and the cancellable
// backoff between retries.
type agentRun struct {
	id      schema.RunID
	task    string
	model   schema.ModelID
	cfg     schema.ServiceConfig
	session *session
	client  AgentClient
	locks   *fileLockTable
	logger  pslog.Logger
	sleep   func(ctx context.Context, d time.Duration) error

	goal       string
	plan       []string
	estimated  int
	transcript []TranscriptEntry
	reductions int
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *agentRun) setPhase(phase schema.Phase) error {
	return r.session.setPhase(r.id, phase)
}

// finish drives the machine to a terminal phase and then explicitly
// resets it to idle so the session can host the next run.
func (r *agentRun) finish(phase schema.Phase) {
	if err := r.setPhase(phase); err != nil {
		r.logger.Error("run finish transition rejected", "phase", phase.Kind, "err", err)
		return
	}
	if err := r.setPhase(schema.Phase{Kind: schema.PhaseIdle}); err != nil {
		r.logger.Error("run reset transition rejected", "err", err)
	}
}

func (r *agentRun) fail(reason string) {
	r.logger.Warn("run failed", "reason", reason)
	r.finish(schema.Phase{Kind: schema.PhaseFailed, Reason: reason})
}

func (r *agentRun) cancel() {
	r.logger.Info("run cancelled")
	r.finish(schema.Phase{Kind: schema.PhaseCancelled})
}

func (r *agentRun) notice(text string) {
	if r.session.sink != nil && text != "" {
		r.session.sink.OnNotice(schema.NoticeEvent{SessionID: r.session.id, RunID: r.id, Text: text})
	}
}

// execute runs the full loop. The context is the run's lifetime;
// cancelling it aborts any backoff in progress, drives the phase to
// cancelled, and leaves the capture state idle.
func (r *agentRun) execute(ctx context.Context) {
	if err := r.setPhase(schema.Phase{Kind: schema.PhaseStarting}); err != nil {
		r.logger.Error("run start rejected", "err", err)
		return
	}
	if ctx.Err() != nil {
		r.cancel()
		return
	}
	if err := r.setPhase(schema.Phase{Kind: schema.PhaseDeciding}); err != nil {
		r.fail(err.Error())
		return
	}

	resp, _, apiErr := r.step(ctx, schema.PhaseDeciding)
	if apiErr != nil {
		r.failFromAPIError(apiErr)
		return
	}

	command := ""
	if resp.HasCommand() {
		command = *resp.Command
	}
	switch {
	case resp.Goal != nil && *resp.Goal != "":
		if err := r.setPhase(schema.Phase{Kind: schema.PhaseSettingGoal}); err != nil {
			r.fail(err.Error())
			return
		}
		r.goal = *resp.Goal
		if len(resp.Plan) > 0 {
			if err := r.setPhase(schema.Phase{Kind: schema.PhasePlanning}); err != nil {
				r.fail(err.Error())
				return
			}
			r.plan = resp.Plan
			if resp.EstimatedCommands != nil {
				r.estimated = *resp.EstimatedCommands
			}
		}
	case command != "":
		// Direct path: the model already chose a command.
	default:
		// Direct reply with nothing to run: surface the text and finish.
		if err := r.setPhase(schema.Phase{Kind: schema.PhaseExecuting, Step: 1, EstimatedTotal: 0}); err != nil {
			r.fail(err.Error())
			return
		}
		if resp.Reason != nil {
			r.notice(*resp.Reason)
		}
		r.finish(schema.Phase{Kind: schema.PhaseCompleted})
		return
	}

	r.executeLoop(ctx, command, resp, 1)
}

func (r *agentRun) executeLoop(ctx context.Context, command string, cmdResp *schema.ParsedAgentResponse, startStep int) {
	executed := 0
	reflections := 0
	for step := startStep; ; step++ {
		if ctx.Err() != nil {
			r.cancel()
			return
		}
		if step > r.cfg.MaxSteps {
			r.fail("step budget exhausted")
			return
		}
		if err := r.setPhase(schema.Phase{Kind: schema.PhaseExecuting, Step: step, EstimatedTotal: r.estimated}); err != nil {
			r.fail(err.Error())
			return
		}

		if command == "" {
			resp, _, apiErr := r.step(ctx, schema.PhaseExecuting)
			if apiErr != nil {
				r.failFromAPIError(apiErr)
				return
			}
			cmdResp = resp
			if resp.IsDone() || (resp.ShouldStop != nil && *resp.ShouldStop) {
				r.verify(ctx, step)
				return
			}
			if !resp.HasCommand() {
				r.fail("model returned no runnable command")
				return
			}
			command = *resp.Command
		}

		if r.needsApproval(command) {
			approved, err := r.awaitApproval(ctx, step, command)
			if err != nil {
				r.cancel()
				return
			}
			if !approved {
				r.notice("command rejected: " + command)
				r.finish(schema.Phase{Kind: schema.PhaseCancelled})
				return
			}
		}
		if path := lockTarget(cmdResp); path != "" && r.locks.Held(path) {
			if err := r.awaitFileLock(ctx, step, path); err != nil {
				r.cancel()
				return
			}
		}

		cmdCtx, cancelCmd := context.WithTimeout(ctx, r.cfg.CommandTimeout)
		chunk, err := r.session.RunCommand(cmdCtx, command)
		cancelCmd()
		if err != nil {
			if ctx.Err() != nil {
				r.cancel()
				return
			}
			if errors.Is(err, context.DeadlineExceeded) {
				r.fail("command timed out after " + r.cfg.CommandTimeout.String() + ": " + command)
				return
			}
			r.fail("command failed: " + err.Error())
			return
		}
		r.transcript = append(r.transcript, TranscriptEntry{
			Command:  command,
			Output:   chunk.Cleaned,
			ExitCode: chunk.ExitCode,
		})
		executed++
		command = ""

		if r.cfg.ReflectEvery > 0 && executed%r.cfg.ReflectEvery == 0 {
			reflections++
			stop, err := r.reflect(ctx, reflections)
			if err != nil {
				if ctx.Err() != nil {
					r.cancel()
				} else {
					r.fail(err.Error())
				}
				return
			}
			if stop {
				return
			}
		}
	}
}

// reflect pauses the loop for a mid-run review. Returns stop=true when
// the run ended inside (stuck); the phase is already terminal then.
func (r *agentRun) reflect(ctx context.Context, iteration int) (bool, error) {
	if err := r.setPhase(schema.Phase{Kind: schema.PhaseReflecting, Iteration: iteration}); err != nil {
		return false, err
	}
	resp, _, apiErr := r.step(ctx, schema.PhaseReflecting)
	if apiErr != nil {
		r.failFromAPIError(apiErr)
		return true, nil
	}
	if resp.IsStuck != nil && *resp.IsStuck {
		r.fail("agent reported itself stuck")
		return true, nil
	}
	if resp.ShouldAdjust != nil && *resp.ShouldAdjust && resp.NewApproach != nil {
		r.notice("adjusting approach: " + *resp.NewApproach)
		r.goal = *resp.NewApproach
	}
	return false, nil
}

func (r *agentRun) verify(ctx context.Context, step int) {
	if err := r.setPhase(schema.Phase{Kind: schema.PhaseVerifying}); err != nil {
		r.fail(err.Error())
		return
	}
	resp, _, apiErr := r.step(ctx, schema.PhaseVerifying)
	if apiErr != nil {
		r.failFromAPIError(apiErr)
		return
	}
	if resp.HasCommand() && !resp.IsDone() {
		// Verification found loose ends; resume executing.
		r.executeLoop(ctx, *resp.Command, resp, step+1)
		return
	}
	if resp.IsDone() && resp.Summary != nil {
		r.notice(*resp.Summary)
		r.finish(schema.Phase{Kind: schema.PhaseCompleted})
		return
	}
	if err := r.setPhase(schema.Phase{Kind: schema.PhaseSummarizing}); err != nil {
		r.fail(err.Error())
		return
	}
	sres, raw, apiErr := r.step(ctx, schema.PhaseSummarizing)
	if apiErr != nil {
		r.failFromAPIError(apiErr)
		return
	}
	switch {
	case sres.Summary != nil:
		r.notice(*sres.Summary)
	default:
		r.notice(strings.TrimSpace(raw))
	}
	r.finish(schema.Phase{Kind: schema.PhaseCompleted})
}

func (r *agentRun) awaitApproval(ctx context.Context, step int, command string) (bool, error) {
	if err := r.setPhase(schema.Phase{Kind: schema.PhaseWaitingForApproval, Command: command}); err != nil {
		return false, err
	}
	approved, err := r.session.waitApproval(ctx)
	if err != nil {
		return false, err
	}
	if approved {
		if err := r.setPhase(schema.Phase{Kind: schema.PhaseExecuting, Step: step, EstimatedTotal: r.estimated}); err != nil {
			return false, err
		}
	}
	return approved, nil
}

func (r *agentRun) awaitFileLock(ctx context.Context, step int, path string) error {
	if err := r.setPhase(schema.Phase{Kind: schema.PhaseWaitingForFileLock, File: path}); err != nil {
		return err
	}
	if err := r.locks.Wait(ctx, path); err != nil {
		return err
	}
	return r.setPhase(schema.Phase{Kind: schema.PhaseExecuting, Step: step, EstimatedTotal: r.estimated})
}

func (r *agentRun) needsApproval(command string) bool {
	for _, pattern := range r.cfg.ApprovalPatterns {
		if pattern != "" && strings.Contains(command, pattern) {
			return true
		}
	}
	return false
}

// lockTarget extracts the file a tool invocation wants to modify.
func lockTarget(resp *schema.ParsedAgentResponse) string {
	if resp == nil || resp.Tool == nil {
		return ""
	}
	switch *resp.Tool {
	case "write_file", "edit_file", "append_file":
	default:
		return ""
	}
	path, _ := resp.ToolArgs["path"].(string)
	return path
}

func (r *agentRun) failFromAPIError(apiErr *AgentAPIError) {
	if apiErr.Kind == APIErrorCancelled {
		r.cancel()
		return
	}
	reason := apiErr.Error()
	if strategy := RecoveryFor(apiErr); strategy.Message != "" {
		reason = string(apiErr.Kind) + ": " + strategy.Message
	}
	r.fail(reason)
}

// step performs one model call with classified-error recovery. Transient
// failures retry with exponential backoff inside the strategy's budget;
// context reduction shrinks the transcript and retries; everything else
// is returned for the caller to surface.
func (r *agentRun) step(ctx context.Context, phase schema.PhaseKind) (*schema.ParsedAgentResponse, string, *AgentAPIError) {
	attempts := 0
	for {
		if ctx.Err() != nil {
			return nil, "", &AgentAPIError{Kind: APIErrorCancelled, Err: ctx.Err()}
		}
		res := r.client.Step(ctx, StepRequest{
			Phase:      phase,
			Task:       r.task,
			Goal:       r.goal,
			Plan:       r.plan,
			Cwd:        r.session.cwdValue(),
			Transcript: r.transcript,
			Model:      r.model,
		})
		apiErr := res.Err
		if apiErr == nil && res.Parsed == nil {
			kind := APIErrorMalformedResponse
			if strings.TrimSpace(res.Raw) == "" {
				kind = APIErrorEmptyResponse
			}
			apiErr = &AgentAPIError{Kind: kind, Body: res.Raw}
		}
		if apiErr == nil {
			return res.Parsed, res.Raw, nil
		}

		strategy := RecoveryFor(apiErr)
		switch strategy.Kind {
		case RecoverRetryWithBackoff:
			if !IsTransient(apiErr) || attempts >= strategy.MaxRetries || attempts >= r.cfg.MaxRetryAttempts {
				return nil, "", apiErr
			}
			delay := strategy.InitialDelay << attempts
			r.logger.Warn("model step retrying",
				"phase", phase, "kind", apiErr.Kind, "attempt", attempts+1, "delay", delay)
			if err := r.sleep(ctx, delay); err != nil {
				return nil, "", &AgentAPIError{Kind: APIErrorCancelled, Err: err}
			}
			attempts++
		case RecoverReduceContext:
			if !r.reduceTranscript() {
				return nil, "", apiErr
			}
			r.logger.Warn("model step reducing context", "phase", phase, "entries", len(r.transcript))
		default:
			return nil, "", apiErr
		}
	}
}

// reduceTranscript drops older transcript entries so the next attempt
// fits the model's context window. Bounded; returns false once minimal.
func (r *agentRun) reduceTranscript() bool {
	if r.reductions >= maxContextReductions || len(r.transcript) <= transcriptKeepTail {
		return false
	}
	r.reductions++
	keep := len(r.transcript) / 2
	if keep < transcriptKeepTail {
		keep = transcriptKeepTail
	}
	r.transcript = append([]TranscriptEntry(nil), r.transcript[len(r.transcript)-keep:]...)
	return true
}
