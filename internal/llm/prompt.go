package llm

import (
	"fmt"
	"strings"

	"pkt.systems/termai/core"
	"pkt.systems/termai/schema"
)

// transcriptPromptTail bounds how many transcript entries travel with a
// prompt; older ones are summarized as a count.
const transcriptPromptTail = 20

const systemPrompt = `You are an AI agent operating a Unix terminal on the user's behalf.
You work in small steps: one shell command at a time, observing its
output before choosing the next. Respond with a single JSON object and
nothing else. Recognized fields: action, reason, goal, plan,
estimated_commands, step, command, tool, tool_args, done, summary,
checklist_item, progress_percent, on_track, should_adjust, new_approach,
is_stuck, should_stop.`

// BuildPrompt renders the system and user messages for a model step.
func BuildPrompt(req core.StepRequest) (system, user string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", req.Task)
	if req.Goal != "" {
		fmt.Fprintf(&b, "Goal: %s\n", req.Goal)
	}
	if len(req.Plan) > 0 {
		b.WriteString("Plan:\n")
		for i, step := range req.Plan {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, step)
		}
	}
	if req.Cwd != "" {
		fmt.Fprintf(&b, "Working directory: %s\n", req.Cwd)
	}
	writeTranscript(&b, req.Transcript)
	b.WriteString("\n")
	b.WriteString(phaseInstruction(req.Phase))
	return systemPrompt, b.String()
}

func writeTranscript(b *strings.Builder, transcript []core.TranscriptEntry) {
	if len(transcript) == 0 {
		return
	}
	tail := transcript
	if len(tail) > transcriptPromptTail {
		fmt.Fprintf(b, "(%d earlier commands omitted)\n", len(tail)-transcriptPromptTail)
		tail = tail[len(tail)-transcriptPromptTail:]
	}
	b.WriteString("Commands so far:\n")
	for _, entry := range tail {
		fmt.Fprintf(b, "$ %s\n", entry.Command)
		if entry.Output != "" {
			b.WriteString(entry.Output)
			if !strings.HasSuffix(entry.Output, "\n") {
				b.WriteString("\n")
			}
		}
		if entry.ExitCode != nil {
			fmt.Fprintf(b, "(exit %d)\n", *entry.ExitCode)
		}
	}
}

func phaseInstruction(phase schema.PhaseKind) string {
	switch phase {
	case schema.PhaseDeciding:
		return "Decide how to approach the task. For a multi-step task, set " +
			"\"goal\" and optionally \"plan\" and \"estimated_commands\". For a " +
			"one-shot task, set \"command\" directly. If no command is needed, " +
			"answer in \"reason\"."
	case schema.PhaseExecuting:
		return "Choose the next command as \"command\", or set \"done\": true " +
			"when the task is complete."
	case schema.PhaseReflecting:
		return "Review progress. Set \"on_track\", and if the approach must " +
			"change set \"should_adjust\" with \"new_approach\". Set " +
			"\"is_stuck\": true only if no progress is possible."
	case schema.PhaseVerifying:
		return "Verify the task outcome. If something is missing set the next " +
			"\"command\"; otherwise set \"done\": true and a short \"summary\"."
	case schema.PhaseSummarizing:
		return "Summarize what was done in \"summary\"."
	}
	return "Choose the next step."
}
