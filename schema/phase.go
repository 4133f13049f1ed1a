package schema

// PhaseKind enumerates the states of one agent run.
type PhaseKind string

const (
	// PhaseIdle indicates no run is in progress.
	PhaseIdle PhaseKind = "idle"
	// PhaseStarting indicates a run is initializing.
	PhaseStarting PhaseKind = "starting"
	// PhaseDeciding indicates the model is choosing how to handle the task.
	PhaseDeciding PhaseKind = "deciding"
	// PhaseSettingGoal indicates the model is formulating the goal.
	PhaseSettingGoal PhaseKind = "setting_goal"
	// PhasePlanning indicates the model is producing a command plan.
	PhasePlanning PhaseKind = "planning"
	// PhaseExecuting indicates a command is being executed.
	PhaseExecuting PhaseKind = "executing"
	// PhaseReflecting indicates the model is reviewing progress mid-run.
	PhaseReflecting PhaseKind = "reflecting"
	// PhaseVerifying indicates the model is checking the outcome.
	PhaseVerifying PhaseKind = "verifying"
	// PhaseSummarizing indicates the model is writing the run summary.
	PhaseSummarizing PhaseKind = "summarizing"
	// PhaseCompleted indicates the run finished successfully.
	PhaseCompleted PhaseKind = "completed"
	// PhaseFailed indicates the run failed.
	PhaseFailed PhaseKind = "failed"
	// PhaseCancelled indicates the run was cancelled.
	PhaseCancelled PhaseKind = "cancelled"
	// PhaseWaitingForApproval indicates a command awaits user approval.
	PhaseWaitingForApproval PhaseKind = "waiting_for_approval"
	// PhaseWaitingForFileLock indicates a command awaits a file lock.
	PhaseWaitingForFileLock PhaseKind = "waiting_for_file_lock"
)

// Phase is the state of one agent run plus its state-specific payload.
// Step and EstimatedTotal accompany PhaseExecuting; EstimatedTotal == 0
// means unknown and consumers must render an unbounded indicator.
type Phase struct {
	Kind           PhaseKind `json:"kind"`
	Step           int       `json:"step,omitempty"`
	EstimatedTotal int       `json:"estimated_total,omitempty"`
	Iteration      int       `json:"iteration,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	Command        string    `json:"command,omitempty"`
	File           string    `json:"file,omitempty"`
}

// Terminal reports whether a run in this phase has ended.
func (k PhaseKind) Terminal() bool {
	switch k {
	case PhaseCompleted, PhaseFailed, PhaseCancelled:
		return true
	}
	return false
}

// phaseTransitions is the closed transition table. Edges not listed are
// rejected; the machine never reaches a state outside this table.
var phaseTransitions = map[PhaseKind][]PhaseKind{
	PhaseIdle:        {PhaseStarting},
	PhaseStarting:    {PhaseDeciding, PhaseFailed, PhaseCancelled},
	PhaseDeciding:    {PhaseSettingGoal, PhaseExecuting, PhaseFailed, PhaseCancelled},
	PhaseSettingGoal: {PhasePlanning, PhaseExecuting, PhaseFailed, PhaseCancelled},
	PhasePlanning:    {PhaseExecuting, PhaseFailed, PhaseCancelled},
	PhaseExecuting: {
		PhaseExecuting, PhaseReflecting, PhaseVerifying, PhaseSummarizing,
		PhaseWaitingForApproval, PhaseWaitingForFileLock,
		PhaseCompleted, PhaseFailed, PhaseCancelled,
	},
	PhaseReflecting:         {PhaseExecuting, PhaseFailed, PhaseCancelled},
	PhaseWaitingForApproval: {PhaseExecuting, PhaseCancelled},
	PhaseWaitingForFileLock: {PhaseExecuting, PhaseFailed, PhaseCancelled},
	PhaseVerifying:          {PhaseCompleted, PhaseSummarizing, PhaseExecuting, PhaseFailed, PhaseCancelled},
	PhaseSummarizing:        {PhaseCompleted, PhaseFailed, PhaseCancelled},
	PhaseCompleted:          {PhaseIdle},
	PhaseFailed:             {PhaseIdle},
	PhaseCancelled:          {PhaseIdle},
}

// CanTransition reports whether the transition table allows from -> to.
func CanTransition(from, to PhaseKind) bool {
	for _, next := range phaseTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PhaseKinds returns every phase kind in the table, for exhaustive checks.
func PhaseKinds() []PhaseKind {
	return []PhaseKind{
		PhaseIdle, PhaseStarting, PhaseDeciding, PhaseSettingGoal,
		PhasePlanning, PhaseExecuting, PhaseReflecting, PhaseVerifying,
		PhaseSummarizing, PhaseCompleted, PhaseFailed, PhaseCancelled,
		PhaseWaitingForApproval, PhaseWaitingForFileLock,
	}
}
