package state

// Phase is the coarse-grained status of a session.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseProcessing Phase = "processing"
	PhaseWaiting    Phase = "waiting_for_input"
	PhaseCompacting Phase = "compacting"
	PhaseEnded      Phase = "ended"
)

// Hook event names as normalized by the notification transport.
const (
	EventSubmitPrompt = "beforeSubmitPrompt"
	EventPreToolUse   = "preToolUse"
	EventPostToolUse  = "postToolUse"
	EventStop         = "stop"
	EventSubagentStop = "subagentStop"
	EventSessionStart = "sessionStart"
	EventSessionEnd   = "sessionEnd"
	EventPreCompact   = "preCompact"
)

// Wire status values carried by hook notifications.
const (
	StatusProcessing  = "processing"
	StatusRunningTool = "running_tool"
	StatusWaiting     = "waiting_for_input"
	StatusCompacting  = "compacting"
	StatusEnded       = "ended"
)

// CanTransition reports whether a session may move from one phase to
// another. Ended is absorbing; any live phase may end; self-transitions
// are allowed. Rejected transitions are a no-op for the caller, never an
// error: stale hook bursts arrive out of order and availability wins over
// strict modeling.
func CanTransition(from, to Phase) bool {
	if from == to {
		return true
	}
	if from == PhaseEnded {
		return false
	}
	if to == PhaseEnded {
		return true
	}
	switch from {
	case PhaseIdle:
		return to == PhaseProcessing || to == PhaseCompacting
	case PhaseProcessing:
		return to == PhaseWaiting || to == PhaseCompacting || to == PhaseIdle
	case PhaseWaiting:
		return to == PhaseProcessing || to == PhaseIdle || to == PhaseCompacting
	case PhaseCompacting:
		return to == PhaseProcessing || to == PhaseIdle || to == PhaseWaiting
	default:
		return false
	}
}

// PhaseForNotification computes the target phase for a hook notification.
// A preCompact event always means compacting, regardless of the status
// string; otherwise the status maps directly, defaulting to idle.
func PhaseForNotification(event, status string) Phase {
	if event == EventPreCompact {
		return PhaseCompacting
	}
	switch status {
	case StatusProcessing, StatusRunningTool:
		return PhaseProcessing
	case StatusWaiting:
		return PhaseWaiting
	case StatusCompacting:
		return PhaseCompacting
	case StatusEnded:
		return PhaseEnded
	default:
		return PhaseIdle
	}
}
