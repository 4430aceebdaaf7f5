package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Phase
		want     bool
	}{
		{PhaseIdle, PhaseIdle, true},
		{PhaseIdle, PhaseProcessing, true},
		{PhaseIdle, PhaseCompacting, true},
		{PhaseIdle, PhaseWaiting, false},
		{PhaseIdle, PhaseEnded, true},

		{PhaseProcessing, PhaseWaiting, true},
		{PhaseProcessing, PhaseCompacting, true},
		{PhaseProcessing, PhaseIdle, true},
		{PhaseProcessing, PhaseProcessing, true},
		{PhaseProcessing, PhaseEnded, true},

		{PhaseWaiting, PhaseProcessing, true},
		{PhaseWaiting, PhaseIdle, true},
		{PhaseWaiting, PhaseCompacting, true},
		{PhaseWaiting, PhaseEnded, true},

		{PhaseCompacting, PhaseProcessing, true},
		{PhaseCompacting, PhaseIdle, true},
		{PhaseCompacting, PhaseWaiting, true},
		{PhaseCompacting, PhaseEnded, true},

		{PhaseEnded, PhaseIdle, false},
		{PhaseEnded, PhaseProcessing, false},
		{PhaseEnded, PhaseWaiting, false},
		{PhaseEnded, PhaseCompacting, false},
		{PhaseEnded, PhaseEnded, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CanTransition(tc.from, tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestPhaseForNotification(t *testing.T) {
	assert.Equal(t, PhaseCompacting, PhaseForNotification(EventPreCompact, StatusProcessing))
	assert.Equal(t, PhaseProcessing, PhaseForNotification(EventSubmitPrompt, StatusProcessing))
	assert.Equal(t, PhaseProcessing, PhaseForNotification(EventPreToolUse, StatusRunningTool))
	assert.Equal(t, PhaseWaiting, PhaseForNotification(EventStop, StatusWaiting))
	assert.Equal(t, PhaseCompacting, PhaseForNotification(EventPostToolUse, StatusCompacting))
	assert.Equal(t, PhaseEnded, PhaseForNotification(EventSessionEnd, StatusEnded))
	assert.Equal(t, PhaseIdle, PhaseForNotification(EventStop, "bogus"))
	assert.Equal(t, PhaseIdle, PhaseForNotification(EventStop, ""))
}

func TestToolStatusTerminal(t *testing.T) {
	assert.False(t, ToolRunning.Terminal())
	assert.True(t, ToolSuccess.Terminal())
	assert.True(t, ToolError.Terminal())
	assert.True(t, ToolInterrupted.Terminal())
}
