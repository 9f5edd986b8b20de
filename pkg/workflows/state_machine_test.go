package workflows

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestMachine() *StateMachine {
	return NewStateMachine(map[string][]string{
		"pending":     {"in_progress", "failed", "cancelled"},
		"in_progress": {"completed", "failed", "cancelled"},
		"completed":   {},
		"failed":      {},
		"cancelled":   {},
	})
}

func TestCanTransition(t *testing.T) {
	sm := newTestMachine()

	assert.True(t, sm.CanTransition("pending", "in_progress"))
	assert.True(t, sm.CanTransition("in_progress", "completed"))
	assert.False(t, sm.CanTransition("pending", "completed"))
	assert.False(t, sm.CanTransition("completed", "in_progress"))
	assert.False(t, sm.CanTransition("unknown", "pending"))
}

func TestIsTerminal(t *testing.T) {
	sm := newTestMachine()

	assert.True(t, sm.IsTerminal("completed"))
	assert.True(t, sm.IsTerminal("failed"))
	assert.True(t, sm.IsTerminal("cancelled"))
	assert.False(t, sm.IsTerminal("pending"))
	assert.True(t, sm.IsTerminal("never-seen"))
}

func TestGetAllowedTransitions(t *testing.T) {
	sm := newTestMachine()

	assert.ElementsMatch(t, []string{"in_progress", "failed", "cancelled"}, sm.GetAllowedTransitions("pending"))
	assert.Empty(t, sm.GetAllowedTransitions("completed"))
	assert.Empty(t, sm.GetAllowedTransitions("unknown"))
}
