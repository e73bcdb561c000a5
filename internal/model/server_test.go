package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidAgentTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{AgentStatusUnspecified, AgentStatusInstalling, true},
		{AgentStatusFailed, AgentStatusInstalling, true},
		{AgentStatusInstalling, AgentStatusConfiguring, true},
		{AgentStatusInstalling, AgentStatusFailed, true},
		{AgentStatusConfiguring, AgentStatusFinalizingSetup, true},
		{AgentStatusConfiguring, AgentStatusFailed, true},
		{AgentStatusFinalizingSetup, AgentStatusSuccess, true},
		{AgentStatusFinalizingSetup, AgentStatusFailed, true},

		// success is terminal
		{AgentStatusSuccess, AgentStatusInstalling, false},
		{AgentStatusSuccess, AgentStatusFailed, false},

		// no stage skipping
		{AgentStatusUnspecified, AgentStatusConfiguring, false},
		{AgentStatusInstalling, AgentStatusSuccess, false},
		{AgentStatusUnspecified, AgentStatusSuccess, false},

		// failed only restarts via installing
		{AgentStatusFailed, AgentStatusConfiguring, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidAgentTransition(tt.from, tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestServerPing_Success(t *testing.T) {
	ok := &ServerPing{Status: PingStatusOK, ResponseTime: 12}
	failed := &ServerPing{Status: PingStatusError}

	assert.True(t, ok.Success())
	assert.False(t, failed.Success())
}
