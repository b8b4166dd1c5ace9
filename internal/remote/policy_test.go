package remote

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarkerPolicy_Evaluate(t *testing.T) {
	policy := NewMarkerPolicy()

	tests := []struct {
		name   string
		result *Result
		ok     bool
	}{
		{name: "Clean output", result: &Result{Combined: "Account alice created\nExpired: 2024-05-06"}, ok: true},
		{name: "Non-zero exit", result: &Result{ExitCode: 1, Combined: "done"}},
		{name: "Permission denied", result: &Result{ExitCode: 1, Combined: "Permission Denied"}},
		{name: "Marker with zero exit", result: &Result{Combined: "user already exists: ERROR"}},
		{name: "Command not found", result: &Result{Combined: "bash: bot-addssh: command not found"}},
		{name: "Missing result", result: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := policy.Evaluate(tt.result)
			assert.Equal(t, tt.ok, verdict.OK)
			if !tt.ok {
				assert.NotEmpty(t, verdict.Reason)
			}
		})
	}
}

func TestMarkerPolicy_CustomMarkers(t *testing.T) {
	policy := NewMarkerPolicy("Duplicate")

	assert.False(t, policy.Evaluate(&Result{Combined: "duplicate user"}).OK)
	assert.True(t, policy.Evaluate(&Result{Combined: "error"}).OK)
}
