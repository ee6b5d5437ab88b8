package integrity

import (
	"bastion/core"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate(t *testing.T) {
	rec := core.FileBaseline{Baseline: "h0", Current: "h1"}

	tests := []struct {
		name   string
		digest string
		rec    core.FileBaseline
		found  bool
		want   State
	}{
		{"no record creates baseline", "h0", core.FileBaseline{}, false, Baselined},
		{"equals baseline", "h0", rec, true, Matching},
		{"equals last reported", "h1", rec, true, Matching},
		{"new content drifts", "h2", rec, true, Drifted},
		{"untouched file", "h0", core.FileBaseline{Baseline: "h0", Current: "h0"}, true, Matching},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.digest, tt.rec, tt.found))
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "unseen", Unseen.String())
	assert.Equal(t, "baselined", Baselined.String())
	assert.Equal(t, "matching", Matching.String())
	assert.Equal(t, "drifted", Drifted.String())
	assert.Equal(t, "unknown", State(42).String())
}
