package profiles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlan(t *testing.T) {
	tests := []struct {
		input   string
		want    Plan
		wantErr bool
	}{
		{"free", PlanFree, false},
		{"pro", PlanPro, false},
		{"", "", true},
		{"Pro", "", true},
		{"platinum", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			plan, err := ParsePlan(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, plan)
		})
	}
}
