package data

import (
	"testing"

	"tokenrouter/cmd/token-router/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePolicySeeds(t *testing.T) {
	raw := []byte(`
policies:
  - level_id: free
    base_allocation: 100
    monthly_allocation: 500
    rollover_percent: 20
    monthly_cap: 1000
  - level_id: pro
    base_allocation: 1000
    monthly_allocation: 5000
    enforcement_mode: soft
    allocation_mode: weekly
    min_execution_reserve: 50
  - user_id: vip-1
    monthly_allocation: 100000
    allocation_mode: manual
`)

	policies, err := ParsePolicySeeds(raw)
	require.NoError(t, err)
	require.Len(t, policies, 3)

	free := policies[0]
	assert.Equal(t, "free", free.LevelID)
	assert.Equal(t, domain.AllocationMonthly, free.AllocationMode)
	assert.Equal(t, domain.EnforcementStrict, free.EnforcementMode)
	assert.Equal(t, int64(100), free.CarryCap())
	assert.Equal(t, 1, free.PriorityWeight)

	pro := policies[1]
	assert.True(t, pro.AllowsBorrowing())
	assert.Equal(t, domain.AllocationWeekly, pro.AllocationMode)
	assert.Equal(t, int64(50), pro.MinExecutionReserve)

	vip := policies[2]
	assert.Equal(t, "vip-1", vip.UserID)
	assert.Empty(t, vip.LevelID)
	assert.False(t, vip.IsPeriodic())
}

func TestParsePolicySeeds_Invalid(t *testing.T) {
	cases := map[string]string{
		"no scope":        "policies:\n  - monthly_allocation: 10\n",
		"bad percent":     "policies:\n  - level_id: a\n    rollover_percent: 150\n",
		"bad enforcement": "policies:\n  - level_id: a\n    enforcement_mode: lenient\n",
		"not yaml":        "policies: [",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePolicySeeds([]byte(raw))
			assert.Error(t, err)
		})
	}
}
