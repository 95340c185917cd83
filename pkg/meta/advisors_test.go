package meta

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindburn-labs/grace/pkg/contracts"
)

func TestAnomalyScorer_ErrorSpikeRaisesConfidence(t *testing.T) {
	a := AnomalyScorer{}
	advice, err := a.Advise(context.Background(), contracts.FocusErrorSpike, map[string]any{"error_count": 42})
	require.NoError(t, err)
	assert.Equal(t, 0.8, advice.Confidence)
	assert.Contains(t, advice.Recommendations[0], "widen_error_sampling")
}

func TestRootCauseAdvisor_TrustViolationsEscalatesWithVolume(t *testing.T) {
	a := RootCauseAdvisor{}
	low, err := a.Advise(context.Background(), contracts.FocusTrustViolations, map[string]any{"trust_violation_count": 1})
	require.NoError(t, err)
	high, err := a.Advise(context.Background(), contracts.FocusTrustViolations, map[string]any{"trust_violation_count": 5})
	require.NoError(t, err)
	assert.Greater(t, high.Confidence, low.Confidence)
	assert.Contains(t, high.RootCauses, "coordinated_attack")
	assert.NotContains(t, low.RootCauses, "coordinated_attack")
}

func TestPlaybookRankerAdvisor_RoutineFallback(t *testing.T) {
	a := PlaybookRankerAdvisor{}
	advice, err := a.Advise(context.Background(), contracts.FocusRoutine, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"noop_observe"}, advice.PlaybookRankings)
}
