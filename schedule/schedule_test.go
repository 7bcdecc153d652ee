package schedule

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	for _, name := range Names {
		s, err := Parse(name, 2, 10, 0)
		require.NoError(t, err, name)
		assert.Equal(t, name, s.Name())
	}

	s, err := Parse(NameCosine, 0, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultCosineCycles, s.(Cosine).Cycles)
	s, err = Parse(NameCosineWithHardRestarts, 0, 10, 3)
	require.NoError(t, err)
	assert.Equal(t, 3.0, s.(CosineWithHardRestarts).Cycles)

	_, err = Parse("cosine_with_hard_resets", 0, 10, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownSchedule))
	_, err = Parse(NameLinear, -1, 10, 0)
	assert.Error(t, err)
}

func TestMultipliers(t *testing.T) {
	testCases := []struct {
		name     string
		schedule Schedule
		step     int
		want     float64
	}{
		{"constant warmup", Constant{WarmupSteps: 4}, 1, 0.25},
		{"constant after warmup", Constant{WarmupSteps: 4}, 100, 1},
		{"constant no warmup", Constant{}, 0, 1},
		{"linear warmup", Linear{WarmupSteps: 2, TotalSteps: 10}, 1, 0.5},
		{"linear peak", Linear{WarmupSteps: 2, TotalSteps: 10}, 2, 1},
		{"linear middle", Linear{WarmupSteps: 2, TotalSteps: 10}, 6, 0.5},
		{"linear end", Linear{WarmupSteps: 2, TotalSteps: 10}, 10, 0},
		{"linear past end", Linear{WarmupSteps: 2, TotalSteps: 10}, 12, 0},
		{"cosine peak", Cosine{TotalSteps: 10, Cycles: 0.5}, 0, 1},
		{"cosine middle", Cosine{TotalSteps: 10, Cycles: 0.5}, 5, 0.5},
		{"cosine end", Cosine{TotalSteps: 10, Cycles: 0.5}, 10, 0},
		{"restarts first half", CosineWithHardRestarts{TotalSteps: 8, Cycles: 2}, 2, 0.5},
		{"restarts restart", CosineWithHardRestarts{TotalSteps: 8, Cycles: 2}, 4, 1},
		{"restarts end", CosineWithHardRestarts{TotalSteps: 8, Cycles: 2}, 8, 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, tc.schedule.Multiplier(tc.step), 1e-9)
		})
	}
}

func TestLearningRate(t *testing.T) {
	s, err := Parse(NameLinear, StepsFromEpochs(1, 5), StepsFromEpochs(3, 5), 0)
	require.NoError(t, err)
	assert.InDelta(t, 3e-5*0.4, LearningRate(s, 3e-5, 2), 1e-12)
	assert.InDelta(t, 3e-5, LearningRate(s, 3e-5, 5), 1e-12)
}
