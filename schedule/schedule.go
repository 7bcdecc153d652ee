// Package schedule implements learning-rate schedules with a linear warmup.
//
// A Schedule returns a multiplier in [0, 1] of the maximum learning rate for each training step:
//
//	sched, err := schedule.Parse("cosine", warmupSteps, totalSteps, 0)
//	lr := schedule.LearningRate(sched, 3e-5, step)
package schedule

import (
	"math"

	"github.com/pkg/errors"
)

// ErrUnknownSchedule is returned by Parse for an unsupported schedule name.
var ErrUnknownSchedule = errors.New("unknown learning rate schedule")

// Schedule names accepted by Parse.
const (
	NameConstant               = "constant"
	NameLinear                 = "linear"
	NameCosine                 = "cosine"
	NameCosineWithHardRestarts = "cosine_with_hard_restarts"
)

// Names lists the supported schedules.
var Names = []string{NameConstant, NameLinear, NameCosine, NameCosineWithHardRestarts}

// Schedule is one of Constant, Linear, Cosine or CosineWithHardRestarts.
type Schedule interface {
	// Multiplier of the maximum learning rate at step (0-based).
	Multiplier(step int) float64

	// Name of the schedule, as accepted by Parse.
	Name() string

	isSchedule()
}

// warmup returns the multiplier during the first warmupSteps steps, and whether step is in the warmup.
func warmup(step, warmupSteps int) (float64, bool) {
	if step < warmupSteps {
		return float64(step) / float64(max(1, warmupSteps)), true
	}
	return 0, false
}

// progress returns the fraction of the post-warmup steps done.
func progress(step, warmupSteps, totalSteps int) float64 {
	return float64(step-warmupSteps) / float64(max(1, totalSteps-warmupSteps))
}

// Constant warms up linearly, then keeps the maximum learning rate.
type Constant struct {
	WarmupSteps int
}

func (s Constant) Multiplier(step int) float64 {
	if m, ok := warmup(step, s.WarmupSteps); ok {
		return m
	}
	return 1
}

func (Constant) Name() string { return NameConstant }
func (Constant) isSchedule()  {}

// Linear warms up linearly, then decays linearly to 0 at TotalSteps.
type Linear struct {
	WarmupSteps, TotalSteps int
}

func (s Linear) Multiplier(step int) float64 {
	if m, ok := warmup(step, s.WarmupSteps); ok {
		return m
	}
	return max(0, float64(s.TotalSteps-step)/float64(max(1, s.TotalSteps-s.WarmupSteps)))
}

func (Linear) Name() string { return NameLinear }
func (Linear) isSchedule()  {}

// DefaultCosineCycles is a half cosine wave, from 1 down to 0.
const DefaultCosineCycles = 0.5

// Cosine warms up linearly, then follows Cycles cosine waves down to 0 at TotalSteps.
type Cosine struct {
	WarmupSteps, TotalSteps int
	Cycles                  float64
}

func (s Cosine) Multiplier(step int) float64 {
	if m, ok := warmup(step, s.WarmupSteps); ok {
		return m
	}
	p := progress(step, s.WarmupSteps, s.TotalSteps)
	return max(0, 0.5*(1+math.Cos(math.Pi*s.Cycles*2*p)))
}

func (Cosine) Name() string { return NameCosine }
func (Cosine) isSchedule()  {}

// DefaultHardRestartCycles is the default number of restarts.
const DefaultHardRestartCycles = 1.0

// CosineWithHardRestarts warms up linearly, then follows Cycles half cosine waves from 1 down to 0,
// jumping back to 1 at the start of each; it is 0 from TotalSteps on.
type CosineWithHardRestarts struct {
	WarmupSteps, TotalSteps int
	Cycles                  float64
}

func (s CosineWithHardRestarts) Multiplier(step int) float64 {
	if m, ok := warmup(step, s.WarmupSteps); ok {
		return m
	}
	p := progress(step, s.WarmupSteps, s.TotalSteps)
	if p >= 1 {
		return 0
	}
	return max(0, 0.5*(1+math.Cos(math.Pi*math.Mod(s.Cycles*p, 1))))
}

func (CosineWithHardRestarts) Name() string { return NameCosineWithHardRestarts }
func (CosineWithHardRestarts) isSchedule()  {}

// Parse creates the named schedule. cycles is only used by the cosine schedules; 0 selects their default.
func Parse(name string, warmupSteps, totalSteps int, cycles float64) (Schedule, error) {
	if warmupSteps < 0 || totalSteps < 0 {
		return nil, errors.Errorf("invalid schedule steps: warmup=%d, total=%d", warmupSteps, totalSteps)
	}
	switch name {
	case NameConstant:
		return Constant{WarmupSteps: warmupSteps}, nil
	case NameLinear:
		return Linear{WarmupSteps: warmupSteps, TotalSteps: totalSteps}, nil
	case NameCosine:
		if cycles == 0 {
			cycles = DefaultCosineCycles
		}
		return Cosine{WarmupSteps: warmupSteps, TotalSteps: totalSteps, Cycles: cycles}, nil
	case NameCosineWithHardRestarts:
		if cycles == 0 {
			cycles = DefaultHardRestartCycles
		}
		return CosineWithHardRestarts{WarmupSteps: warmupSteps, TotalSteps: totalSteps, Cycles: cycles}, nil
	}
	return nil, errors.Wrapf(ErrUnknownSchedule, "%q (known: %v)", name, Names)
}

// StepsFromEpochs converts a number of epochs into steps, for the warmup and total steps given to Parse.
func StepsFromEpochs(epochs, stepsPerEpoch int) int {
	return epochs * stepsPerEpoch
}

// LearningRate returns lrMax scaled by the schedule's multiplier at step.
func LearningRate(s Schedule, lrMax float64, step int) float64 {
	return lrMax * s.Multiplier(step)
}
